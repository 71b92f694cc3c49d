package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Stream struct {
		AccountID      string `yaml:"account_id"`
		Name           string `yaml:"name"`
		SubscribeToken string `yaml:"subscribe_token"`
	} `yaml:"stream"`

	Director struct {
		Enabled bool          `yaml:"enabled"`
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"director"`

	Signal struct {
		URL              string        `yaml:"url"`
		Dialect          string        `yaml:"dialect"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		MaxMessageBytes  int64         `yaml:"max_message_bytes"`
		CommandsPerSec   float64       `yaml:"commands_per_second"`
		Events           []string      `yaml:"events"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		VideoCodecs          []string      `yaml:"video_codecs"`
		AudioCodecs          []string      `yaml:"audio_codecs"`
		Stereo               bool          `yaml:"stereo"`
		BandwidthCeilingKbps int           `yaml:"bandwidth_ceiling_kbps"`
		NegotiationTimeout   time.Duration `yaml:"negotiation_timeout"`
		FirstFrameTimeout    time.Duration `yaml:"first_frame_timeout"`
		KeyframeInterval     time.Duration `yaml:"keyframe_request_interval"`
		Layer                struct {
			EncodingID string `yaml:"encoding_id"`
			MaxHeight  int    `yaml:"max_height"`
		} `yaml:"layer"`
	} `yaml:"webrtc"`

	Reconnect struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		BaseInterval time.Duration `yaml:"base_interval"`
		MaxInterval  time.Duration `yaml:"max_interval"`
		Multiplier   float64       `yaml:"multiplier"`
		Jitter       bool          `yaml:"jitter"`
	} `yaml:"reconnect"`

	Pipeline struct {
		AudioSampleRate  int           `yaml:"audio_sample_rate"`
		AudioChannels    int           `yaml:"audio_channels"`
		AudioHighWater   time.Duration `yaml:"audio_high_water"`
		PixelFormat      string        `yaml:"pixel_format"`
		VideoQueueDepth  int           `yaml:"video_queue_depth"`
		ReorderWindow    uint16        `yaml:"reorder_window"`
		UnderrunInterval time.Duration `yaml:"underrun_interval"`
	} `yaml:"pipeline"`

	Health struct {
		StatsInterval   time.Duration `yaml:"stats_interval"`
		LossThreshold   float64       `yaml:"loss_threshold_percent"`
		DegradedSamples int           `yaml:"degraded_samples"`
		FreezeThreshold time.Duration `yaml:"freeze_threshold"`
	} `yaml:"health"`

	Admin struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// Token guards mutating admin routes. Empty leaves them open.
		Token     string `yaml:"token"`
		RateLimit struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Recorder struct {
		AudioPath string `yaml:"audio_path"`
		VideoPath string `yaml:"video_path"`
	} `yaml:"recorder"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Stream
	if c.Stream.Name == "" {
		return fmt.Errorf("stream.name must not be empty")
	}
	if c.Director.Enabled {
		if c.Director.URL == "" {
			return fmt.Errorf("director.url must not be empty when director.enabled=true")
		}
		if c.Stream.AccountID == "" {
			return fmt.Errorf("stream.account_id must not be empty when director.enabled=true")
		}
		if c.Director.Timeout <= 0 {
			return fmt.Errorf("director.timeout must be > 0")
		}
	} else if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty when director is disabled")
	}

	// Signal
	if c.Signal.Dialect != "subscribe" && c.Signal.Dialect != "view" {
		return fmt.Errorf("signal.dialect must be one of subscribe, view")
	}
	if c.Signal.HandshakeTimeout <= 0 {
		return fmt.Errorf("signal.handshake_timeout must be > 0")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.CommandsPerSec <= 0 {
		return fmt.Errorf("signal.commands_per_second must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if len(c.WebRTC.VideoCodecs) == 0 && len(c.WebRTC.AudioCodecs) == 0 {
		return fmt.Errorf("webrtc.video_codecs and webrtc.audio_codecs must not both be empty")
	}
	if c.WebRTC.BandwidthCeilingKbps < 0 {
		return fmt.Errorf("webrtc.bandwidth_ceiling_kbps must be >= 0")
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be > 0")
	}
	if c.WebRTC.FirstFrameTimeout <= 0 {
		return fmt.Errorf("webrtc.first_frame_timeout must be > 0")
	}

	// Reconnect
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.BaseInterval <= 0 {
		return fmt.Errorf("reconnect.base_interval must be > 0")
	}
	if c.Reconnect.MaxInterval < c.Reconnect.BaseInterval {
		return fmt.Errorf("reconnect.max_interval must be >= reconnect.base_interval")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	}

	// Pipeline
	if c.Pipeline.AudioSampleRate <= 0 {
		return fmt.Errorf("pipeline.audio_sample_rate must be > 0")
	}
	if c.Pipeline.AudioChannels != 1 && c.Pipeline.AudioChannels != 2 {
		return fmt.Errorf("pipeline.audio_channels must be 1 or 2")
	}
	switch c.Pipeline.PixelFormat {
	case "i420", "rgba", "bgra":
	default:
		return fmt.Errorf("pipeline.pixel_format must be one of i420, rgba, bgra")
	}
	if c.Pipeline.VideoQueueDepth <= 0 {
		return fmt.Errorf("pipeline.video_queue_depth must be > 0")
	}
	if c.Pipeline.ReorderWindow == 0 {
		return fmt.Errorf("pipeline.reorder_window must be > 0")
	}

	// Health
	if c.Health.StatsInterval <= 0 {
		return fmt.Errorf("health.stats_interval must be > 0")
	}
	if c.Health.LossThreshold <= 0 || c.Health.LossThreshold > 100 {
		return fmt.Errorf("health.loss_threshold_percent must be in (0, 100]")
	}
	if c.Health.DegradedSamples <= 0 {
		return fmt.Errorf("health.degraded_samples must be > 0")
	}

	// Admin
	if c.Admin.Enabled && c.Admin.Address == "" {
		return fmt.Errorf("admin.address must not be empty when admin.enabled=true")
	}
	if c.Admin.RateLimit.Enabled {
		if c.Admin.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("admin.rate_limit.requests_per_second must be > 0")
		}
		if c.Admin.RateLimit.Burst <= 0 {
			return fmt.Errorf("admin.rate_limit.burst must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// Validation is left to the caller when the file is missing, since flags may
// still fill required fields.
func Load(configPath string) (*Config, error) {
	cfg, found, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if found {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, for callers that layer more
// overrides on top before calling Validate themselves.
func LoadUnvalidated(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

func load(configPath string) (*Config, bool, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, false, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, true, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Director.Enabled = false
	cfg.Director.Timeout = 10 * time.Second
	cfg.Director.Breaker.FailureThreshold = 5
	cfg.Director.Breaker.OpenTimeout = 30 * time.Second

	cfg.Signal.Dialect = "subscribe"
	cfg.Signal.HandshakeTimeout = 10 * time.Second
	cfg.Signal.WriteTimeout = 5 * time.Second
	cfg.Signal.PingInterval = 20 * time.Second
	cfg.Signal.PongTimeout = 45 * time.Second
	cfg.Signal.MaxMessageBytes = 256 * 1024
	cfg.Signal.CommandsPerSec = 5
	cfg.Signal.Events = []string{"active", "inactive", "stopped", "vad", "layers", "viewercount", "migrate"}

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.WebRTC.VideoCodecs = []string{"vp8", "h264", "vp9"}
	// G.711 first: the bundled decoders cover it, Opus needs a host decoder
	cfg.WebRTC.AudioCodecs = []string{"pcmu", "pcma", "opus"}
	cfg.WebRTC.Stereo = true
	cfg.WebRTC.NegotiationTimeout = 30 * time.Second
	cfg.WebRTC.FirstFrameTimeout = 10 * time.Second
	cfg.WebRTC.KeyframeInterval = 500 * time.Millisecond

	cfg.Reconnect.MaxAttempts = 10
	cfg.Reconnect.BaseInterval = 1 * time.Second
	cfg.Reconnect.MaxInterval = 30 * time.Second
	cfg.Reconnect.Multiplier = 2.0
	cfg.Reconnect.Jitter = true

	cfg.Pipeline.AudioSampleRate = 48000
	cfg.Pipeline.AudioChannels = 2
	cfg.Pipeline.AudioHighWater = 500 * time.Millisecond
	cfg.Pipeline.PixelFormat = "i420"
	cfg.Pipeline.VideoQueueDepth = 8
	cfg.Pipeline.ReorderWindow = 128
	cfg.Pipeline.UnderrunInterval = 100 * time.Millisecond

	cfg.Health.StatsInterval = 1 * time.Second
	cfg.Health.LossThreshold = 10
	cfg.Health.DegradedSamples = 5
	cfg.Health.FreezeThreshold = 3 * time.Second

	cfg.Admin.Enabled = true
	cfg.Admin.Address = "127.0.0.1:8090"
	cfg.Admin.ShutdownTimeout = 5 * time.Second
	cfg.Admin.RateLimit.Enabled = true
	cfg.Admin.RateLimit.RequestsPerSecond = 10
	cfg.Admin.RateLimit.Burst = 20
	cfg.Admin.RateLimit.MaxConcurrent = 16

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 4
	cfg.Redis.Channel = "rillview:stats"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if v := os.Getenv("RILLVIEW_STREAM_NAME"); v != "" {
		c.Stream.Name = v
	}
	if v := os.Getenv("RILLVIEW_ACCOUNT_ID"); v != "" {
		c.Stream.AccountID = v
	}
	if v := os.Getenv("RILLVIEW_SUBSCRIBE_TOKEN"); v != "" {
		c.Stream.SubscribeToken = v
	}
	if v := os.Getenv("RILLVIEW_SIGNAL_URL"); v != "" {
		c.Signal.URL = v
	}
	if v := os.Getenv("RILLVIEW_DIRECTOR_URL"); v != "" {
		c.Director.URL = v
		c.Director.Enabled = true
	}
	if v := os.Getenv("RILLVIEW_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("RILLVIEW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RILLVIEW_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reconnect.MaxAttempts = n
		}
	}
}
