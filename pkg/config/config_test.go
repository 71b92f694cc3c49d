package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Stream.Name = "demo"
	cfg.Stream.AccountID = "acct"
	cfg.Signal.URL = "wss://edge.example.com/ws"
	return cfg
}

func TestDefaultConfig_NeedsStream(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without a stream name")
	}

	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "signal url required without director",
			mutate: func(c *Config) {
				c.Signal.URL = ""
			},
		},
		{
			name: "director url required when enabled",
			mutate: func(c *Config) {
				c.Director.Enabled = true
				c.Director.URL = ""
			},
		},
		{
			name: "director needs account id",
			mutate: func(c *Config) {
				c.Director.Enabled = true
				c.Director.URL = "https://director.example.com/api/director/subscribe"
				c.Stream.AccountID = ""
			},
		},
		{
			name: "unknown dialect",
			mutate: func(c *Config) {
				c.Signal.Dialect = "whep"
			},
		},
		{
			name: "pong timeout must exceed ping interval",
			mutate: func(c *Config) {
				c.Signal.PingInterval = time.Second
				c.Signal.PongTimeout = time.Second
			},
		},
		{
			name: "port range inverted",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50000
				c.WebRTC.PortRange.Max = 40000
			},
		},
		{
			name: "no codecs",
			mutate: func(c *Config) {
				c.WebRTC.VideoCodecs = nil
				c.WebRTC.AudioCodecs = nil
			},
		},
		{
			name: "negative reconnect attempts",
			mutate: func(c *Config) {
				c.Reconnect.MaxAttempts = -1
			},
		},
		{
			name: "reconnect cap below base",
			mutate: func(c *Config) {
				c.Reconnect.BaseInterval = 5 * time.Second
				c.Reconnect.MaxInterval = time.Second
			},
		},
		{
			name: "audio channels",
			mutate: func(c *Config) {
				c.Pipeline.AudioChannels = 6
			},
		},
		{
			name: "pixel format",
			mutate: func(c *Config) {
				c.Pipeline.PixelFormat = "nv12"
			},
		},
		{
			name: "loss threshold",
			mutate: func(c *Config) {
				c.Health.LossThreshold = 0
			},
		},
		{
			name: "admin rate limit",
			mutate: func(c *Config) {
				c.Admin.RateLimit.Enabled = true
				c.Admin.RateLimit.Burst = 0
			},
		},
		{
			name: "redis channel",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Channel = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.Pipeline.AudioSampleRate != 48000 {
		t.Errorf("expected default sample rate, got %d", cfg.Pipeline.AudioSampleRate)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriber.yaml")
	data := []byte(`
stream:
  account_id: acct
  name: from-file
signal:
  url: wss://edge.example.com/ws
  dialect: view
webrtc:
  video_codecs: [h264, vp8]
  bandwidth_ceiling_kbps: 2500
reconnect:
  max_attempts: 3
  base_interval: 250ms
  max_interval: 4s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RILLVIEW_STREAM_NAME", "from-env")
	t.Setenv("RILLVIEW_MAX_RECONNECTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.Name != "from-env" {
		t.Errorf("env override not applied, got %q", cfg.Stream.Name)
	}
	if cfg.Reconnect.MaxAttempts != 7 {
		t.Errorf("expected 7 reconnects, got %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Signal.Dialect != "view" {
		t.Errorf("expected view dialect, got %q", cfg.Signal.Dialect)
	}
	if len(cfg.WebRTC.VideoCodecs) != 2 || cfg.WebRTC.VideoCodecs[0] != "h264" {
		t.Errorf("unexpected codec list %v", cfg.WebRTC.VideoCodecs)
	}
	if cfg.Reconnect.BaseInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms base, got %v", cfg.Reconnect.BaseInterval)
	}
	// untouched defaults survive
	if cfg.Health.StatsInterval != time.Second {
		t.Errorf("expected default stats interval, got %v", cfg.Health.StatsInterval)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stream: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestLoadUnvalidated_DefersValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("signal:\n  dialect: view\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config without a stream")
	}

	cfg, err := LoadUnvalidated(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signal.Dialect != "view" {
		t.Errorf("expected view dialect, got %q", cfg.Signal.Dialect)
	}
	cfg.Stream.Name = "demo"
	cfg.Stream.AccountID = "acct"
	cfg.Signal.URL = "wss://edge.example.com/ws"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected completed config to validate, got %v", err)
	}
}
