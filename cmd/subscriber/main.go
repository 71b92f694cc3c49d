package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	"rillview/internal/core/services"
	httphandlers "rillview/internal/handlers/http"
	"rillview/internal/infrastructure/director"
	"rillview/internal/infrastructure/middleware"
	"rillview/internal/infrastructure/monitoring"
	"rillview/internal/infrastructure/pipeline"
	signaling "rillview/internal/infrastructure/signal"
	"rillview/internal/infrastructure/sink"
	"rillview/internal/infrastructure/statspub"
	webrtcinfra "rillview/internal/infrastructure/webrtc"
	"rillview/pkg/circuitbreaker"
	"rillview/pkg/config"
	"rillview/pkg/logger"
	"rillview/pkg/retry"
	"rillview/pkg/tracing"
	"rillview/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var flags cliFlags
	flagSet := newFlagSet(&flags)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: rillview-subscriber [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	applyFlags(flagSet, &flags, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceName = "rillview-subscriber"
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warnw("Tracing shutdown failed", "error", err)
		}
	}()

	sessionID := utils.GenerateSessionID()
	log = log.With("session_id", sessionID)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Sink
	recorder, err := sink.NewRecorder(sink.RecorderConfig{
		AudioPath: cfg.Recorder.AudioPath,
		VideoPath: cfg.Recorder.VideoPath,
	}, log.Named("recorder"))
	if err != nil {
		return fmt.Errorf("open recorder: %w", err)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warnw("Recorder close failed", "error", err)
		}
		log.Infow("Recorder closed", "stats", recorder.Stats())
	}()

	// Observers
	observers := []ports.Observer{monitoring.NewLoggingObserver(log.Named("session"))}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Monitoring.PrometheusEnabled {
		observers = append(observers, monitoring.NewPrometheusCollector(registry, cfg.Stream.Name))
	}

	var redisClient *redis.Client
	var publisher *statspub.Publisher
	if cfg.Redis.Enabled {
		redisClient, err = statspub.Connect(ctx, statspub.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, retry.DefaultConfig(), log.Named("redis"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()

		publisher = statspub.NewPublisher(redisClient, cfg.Redis.Channel, sessionID, cfg.Stream.Name, log.Named("statspub"))
		observers = append(observers, publisher)
	}

	// Director
	var directorClient *director.Client
	if cfg.Director.Enabled {
		breaker := circuitbreaker.DefaultConfig()
		breaker.FailureThreshold = cfg.Director.Breaker.FailureThreshold
		breaker.OpenTimeout = cfg.Director.Breaker.OpenTimeout

		directorClient, err = director.NewClient(director.Config{
			URL:            cfg.Director.URL,
			SubscribeToken: cfg.Stream.SubscribeToken,
			Timeout:        cfg.Director.Timeout,
			Breaker:        breaker,
		}, nil, log.Named("director"))
		if err != nil {
			return err
		}
	}

	session, err := services.NewSessionService(
		sessionConfig(cfg, sessionID),
		sessionDeps(cfg, directorClient, recorder, monitoring.NewMultiObserver(observers...), log),
		log.Named("session"),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	// Health
	health := monitoring.NewHealthChecker()
	health.AddSessionCheck(session)
	if directorClient != nil {
		health.AddBreakerCheck("director", directorClient.BreakerState)
	}
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 2*time.Second)
	}

	// Admin API
	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Admin.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		var gatherer prometheus.Gatherer
		if cfg.Monitoring.PrometheusEnabled {
			gatherer = registry
		}
		handler := httphandlers.NewSessionHandler(session, health, gatherer)
		router := httphandlers.NewRouter(httphandlers.RouterConfig{
			SessionID: sessionID,
			Token:     cfg.Admin.Token,
			RateLimit: middleware.RateLimitConfig{
				Enabled:           cfg.Admin.RateLimit.Enabled,
				RequestsPerSecond: cfg.Admin.RateLimit.RequestsPerSecond,
				Burst:             cfg.Admin.RateLimit.Burst,
				MaxConcurrent:     cfg.Admin.RateLimit.MaxConcurrent,
			},
		}, handler, log.Named("admin"))

		srv = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
		go func() {
			log.Infow("Starting admin API", "address", cfg.Admin.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	if err := session.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var exitErr error
	select {
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	case <-session.Done():
		exitErr = session.Err()
		if exitErr != nil {
			log.Errorw("Session ended", "error", exitErr)
		}
	case err := <-serverErr:
		log.Errorw("Admin API failed", "error", err)
		exitErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
	defer cancel()

	if err := session.Disconnect(shutdownCtx); err != nil {
		log.Warnw("Session did not stop in time", "error", err)
	}
	stop()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Admin API forced to shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Failed to close admin API", "error", closeErr)
			}
		}
	}
	if publisher != nil {
		if err := publisher.Close(shutdownCtx); err != nil {
			log.Warnw("Stats publisher close failed", "error", err)
		}
	}

	log.Info("Subscriber stopped")
	return exitErr
}

func sessionConfig(cfg *config.Config, sessionID string) services.SessionConfig {
	sc := services.DefaultSessionConfig()
	sc.ID = sessionID
	sc.Target = domain.Target{
		AccountID:  cfg.Stream.AccountID,
		StreamName: cfg.Stream.Name,
	}
	sc.SignalingURL = cfg.Signal.URL
	sc.ICEServers = iceServers(cfg.WebRTC.ICEServers)
	sc.Preferences = domain.Preferences{
		VideoCodecs:          cfg.WebRTC.VideoCodecs,
		AudioCodecs:          cfg.WebRTC.AudioCodecs,
		Stereo:               cfg.WebRTC.Stereo,
		BandwidthCeilingKbps: cfg.WebRTC.BandwidthCeilingKbps,
		Layer: domain.LayerHint{
			EncodingID: cfg.WebRTC.Layer.EncodingID,
			MaxHeight:  cfg.WebRTC.Layer.MaxHeight,
		},
	}
	sc.Events = cfg.Signal.Events
	sc.Reconnect = retry.Config{
		Enabled:      true,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		InitialDelay: cfg.Reconnect.BaseInterval,
		MaxDelay:     cfg.Reconnect.MaxInterval,
		Multiplier:   cfg.Reconnect.Multiplier,
		Jitter:       cfg.Reconnect.Jitter,
	}
	sc.NegotiationTimeout = cfg.WebRTC.NegotiationTimeout
	sc.FirstFrameTimeout = cfg.WebRTC.FirstFrameTimeout
	sc.Health = services.HealthConfig{
		Interval:        cfg.Health.StatsInterval,
		LossThreshold:   cfg.Health.LossThreshold,
		DegradedSamples: cfg.Health.DegradedSamples,
	}
	sc.FreezeThreshold = cfg.Health.FreezeThreshold
	return sc
}

// undecodableCodecs lists preferred codecs without a registered decoder.
func undecodableCodecs(cfg *config.Config, registry *pipeline.DecoderRegistry) []string {
	var missing []string
	for _, codec := range cfg.WebRTC.VideoCodecs {
		if !registry.Supports(domain.TrackKindVideo, codec) {
			missing = append(missing, codec)
		}
	}
	for _, codec := range cfg.WebRTC.AudioCodecs {
		if !registry.Supports(domain.TrackKindAudio, codec) {
			missing = append(missing, codec)
		}
	}
	return missing
}

func sessionDeps(
	cfg *config.Config,
	directorClient *director.Client,
	out ports.Sink,
	observer ports.Observer,
	log *zap.SugaredLogger,
) services.SessionDeps {
	clientCfg := signaling.ClientConfig{
		Dialect:           signaling.Dialect(cfg.Signal.Dialect),
		HandshakeTimeout:  cfg.Signal.HandshakeTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		MaxMessageBytes:   cfg.Signal.MaxMessageBytes,
		CommandsPerSecond: cfg.Signal.CommandsPerSec,
	}
	signalLog := log.Named("signal")

	webrtcCfg := webrtcinfra.Config{KeyframeInterval: cfg.WebRTC.KeyframeInterval}
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.AudioSampleRate = cfg.Pipeline.AudioSampleRate
	pipelineCfg.AudioChannels = cfg.Pipeline.AudioChannels
	pipelineCfg.AudioHighWater = cfg.Pipeline.AudioHighWater
	pipelineCfg.UnderrunInterval = cfg.Pipeline.UnderrunInterval
	pipelineCfg.PixelFormat = domain.PixelFormat(cfg.Pipeline.PixelFormat)
	pipelineCfg.VideoQueueDepth = cfg.Pipeline.VideoQueueDepth
	pipelineCfg.ReorderWindow = cfg.Pipeline.ReorderWindow

	registry := pipeline.NewDecoderRegistry()
	if missing := undecodableCodecs(cfg, registry); len(missing) > 0 {
		log.Warnw("Preferred codecs have no decoder, tracks negotiated with them are drained and never become active",
			"codecs", missing,
			"audio_codecs", cfg.WebRTC.AudioCodecs,
			"video_codecs", cfg.WebRTC.VideoCodecs,
		)
	}

	deps := services.SessionDeps{
		Transports: func() ports.SignalingTransport {
			return signaling.NewWebSocketClient(clientCfg, signalLog)
		},
		Negotiators: webrtcinfra.NewFactory(webrtcCfg, log.Named("webrtc")),
		Pipelines:   pipeline.NewFactory(pipelineCfg, registry, log.Named("pipeline")),
		Sink:        out,
		Observer:    observer,
	}
	// A nil *director.Client must not become a non-nil interface.
	if directorClient != nil {
		deps.Director = directorClient
	}
	return deps
}

func iceServers(servers []config.ICEServer) []domain.ICEServer {
	out := make([]domain.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, domain.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
