package main

import (
	"fmt"
	"os"
	"time"

	"rillview/pkg/config"

	"github.com/spf13/pflag"
)

type cliFlags struct {
	configPath    string
	stream        string
	account       string
	token         string
	signalURL     string
	directorURL   string
	dialect       string
	logLevel      string
	logFormat     string
	adminAddr     string
	adminToken    string
	noAdmin       bool
	maxReconnects int
	bandwidthKbps int
	layer         string
	maxHeight     int
	recordAudio   string
	recordVideo   string
	redisAddr     string
	firstFrame    time.Duration
}

func newFlagSet(f *cliFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("rillview-subscriber", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to YAML config (default: first of configs/config.yaml, config.yaml)")
	fs.StringVarP(&f.stream, "stream", "s", "", "stream name to subscribe to")
	fs.StringVarP(&f.account, "account", "a", "", "stream account id")
	fs.StringVar(&f.token, "token", "", "subscribe token for secure streams")
	fs.StringVar(&f.signalURL, "signal-url", "", "signaling websocket URL (used without a Director)")
	fs.StringVar(&f.directorURL, "director-url", "", "Director subscribe endpoint; enables Director lookup")
	fs.StringVar(&f.dialect, "dialect", "", "signaling dialect: subscribe or view")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: json or console")
	fs.StringVar(&f.adminAddr, "admin-addr", "", "admin API listen address")
	fs.StringVar(&f.adminToken, "admin-token", "", "bearer token required by mutating admin routes")
	fs.BoolVar(&f.noAdmin, "no-admin", false, "disable the admin API")
	fs.IntVar(&f.maxReconnects, "max-reconnects", 0, "reconnect attempts before giving up, 0 for unlimited")
	fs.IntVar(&f.bandwidthKbps, "bandwidth", 0, "receive bandwidth ceiling in kbps, 0 for none")
	fs.StringVar(&f.layer, "layer", "", "preferred simulcast encoding id")
	fs.IntVar(&f.maxHeight, "max-height", 0, "highest video layer height to prefer")
	fs.StringVar(&f.recordAudio, "record-audio", "", "write decoded audio as s16le to this file")
	fs.StringVar(&f.recordVideo, "record-video", "", "write decoded video (y4m for i420) to this file")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "publish session events to Redis at this address")
	fs.DurationVar(&f.firstFrame, "first-frame-timeout", 0, "time allowed between connect and the first decoded frame")
	fs.BoolP("help", "h", false, "show help")
	return fs
}

// applyFlags copies explicitly set flags over file and env values.
func applyFlags(fs *pflag.FlagSet, f *cliFlags, cfg *config.Config) {
	set := func(name string) bool { return fs.Changed(name) }

	if set("stream") {
		cfg.Stream.Name = f.stream
	}
	if set("account") {
		cfg.Stream.AccountID = f.account
	}
	if set("token") {
		cfg.Stream.SubscribeToken = f.token
	}
	if set("signal-url") {
		cfg.Signal.URL = f.signalURL
	}
	if set("director-url") {
		cfg.Director.URL = f.directorURL
		cfg.Director.Enabled = f.directorURL != ""
	}
	if set("dialect") {
		cfg.Signal.Dialect = f.dialect
	}
	if set("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if set("admin-addr") {
		cfg.Admin.Address = f.adminAddr
		cfg.Admin.Enabled = true
	}
	if set("admin-token") {
		cfg.Admin.Token = f.adminToken
	}
	if f.noAdmin {
		cfg.Admin.Enabled = false
	}
	if set("max-reconnects") {
		cfg.Reconnect.MaxAttempts = f.maxReconnects
	}
	if set("bandwidth") {
		cfg.WebRTC.BandwidthCeilingKbps = f.bandwidthKbps
	}
	if set("layer") {
		cfg.WebRTC.Layer.EncodingID = f.layer
	}
	if set("max-height") {
		cfg.WebRTC.Layer.MaxHeight = f.maxHeight
	}
	if set("record-audio") {
		cfg.Recorder.AudioPath = f.recordAudio
	}
	if set("record-video") {
		cfg.Recorder.VideoPath = f.recordVideo
	}
	if set("redis-addr") {
		cfg.Redis.Address = f.redisAddr
		cfg.Redis.Enabled = f.redisAddr != ""
	}
	if set("first-frame-timeout") {
		cfg.WebRTC.FirstFrameTimeout = f.firstFrame
	}
}

// loadConfig reads the explicit path, or the first default path that
// exists. Validation runs after flags are applied.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		return config.LoadUnvalidated(path)
	}

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}
	for _, p := range configPaths {
		if _, err := os.Stat(p); err == nil {
			return config.LoadUnvalidated(p)
		}
	}
	// No file: defaults plus env.
	return config.LoadUnvalidated("")
}
