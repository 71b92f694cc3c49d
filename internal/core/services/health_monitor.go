package services

import (
	"context"
	"fmt"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"

	"go.uber.org/zap"
)

type HealthConfig struct {
	Interval time.Duration
	// Loss percentage above which a sample counts as degraded.
	LossThreshold float64
	// Consecutive degraded samples before a reconnect is requested.
	DegradedSamples int
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:        time.Second,
		LossThreshold:   10,
		DegradedSamples: 5,
	}
}

// HealthMonitor samples a StatsSource at a fixed interval, publishes each
// snapshot and signals sustained quality degradation.
type HealthMonitor struct {
	cfg        HealthConfig
	source     ports.StatsSource
	onStats    func(domain.ConnectionStats)
	onDegraded func(reason string)
	logger     *zap.SugaredLogger

	consecutive int
}

func NewHealthMonitor(
	cfg HealthConfig,
	source ports.StatsSource,
	onStats func(domain.ConnectionStats),
	onDegraded func(reason string),
	logger *zap.SugaredLogger,
) *HealthMonitor {
	def := DefaultHealthConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DegradedSamples <= 0 {
		cfg.DegradedSamples = def.DegradedSamples
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HealthMonitor{
		cfg:        cfg,
		source:     source,
		onStats:    onStats,
		onDegraded: onDegraded,
		logger:     logger,
	}
}

// Run blocks until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.source.Sample()
			if m.onStats != nil {
				m.onStats(stats)
			}
			if degraded, reason := m.Evaluate(stats); degraded {
				m.logger.Warnw("connection quality degraded",
					"session_id", stats.SessionID,
					"reason", reason,
					"loss_percent", stats.LossPercent,
					"frozen", stats.Frozen,
				)
				if m.onDegraded != nil {
					m.onDegraded(reason)
				}
			}
		}
	}
}

// Evaluate feeds one sample into the consecutive-sample counter and reports
// whether the threshold was reached. The counter restarts after a report.
func (m *HealthMonitor) Evaluate(stats domain.ConnectionStats) (bool, string) {
	var reason string
	switch {
	case m.cfg.LossThreshold > 0 && stats.LossPercent > m.cfg.LossThreshold:
		reason = fmt.Sprintf("packet loss %.1f%% above %.1f%%", stats.LossPercent, m.cfg.LossThreshold)
	case stats.Frozen:
		reason = "video frozen"
	default:
		m.consecutive = 0
		return false, ""
	}

	m.consecutive++
	if m.consecutive < m.cfg.DegradedSamples {
		return false, ""
	}
	m.consecutive = 0
	return true, reason
}
