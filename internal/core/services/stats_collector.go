package services

import (
	"sync"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
)

type trackStatsProvider interface {
	Stats() []domain.TrackStats
}

type transportStatsProvider interface {
	TransportStats() domain.TransportStats
}

// StatsCollector merges pipeline counters and transport stats into
// ConnectionStats snapshots. Rates are computed against the previous call.
type StatsCollector struct {
	sessionID       string
	freezeThreshold time.Duration
	tracks          trackStatsProvider
	transport       transportStatsProvider
	now             func() time.Time

	mu          sync.Mutex
	reconnects  int
	havePrev    bool
	prevAt      time.Time
	prevVideo   uint64
	prevAudio   uint64
	prevRecv    uint64
	prevLost    uint64
	frozen      bool
	freezeCount int
}

var _ ports.StatsSource = (*StatsCollector)(nil)

func NewStatsCollector(sessionID string, freezeThreshold time.Duration, tracks trackStatsProvider, transport transportStatsProvider) *StatsCollector {
	return &StatsCollector{
		sessionID:       sessionID,
		freezeThreshold: freezeThreshold,
		tracks:          tracks,
		transport:       transport,
		now:             time.Now,
	}
}

// SetReconnects records the reconnect count reported in later samples.
func (c *StatsCollector) SetReconnects(n int) {
	c.mu.Lock()
	c.reconnects = n
	c.mu.Unlock()
}

func (c *StatsCollector) Sample() domain.ConnectionStats {
	now := c.now()
	tracks := c.tracks.Stats()

	var transport domain.TransportStats
	if c.transport != nil {
		transport = c.transport.TransportStats()
	}

	stats := domain.ConnectionStats{
		SessionID: c.sessionID,
		Timestamp: now,
		RTT:       transport.RTT,
		Tracks:    tracks,
	}

	var videoBytes, audioBytes uint64
	var maxJitter float64
	frozen := false
	for _, t := range tracks {
		stats.PacketsReceived += t.PacketsReceived
		stats.PacketsLost += t.PacketsLost
		stats.FramesDecoded += t.FramesDecoded
		stats.FramesDropped += t.FramesDropped
		stats.DecodeErrors += t.DecodeErrors
		stats.AudioUnderruns += t.AudioUnderruns
		if t.Jitter > maxJitter {
			maxJitter = t.Jitter
		}

		switch t.Kind {
		case domain.TrackKindVideo:
			videoBytes += t.BytesReceived
			if c.isFrozen(t, now) {
				frozen = true
			}
		case domain.TrackKindAudio:
			audioBytes += t.BytesReceived
		}
	}
	stats.Jitter = time.Duration(maxJitter * float64(time.Second))

	c.mu.Lock()
	defer c.mu.Unlock()

	stats.Reconnects = c.reconnects
	if frozen && !c.frozen {
		c.freezeCount++
	}
	c.frozen = frozen
	stats.Frozen = frozen
	stats.FreezeCount = c.freezeCount

	if c.havePrev {
		if elapsed := now.Sub(c.prevAt).Seconds(); elapsed > 0 {
			stats.VideoBitrateBps = rate(videoBytes, c.prevVideo, elapsed)
			stats.AudioBitrateBps = rate(audioBytes, c.prevAudio, elapsed)
			stats.BitrateBps = stats.VideoBitrateBps + stats.AudioBitrateBps
		}
		stats.LossPercent = lossPercent(
			delta(stats.PacketsLost, c.prevLost),
			delta(stats.PacketsReceived, c.prevRecv),
		)
	} else {
		stats.LossPercent = lossPercent(stats.PacketsLost, stats.PacketsReceived)
	}

	c.havePrev = true
	c.prevAt = now
	c.prevVideo = videoBytes
	c.prevAudio = audioBytes
	c.prevRecv = stats.PacketsReceived
	c.prevLost = stats.PacketsLost

	return stats
}

// isFrozen reports a video track that decoded before but has stalled. Frames
// a decoder skips on purpose, such as inter frames for a keyframe-only
// decoder, keep the track alive.
func (c *StatsCollector) isFrozen(t domain.TrackStats, now time.Time) bool {
	if c.freezeThreshold <= 0 || t.FramesDecoded == 0 {
		return false
	}
	last := t.LastMediaAt
	if t.LastFrameAt.After(last) {
		last = t.LastFrameAt
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > c.freezeThreshold
}

func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func rate(cur, prev uint64, seconds float64) float64 {
	return float64(delta(cur, prev)) * 8 / seconds
}

func lossPercent(lost, received uint64) float64 {
	if lost+received == 0 {
		return 0
	}
	return float64(lost) / float64(lost+received) * 100
}
