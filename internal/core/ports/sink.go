package ports

import (
	"context"

	"rillview/internal/core/domain"
)

// Sink is implemented by the host rendering and audio output. Callbacks run
// on pipeline goroutines; frame buffers must be copied to be retained.
type Sink interface {
	OnAudioFrame(frame domain.AudioFrame)
	OnVideoFrame(frame domain.VideoFrame)
}

// UnderrunHandler is an optional Sink extension.
type UnderrunHandler interface {
	OnAudioUnderrun(trackID string)
}

// Observer receives lifecycle, stats and server events. Implementations must
// be safe for concurrent use.
type Observer interface {
	OnStateChanged(change domain.StateChange)
	OnStats(stats domain.ConnectionStats)
	OnServerEvent(event domain.ServerEvent)
}

// StatsSource produces a fresh snapshot on each call.
type StatsSource interface {
	Sample() domain.ConnectionStats
}

// SessionController is what the admin API drives.
type SessionController interface {
	Snapshot() domain.Session
	State() domain.SessionState
	LatestStats() (domain.ConnectionStats, bool)
	SelectLayer(ctx context.Context, layer *domain.Layer) error
	Disconnect(ctx context.Context) error
}
