package monitoring

import (
	"rillview/internal/core/domain"
	"rillview/internal/core/ports"

	"go.uber.org/zap"
)

// LoggingObserver writes lifecycle, stats and server events to a zap logger.
type LoggingObserver struct {
	logger *zap.SugaredLogger
}

func NewLoggingObserver(logger *zap.SugaredLogger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnStateChanged(change domain.StateChange) {
	if change.Terminal {
		o.logger.Errorw("Session failed",
			"session_id", change.SessionID,
			"from", change.From.String(),
			"state", change.To.String(),
			"attempt", change.Attempt,
			"error", change.Err,
		)
		return
	}
	o.logger.Infow("Session state changed",
		"session_id", change.SessionID,
		"from", change.From.String(),
		"state", change.To.String(),
		"attempt", change.Attempt,
	)
}

func (o *LoggingObserver) OnStats(stats domain.ConnectionStats) {
	o.logger.Debugw("Connection stats",
		"session_id", stats.SessionID,
		"bitrate_bps", int64(stats.BitrateBps),
		"loss_percent", stats.LossPercent,
		"rtt", stats.RTT,
		"jitter", stats.Jitter,
		"frames_decoded", stats.FramesDecoded,
		"frozen", stats.Frozen,
	)
}

func (o *LoggingObserver) OnServerEvent(event domain.ServerEvent) {
	fields := []interface{}{"event", string(event.Name())}
	switch ev := event.(type) {
	case domain.StreamActive:
		fields = append(fields, "source_id", ev.SourceID, "tracks", len(ev.Tracks))
	case domain.StreamInactive:
		fields = append(fields, "source_id", ev.SourceID)
	case domain.ViewerCount:
		fields = append(fields, "viewers", ev.Count)
	case domain.LayersChanged:
		fields = append(fields, "medias", len(ev.Medias))
	case domain.VoiceActivity:
		// fires continuously while someone talks
		o.logger.Debugw("Server event", append(fields, "media_id", ev.MediaID)...)
		return
	}
	o.logger.Infow("Server event", fields...)
}

// MultiObserver fans every callback out to each observer in order.
type MultiObserver []ports.Observer

func NewMultiObserver(observers ...ports.Observer) MultiObserver {
	out := make(MultiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m MultiObserver) OnStateChanged(change domain.StateChange) {
	for _, o := range m {
		o.OnStateChanged(change)
	}
}

func (m MultiObserver) OnStats(stats domain.ConnectionStats) {
	for _, o := range m {
		o.OnStats(stats)
	}
}

func (m MultiObserver) OnServerEvent(event domain.ServerEvent) {
	for _, o := range m {
		o.OnServerEvent(event)
	}
}
