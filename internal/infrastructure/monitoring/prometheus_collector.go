package monitoring

import (
	"sync"
	"time"

	"rillview/internal/core/domain"
	apperrors "rillview/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var allStates = []domain.SessionState{
	domain.SessionStateIdle,
	domain.SessionStateNegotiating,
	domain.SessionStateConnected,
	domain.SessionStateActive,
	domain.SessionStateDisconnecting,
	domain.SessionStateError,
}

// PrometheusCollector exports session lifecycle and stats snapshots. It
// implements ports.Observer.
type PrometheusCollector struct {
	// Lifecycle
	sessionState     *prometheus.GaugeVec
	transitionsTotal *prometheus.CounterVec
	reconnectsTotal  prometheus.Counter
	failuresTotal    *prometheus.CounterVec
	timeToActive     prometheus.Histogram

	// Stats
	bitrate        *prometheus.GaugeVec
	packetLoss     prometheus.Gauge
	packetsLost    prometheus.Gauge
	rtt            prometheus.Histogram
	jitter         prometheus.Gauge
	framesDecoded  prometheus.Gauge
	framesDropped  prometheus.Gauge
	decodeErrors   prometheus.Gauge
	audioUnderruns prometheus.Gauge
	videoFrozen    prometheus.Gauge
	freezes        prometheus.Gauge

	serverEvents *prometheus.CounterVec

	mu               sync.Mutex
	negotiatingSince time.Time
}

// NewPrometheusCollector registers the session metrics on reg. Every series
// carries the stream name as a constant label.
func NewPrometheusCollector(reg prometheus.Registerer, streamName string) *PrometheusCollector {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"stream_name": streamName}

	return &PrometheusCollector{
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rillview_session_state",
			Help:        "1 for the current session state, 0 otherwise",
			ConstLabels: labels,
		}, []string{"state"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rillview_state_transitions_total",
			Help:        "Session state transitions",
			ConstLabels: labels,
		}, []string{"from", "to"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "rillview_reconnects_total",
			Help:        "Reconnect attempts started after a transient failure",
			ConstLabels: labels,
		}),

		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rillview_session_failures_total",
			Help:        "Terminal session failures by error code",
			ConstLabels: labels,
		}, []string{"code"}),

		timeToActive: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "rillview_time_to_active_seconds",
			Help:        "Time from starting negotiation to the first rendered frame",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		bitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rillview_bitrate_bps",
			Help:        "Received bitrate in bits per second",
			ConstLabels: labels,
		}, []string{"kind"}),

		packetLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_packet_loss_percent",
			Help:        "Packet loss over the last stats interval",
			ConstLabels: labels,
		}),

		packetsLost: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_packets_lost",
			Help:        "Packets lost during the current connection",
			ConstLabels: labels,
		}),

		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "rillview_rtt_seconds",
			Help:        "Round trip time to the edge",
			ConstLabels: labels,
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		jitter: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_jitter_seconds",
			Help:        "Highest interarrival jitter across tracks",
			ConstLabels: labels,
		}),

		framesDecoded: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_frames_decoded",
			Help:        "Frames decoded during the current connection",
			ConstLabels: labels,
		}),

		framesDropped: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_frames_dropped",
			Help:        "Frames dropped during the current connection",
			ConstLabels: labels,
		}),

		decodeErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_decode_errors",
			Help:        "Frames that failed to decode during the current connection",
			ConstLabels: labels,
		}),

		audioUnderruns: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_audio_underruns",
			Help:        "Audio underruns during the current connection",
			ConstLabels: labels,
		}),

		videoFrozen: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_video_frozen",
			Help:        "1 while video is frozen",
			ConstLabels: labels,
		}),

		freezes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rillview_video_freezes",
			Help:        "Video freezes during the current connection",
			ConstLabels: labels,
		}),

		serverEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rillview_server_events_total",
			Help:        "Server events received by name",
			ConstLabels: labels,
		}, []string{"event"}),
	}
}

func (p *PrometheusCollector) OnStateChanged(change domain.StateChange) {
	for _, s := range allStates {
		value := 0.0
		if s == change.To {
			value = 1
		}
		p.sessionState.WithLabelValues(s.String()).Set(value)
	}
	p.transitionsTotal.WithLabelValues(change.From.String(), change.To.String()).Inc()

	if change.From == domain.SessionStateError && change.To == domain.SessionStateNegotiating {
		p.reconnectsTotal.Inc()
	}
	if change.Terminal && change.Err != nil {
		p.failuresTotal.WithLabelValues(string(apperrors.CodeOf(change.Err))).Inc()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch change.To {
	case domain.SessionStateNegotiating:
		p.negotiatingSince = change.At
	case domain.SessionStateActive:
		if !p.negotiatingSince.IsZero() {
			p.timeToActive.Observe(change.At.Sub(p.negotiatingSince).Seconds())
			p.negotiatingSince = time.Time{}
		}
	}
}

func (p *PrometheusCollector) OnStats(stats domain.ConnectionStats) {
	p.bitrate.WithLabelValues("total").Set(stats.BitrateBps)
	p.bitrate.WithLabelValues(string(domain.TrackKindVideo)).Set(stats.VideoBitrateBps)
	p.bitrate.WithLabelValues(string(domain.TrackKindAudio)).Set(stats.AudioBitrateBps)
	p.packetLoss.Set(stats.LossPercent)
	p.packetsLost.Set(float64(stats.PacketsLost))
	if stats.RTT > 0 {
		p.rtt.Observe(stats.RTT.Seconds())
	}
	p.jitter.Set(stats.Jitter.Seconds())
	p.framesDecoded.Set(float64(stats.FramesDecoded))
	p.framesDropped.Set(float64(stats.FramesDropped))
	p.decodeErrors.Set(float64(stats.DecodeErrors))
	p.audioUnderruns.Set(float64(stats.AudioUnderruns))
	p.freezes.Set(float64(stats.FreezeCount))
	if stats.Frozen {
		p.videoFrozen.Set(1)
	} else {
		p.videoFrozen.Set(0)
	}
}

func (p *PrometheusCollector) OnServerEvent(event domain.ServerEvent) {
	p.serverEvents.WithLabelValues(string(event.Name())).Inc()
}
