package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"rillview/internal/core/domain"
	"rillview/pkg/circuitbreaker"
	apperrors "rillview/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPrometheusCollector_StateChanges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg, "feed")
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	c.OnStateChanged(domain.StateChange{From: domain.SessionStateIdle, To: domain.SessionStateNegotiating, At: start})
	c.OnStateChanged(domain.StateChange{From: domain.SessionStateNegotiating, To: domain.SessionStateConnected, At: start.Add(time.Second)})
	c.OnStateChanged(domain.StateChange{From: domain.SessionStateConnected, To: domain.SessionStateActive, At: start.Add(2 * time.Second)})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionState.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionState.WithLabelValues("negotiating")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.timeToActive))

	c.OnStateChanged(domain.StateChange{From: domain.SessionStateActive, To: domain.SessionStateError, At: start.Add(3 * time.Second)})
	c.OnStateChanged(domain.StateChange{From: domain.SessionStateError, To: domain.SessionStateNegotiating, At: start.Add(4 * time.Second)})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnectsTotal))

	c.OnStateChanged(domain.StateChange{
		From:     domain.SessionStateNegotiating,
		To:       domain.SessionStateError,
		Terminal: true,
		Err:      apperrors.NewAuthError("stream not found", nil),
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failuresTotal.WithLabelValues(string(apperrors.ErrCodeAuth))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("active", "error")))
}

func TestPrometheusCollector_Stats(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg, "feed")

	c.OnStats(domain.ConnectionStats{
		BitrateBps:      1200000,
		VideoBitrateBps: 1100000,
		AudioBitrateBps: 100000,
		LossPercent:     2.5,
		RTT:             40 * time.Millisecond,
		Jitter:          5 * time.Millisecond,
		FramesDecoded:   300,
		Frozen:          true,
		FreezeCount:     2,
	})
	c.OnServerEvent(domain.ViewerCount{Count: 10})
	c.OnServerEvent(domain.ViewerCount{Count: 11})

	assert.Equal(t, 1100000.0, testutil.ToFloat64(c.bitrate.WithLabelValues("video")))
	assert.Equal(t, 2.5, testutil.ToFloat64(c.packetLoss))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.videoFrozen))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.freezes))
	assert.InDelta(t, 0.005, testutil.ToFloat64(c.jitter), 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.serverEvents.WithLabelValues("viewercount")))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			found := false
			for _, l := range m.GetLabel() {
				if l.GetName() == "stream_name" && l.GetValue() == "feed" {
					found = true
				}
			}
			assert.True(t, found, "%s lacks the stream_name label", f.GetName())
		}
	}
}

func TestLoggingObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	o := NewLoggingObserver(zap.New(core).Sugar())

	o.OnStateChanged(domain.StateChange{SessionID: "s1", From: domain.SessionStateIdle, To: domain.SessionStateNegotiating, Attempt: 1})
	o.OnStateChanged(domain.StateChange{SessionID: "s1", To: domain.SessionStateError, Terminal: true, Err: errors.New("boom")})
	o.OnServerEvent(domain.ViewerCount{Count: 3})
	o.OnServerEvent(domain.VoiceActivity{MediaID: "0"})
	o.OnStats(domain.ConnectionStats{SessionID: "s1"})

	require.Equal(t, 5, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "negotiating", entries[0].ContextMap()["state"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.EqualValues(t, 3, entries[2].ContextMap()["viewers"])
	assert.Equal(t, zapcore.DebugLevel, entries[3].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[4].Level)
}

type countingObserver struct {
	states, stats, events int
}

func (c *countingObserver) OnStateChanged(domain.StateChange) { c.states++ }
func (c *countingObserver) OnStats(domain.ConnectionStats)    { c.stats++ }
func (c *countingObserver) OnServerEvent(domain.ServerEvent)  { c.events++ }

func TestMultiObserver(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	m := NewMultiObserver(a, nil, b)
	require.Len(t, m, 2)

	m.OnStateChanged(domain.StateChange{})
	m.OnStats(domain.ConnectionStats{})
	m.OnServerEvent(domain.Migrate{})

	for _, o := range []*countingObserver{a, b} {
		assert.Equal(t, 1, o.states)
		assert.Equal(t, 1, o.stats)
		assert.Equal(t, 1, o.events)
	}
}

type stubSession struct {
	err error
}

func (s stubSession) State() domain.SessionState { return domain.SessionStateError }
func (s stubSession) Err() error                 { return s.err }

func TestHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		sessionErr error
		breaker    circuitbreaker.State
		want       string
		failing    string
	}{
		{name: "all healthy", breaker: circuitbreaker.StateClosed, want: StatusHealthy},
		{name: "session gave up", sessionErr: errors.New("giving up"), breaker: circuitbreaker.StateClosed, want: StatusUnhealthy, failing: "session"},
		{name: "director down", breaker: circuitbreaker.StateOpen, want: StatusUnhealthy, failing: "director"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			h.AddSessionCheck(stubSession{err: tt.sessionErr})
			h.AddBreakerCheck("director", func() circuitbreaker.State { return tt.breaker })

			status := h.CheckAll(context.Background())
			assert.Equal(t, tt.want, status.Status)
			assert.Equal(t, tt.want == StatusHealthy, h.IsHealthy(context.Background()))
			assert.Equal(t, []string{"director", "session"}, h.Names())
			if tt.failing != "" {
				assert.NotEqual(t, StatusHealthy, status.Checks[tt.failing])
			}
		})
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Checks["slow"], "deadline exceeded")
}
