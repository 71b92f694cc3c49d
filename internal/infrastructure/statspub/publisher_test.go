package statspub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"rillview/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRedis struct {
	mu       sync.Mutex
	err      error
	channels []string
	payloads [][]byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) messages(t *testing.T) []Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.payloads))
	for _, p := range f.payloads {
		var m Message
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func TestPublisher_PublishesObserverCallbacks(t *testing.T) {
	fake := &fakeRedis{}
	p := NewPublisher(fake, "rillview:stats", "s1", "feed", zaptest.NewLogger(t).Sugar())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	p.OnStateChanged(domain.StateChange{From: domain.SessionStateIdle, To: domain.SessionStateNegotiating, Attempt: 1})
	p.OnStats(domain.ConnectionStats{SessionID: "s1", BitrateBps: 1500000, LossPercent: 1.5})
	p.OnServerEvent(domain.ViewerCount{Count: 42})
	p.OnStateChanged(domain.StateChange{From: domain.SessionStateNegotiating, To: domain.SessionStateError, Terminal: true, Err: errors.New("stream not found")})
	require.NoError(t, p.Close(context.Background()))

	msgs := fake.messages(t)
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		assert.Equal(t, "s1", m.SessionID)
		assert.Equal(t, "feed", m.StreamName)
		assert.True(t, m.At.Equal(at))
	}
	assert.Equal(t, []string{"state", "stats", "event", "state"}, []string{msgs[0].Type, msgs[1].Type, msgs[2].Type, msgs[3].Type})

	var state stateChangePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &state))
	assert.Equal(t, "negotiating", state.To)

	var stats domain.ConnectionStats
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &stats))
	assert.Equal(t, 1500000.0, stats.BitrateBps)

	var event struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &event))
	assert.Equal(t, "viewercount", event.Event)
	assert.EqualValues(t, 42, event.Data["Count"])

	require.NoError(t, json.Unmarshal(msgs[3].Payload, &state))
	assert.True(t, state.Terminal)
	assert.Equal(t, "stream not found", state.Error)

	fake.mu.Lock()
	assert.Equal(t, "rillview:stats", fake.channels[0])
	fake.mu.Unlock()
}

func TestPublisher_ErrorsDoNotBlockCallers(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	p := NewPublisher(fake, "rillview:stats", "s1", "feed", zaptest.NewLogger(t).Sugar())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			p.OnStats(domain.ConnectionStats{SessionID: "s1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStats blocked on a failing Redis")
	}
	require.NoError(t, p.Close(context.Background()))
	assert.Empty(t, fake.messages(t))
}
