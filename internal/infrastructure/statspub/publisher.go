package statspub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rillview/internal/core/domain"
	"rillview/pkg/batch"
	"rillview/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the part of the client the publisher uses. *redis.Client and
// redis.UniversalClient satisfy it.
type Redis interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Connect opens a pooled client and waits for the server to answer PING.
func Connect(ctx context.Context, opts Options, retryCfg retry.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Retry(ctx, retryCfg, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", opts.Address,
		"db", opts.DB,
		"pool_size", opts.PoolSize,
	)
	return client, nil
}

// Message is the JSON document published for every observer callback.
type Message struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	StreamName string          `json:"stream_name"`
	At         time.Time       `json:"at"`
	Payload    json.RawMessage `json:"payload"`
}

type stateChangePayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Attempt  int    `json:"attempt"`
	Terminal bool   `json:"terminal"`
	Error    string `json:"error,omitempty"`
}

type serverEventPayload struct {
	Event string             `json:"event"`
	Data  domain.ServerEvent `json:"data"`
}

// Publisher fans observer callbacks out to a Redis pub/sub channel. Nothing
// is stored; subscribers that are not listening miss the messages.
type Publisher struct {
	client     Redis
	channel    string
	sessionID  string
	streamName string
	now        func() time.Time
	logger     *zap.SugaredLogger
	batcher    *batch.Batcher[Message]
}

func NewPublisher(client Redis, channel, sessionID, streamName string, logger *zap.SugaredLogger) *Publisher {
	p := &Publisher{
		client:     client,
		channel:    channel,
		sessionID:  sessionID,
		streamName: streamName,
		now:        time.Now,
		logger:     logger,
	}
	p.batcher = batch.New[Message](
		batch.Config{Size: 16, Interval: 250 * time.Millisecond, MaxPending: 256},
		p.publish,
		func(err error) { logger.Warnw("Failed to publish stats", "channel", channel, "error", err) },
	)
	return p
}

func (p *Publisher) publish(ctx context.Context, messages []Message) error {
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal %s message: %w", m.Type, err)
		}
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", p.channel, err)
		}
	}
	return nil
}

func (p *Publisher) enqueue(kind string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warnw("Failed to encode stats message", "type", kind, "error", err)
		return
	}
	msg := Message{
		Type:       kind,
		SessionID:  p.sessionID,
		StreamName: p.streamName,
		At:         p.now(),
		Payload:    raw,
	}
	if !p.batcher.Add(msg) {
		p.logger.Debugw("Stats message dropped", "type", kind)
	}
}

func (p *Publisher) OnStateChanged(change domain.StateChange) {
	payload := stateChangePayload{
		From:     change.From.String(),
		To:       change.To.String(),
		Attempt:  change.Attempt,
		Terminal: change.Terminal,
	}
	if change.Err != nil {
		payload.Error = change.Err.Error()
	}
	p.enqueue("state", payload)
}

func (p *Publisher) OnStats(stats domain.ConnectionStats) {
	p.enqueue("stats", stats)
}

func (p *Publisher) OnServerEvent(event domain.ServerEvent) {
	p.enqueue("event", serverEventPayload{Event: string(event.Name()), Data: event})
}

// Close publishes what is still queued.
func (p *Publisher) Close(ctx context.Context) error {
	return p.batcher.Stop(ctx)
}

// Dropped counts messages lost to a full queue.
func (p *Publisher) Dropped() uint64 {
	return p.batcher.Dropped()
}
