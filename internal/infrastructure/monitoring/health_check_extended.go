package monitoring

import (
	"context"
	"fmt"
	"time"

	"rillview/internal/core/domain"
	"rillview/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// SessionStatus is the part of the session the health check needs.
type SessionStatus interface {
	State() domain.SessionState
	Err() error
}

// AddSessionCheck fails once the session has given up. A session that is
// reconnecting is still healthy.
func (h *HealthChecker) AddSessionCheck(session SessionStatus) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		if err := session.Err(); err != nil {
			return false, err
		}
		return true, nil
	}, 0)
}

// AddRedisCheck adds a Redis health check for the stats publisher.
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddBreakerCheck fails while the named circuit breaker is open.
func (h *HealthChecker) AddBreakerCheck(name string, state func() circuitbreaker.State) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if s := state(); s == circuitbreaker.StateOpen {
			return false, fmt.Errorf("circuit breaker %s", s)
		}
		return true, nil
	}, 0)
}
