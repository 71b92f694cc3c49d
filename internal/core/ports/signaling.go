package ports

import (
	"context"

	"rillview/internal/core/domain"
)

// TransportEvent is one inbound item. Err is only set on the terminal event,
// after which the channel is closed.
type TransportEvent struct {
	Message domain.SignalingMessage
	Err     error
}

type SignalingTransport interface {
	Connect(ctx context.Context, url string) error
	Send(ctx context.Context, msg domain.SignalingMessage) error
	Inbound() <-chan TransportEvent
	Close() error
}

// TransportFactory builds a fresh, unconnected transport per attempt.
type TransportFactory func() SignalingTransport

type Director interface {
	Authenticate(ctx context.Context, target domain.Target) (*domain.Credentials, error)
}
