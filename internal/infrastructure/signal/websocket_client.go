package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	apperrors "rillview/pkg/errors"
	"rillview/pkg/tracing"
	"rillview/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ClientConfig struct {
	Dialect           Dialect
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	MaxMessageBytes   int64
	CommandsPerSecond float64
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Dialect:           DialectSubscribe,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      20 * time.Second,
		PongTimeout:       45 * time.Second,
		MaxMessageBytes:   256 * 1024,
		CommandsPerSecond: 5,
	}
}

// WebSocketClient is a single-use signaling connection. Once closed it
// cannot be reconnected; the session builds a new one per attempt.
type WebSocketClient struct {
	cfg     ClientConfig
	codec   *Codec
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool

	writeMu sync.Mutex

	inbound   chan ports.TransportEvent
	done      chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

var _ ports.SignalingTransport = (*WebSocketClient)(nil)

func NewWebSocketClient(cfg ClientConfig, logger *zap.SugaredLogger) *WebSocketClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = DefaultClientConfig().CommandsPerSecond
	}
	burst := int(cfg.CommandsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &WebSocketClient{
		cfg:   cfg,
		codec: NewCodec(cfg.Dialect),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), burst),
		inbound: make(chan ports.TransportEvent, 32),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Connect dials url and starts the reader. It is not retried here.
func (c *WebSocketClient) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.NewConnectionError("transport already closed", nil)
	}
	if c.started {
		c.mu.Unlock()
		return apperrors.NewConnectionError("transport already connected", nil)
	}
	c.mu.Unlock()

	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		appErr := apperrors.NewConnectionError("websocket handshake failed", err)
		if resp != nil {
			appErr.WithContext("status", resp.StatusCode)
		}
		return appErr
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return apperrors.NewConnectionError("transport closed during connect", nil)
	}
	c.conn = conn
	c.started = true
	c.mu.Unlock()

	if c.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	c.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline(conn)
		return nil
	})

	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn)
	}

	c.logger.Infow("signaling connected", "url", redactToken(url))
	return nil
}

func (c *WebSocketClient) Inbound() <-chan ports.TransportEvent {
	return c.inbound
}

// Send writes one message. Commands are throttled; everything else is sent
// immediately.
func (c *WebSocketClient) Send(ctx context.Context, msg domain.SignalingMessage) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return apperrors.NewSendError("cannot send "+string(msg.MessageType()), domain.ErrNotConnected)
	}

	if msg.MessageType() == domain.MessageTypeCommand {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewSendError("command throttled", err)
		}
	}

	ctx, span := tracing.TraceSignalingMessage(ctx, string(msg.MessageType()))
	defer span.End()

	data, err := c.codec.Encode(msg)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewSendError("encode failed", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(c.writeDeadline())
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewSendError("write failed", err)
	}
	return nil
}

// Close is idempotent. A close frame is sent best-effort.
func (c *WebSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn, started := c.conn, c.started
		c.mu.Unlock()

		close(c.done)
		if !started {
			close(c.inbound)
			return
		}

		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	defer close(c.inbound)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Infow("signaling connection closed", "error", err)
			c.emit(ports.TransportEvent{Err: apperrors.NewConnectionError("signaling connection closed", err)})
			return
		}
		c.extendReadDeadline(conn)

		msg, err := c.codec.Decode(data)
		if err != nil {
			if errors.Is(err, ErrCommandAck) {
				c.logger.Debugw("command acknowledged")
			} else {
				c.logger.Warnw("dropping signaling frame", "error", err, "frame", utils.TruncateString(string(data), 256))
			}
			continue
		}

		if !c.emit(ports.TransportEvent{Message: msg}) {
			return
		}
	}
}

func (c *WebSocketClient) writeDeadline() time.Time {
	if c.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.WriteTimeout)
}

func (c *WebSocketClient) extendReadDeadline(conn *websocket.Conn) {
	if c.cfg.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	}
}

func (c *WebSocketClient) emit(ev ports.TransportEvent) bool {
	select {
	case c.inbound <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *WebSocketClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, c.writeDeadline())
			c.writeMu.Unlock()
			if err != nil {
				// the read deadline will surface the failure
				c.logger.Debugw("error sending ping", "error", err)
				return
			}
		}
	}
}

func redactToken(url string) string {
	i := strings.Index(url, "token=")
	if i < 0 {
		return url
	}
	return url[:i+6] + utils.MaskSensitive(url[i+6:], 6)
}
