package director

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rillview/internal/core/domain"
	"rillview/pkg/circuitbreaker"
	apperrors "rillview/pkg/errors"
	"rillview/pkg/tracing"
	"rillview/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxErrorBody = 512

type Config struct {
	URL string
	// SubscribeToken authorizes secure streams. Empty requests an
	// unauthorized subscribe.
	SubscribeToken string
	Timeout        time.Duration
	Breaker        circuitbreaker.Config
}

// Client exchanges a stream target for signaling credentials.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

func NewClient(config Config, httpClient *http.Client, logger *zap.SugaredLogger) (*Client, error) {
	if err := validation.ValidateDirectorURL(config.URL); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("director url %q: %v", config.URL, err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// Rejections are answers, not outages.
	config.Breaker.IsFailure = func(err error) bool {
		return !apperrors.IsAuthError(err) && !errors.Is(err, context.Canceled)
	}
	breaker := circuitbreaker.New(config.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Director circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}, nil
}

type subscribeRequest struct {
	StreamAccountID       string `json:"streamAccountId"`
	StreamName            string `json:"streamName"`
	UnauthorizedSubscribe string `json:"unauthorizedSubscribe,omitempty"`
}

type subscribeResponse struct {
	Data struct {
		JWT        string             `json:"jwt"`
		URLs       []string           `json:"urls"`
		ICEServers []domain.ICEServer `json:"iceServers"`
	} `json:"data"`
}

// Authenticate implements ports.Director.
func (c *Client) Authenticate(ctx context.Context, target domain.Target) (*domain.Credentials, error) {
	ctx, span := tracing.TraceHTTPRequest(ctx, http.MethodPost, c.config.URL)
	defer span.End()
	span.SetAttributes(attribute.String("stream.name", target.StreamName))

	creds, err := circuitbreaker.Do(ctx, c.breaker, func(ctx context.Context) (*domain.Credentials, error) {
		return c.authenticate(ctx, target)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = apperrors.NewConnectionError("director unavailable", err)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	c.logger.Infow("Director authenticated",
		"stream_name", target.StreamName,
		"ice_servers", len(creds.ICEServers),
		"expires_at", creds.ExpiresAt,
	)
	return creds, nil
}

func (c *Client) authenticate(ctx context.Context, target domain.Target) (*domain.Credentials, error) {
	body := subscribeRequest{
		StreamAccountID: target.AccountID,
		StreamName:      target.StreamName,
	}
	authorization := "NoAuth"
	if c.config.SubscribeToken != "" {
		authorization = "Bearer " + c.config.SubscribeToken
	} else {
		body.UnauthorizedSubscribe = "true"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "encode director request", http.StatusInternalServerError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "build director request", http.StatusInternalServerError)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewConnectionError("director request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var decoded subscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.NewConnectionError("decode director response", err)
	}
	return c.credentials(decoded)
}

func (c *Client) credentials(resp subscribeResponse) (*domain.Credentials, error) {
	data := resp.Data
	if data.JWT == "" || len(data.URLs) == 0 || data.URLs[0] == "" {
		return nil, apperrors.NewConnectionError("director response missing jwt or urls", nil)
	}

	signalingURL, err := url.Parse(data.URLs[0])
	if err != nil {
		return nil, apperrors.NewConnectionError("director returned invalid url", err)
	}
	query := signalingURL.Query()
	query.Set("token", data.JWT)
	signalingURL.RawQuery = query.Encode()

	return &domain.Credentials{
		SignalingURL: signalingURL.String(),
		Token:        data.JWT,
		ICEServers:   data.ICEServers,
		ExpiresAt:    c.tokenExpiry(data.JWT),
	}, nil
}

// tokenExpiry reads exp without verifying the signature; the edge verifies
// the token, the client only uses exp to schedule refreshes.
func (c *Client) tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		c.logger.Debugw("Director token is not a readable JWT", "error", err)
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("director returned HTTP %d", resp.StatusCode)
	if len(raw) > 0 {
		msg += ": " + string(bytes.TrimSpace(raw))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		err := apperrors.NewAuthError(msg, nil)
		err.WithContext("status", resp.StatusCode)
		return err
	default:
		err := apperrors.NewConnectionError(msg, nil)
		err.WithContext("status", resp.StatusCode)
		return err
	}
}

// BreakerState exposes the breaker for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}
