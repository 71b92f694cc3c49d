package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/infrastructure/middleware"
	"rillview/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSessionController struct {
	mock.Mock
}

func (m *MockSessionController) Snapshot() domain.Session {
	args := m.Called()
	return args.Get(0).(domain.Session)
}

func (m *MockSessionController) State() domain.SessionState {
	args := m.Called()
	return args.Get(0).(domain.SessionState)
}

func (m *MockSessionController) LatestStats() (domain.ConnectionStats, bool) {
	args := m.Called()
	return args.Get(0).(domain.ConnectionStats), args.Bool(1)
}

func (m *MockSessionController) SelectLayer(ctx context.Context, layer *domain.Layer) error {
	args := m.Called(ctx, layer)
	return args.Error(0)
}

func (m *MockSessionController) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestRouter(t *testing.T, session *MockSessionController, health *monitoring.HealthChecker, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "rillview_test_total"}))

	handler := NewSessionHandler(session, health, reg)
	return NewRouter(RouterConfig{
		SessionID: "sess-1",
		Token:     token,
		RateLimit: middleware.RateLimitConfig{Enabled: false},
	}, handler, zap.NewNop().Sugar())
}

func do(router *gin.Engine, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_Health(t *testing.T) {
	session := new(MockSessionController)
	session.On("State").Return(domain.SessionStateActive)

	health := monitoring.NewHealthChecker()
	healthy := true
	health.AddCheck("session", func(ctx context.Context) (bool, error) {
		if healthy {
			return true, nil
		}
		return false, errors.New("session failed")
	}, time.Second)

	router := newTestRouter(t, session, health, "")

	w := do(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"active"`)

	healthy = false
	w = do(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "session failed")
}

func TestSessionHandler_GetSession(t *testing.T) {
	session := new(MockSessionController)
	session.On("Snapshot").Return(domain.Session{
		ID:        "sess-1",
		StateName: "active",
		Target:    domain.Target{StreamName: "demo"},
	})

	router := newTestRouter(t, session, nil, "")
	w := do(router, http.MethodGet, "/api/v1/session", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Session domain.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "sess-1", body.Session.ID)
	assert.Equal(t, "active", body.Session.StateName)
}

func TestSessionHandler_GetStats(t *testing.T) {
	t.Run("none yet", func(t *testing.T) {
		session := new(MockSessionController)
		session.On("LatestStats").Return(domain.ConnectionStats{}, false)
		session.On("State").Return(domain.SessionStateNegotiating)

		w := do(newTestRouter(t, session, nil, ""), http.MethodGet, "/api/v1/session/stats", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("latest", func(t *testing.T) {
		session := new(MockSessionController)
		session.On("LatestStats").Return(domain.ConnectionStats{SessionID: "sess-1", LossPercent: 1.5}, true)

		w := do(newTestRouter(t, session, nil, ""), http.MethodGet, "/api/v1/session/stats", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"loss_percent":1.5`)
	})
}

func TestSessionHandler_SelectLayer(t *testing.T) {
	spatial := 2

	tests := []struct {
		name      string
		body      interface{}
		wantLayer *domain.Layer
		callErr   error
		wantCode  int
		wantCall  bool
	}{
		{
			name:      "pin encoding with defaults",
			body:      gin.H{"encoding_id": "h"},
			wantLayer: &domain.Layer{EncodingID: "h", SpatialLayerID: -1, TemporalLayerID: -1},
			wantCode:  http.StatusOK,
			wantCall:  true,
		},
		{
			name:      "pin spatial layer",
			body:      gin.H{"spatial_layer_id": spatial},
			wantLayer: &domain.Layer{SpatialLayerID: 2, TemporalLayerID: -1},
			wantCode:  http.StatusOK,
			wantCall:  true,
		},
		{
			name:      "auto clears pin",
			body:      gin.H{"auto": true},
			wantLayer: nil,
			wantCode:  http.StatusOK,
			wantCall:  true,
		},
		{
			name:     "empty request",
			body:     gin.H{},
			wantCode: http.StatusBadRequest,
		},
		{
			name:      "not connected",
			body:      gin.H{"encoding_id": "l"},
			wantLayer: &domain.Layer{EncodingID: "l", SpatialLayerID: -1, TemporalLayerID: -1},
			callErr:   domain.ErrNotConnected,
			wantCode:  http.StatusConflict,
			wantCall:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := new(MockSessionController)
			if tt.wantCall {
				session.On("SelectLayer", mock.Anything, tt.wantLayer).Return(tt.callErr)
			}

			w := do(newTestRouter(t, session, nil, ""), http.MethodPost, "/api/v1/session/layer", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			session.AssertExpectations(t)
			if !tt.wantCall {
				session.AssertNotCalled(t, "SelectLayer", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestSessionHandler_SelectLayer_InvalidJSON(t *testing.T) {
	session := new(MockSessionController)
	router := newTestRouter(t, session, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/layer", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
}

func TestSessionHandler_Disconnect(t *testing.T) {
	session := new(MockSessionController)
	session.On("Disconnect", mock.Anything).Return(nil)
	session.On("State").Return(domain.SessionStateIdle)

	router := newTestRouter(t, session, nil, "s3cret")

	w := do(router, http.MethodPost, "/api/v1/session/disconnect", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	session.AssertNotCalled(t, "Disconnect", mock.Anything)

	w = do(router, http.MethodPost, "/api/v1/session/disconnect", nil, map[string]string{
		"Authorization": "Bearer s3cret",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
	session.AssertExpectations(t)
}

func TestSessionHandler_Metrics(t *testing.T) {
	router := newTestRouter(t, new(MockSessionController), nil, "")

	w := do(router, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rillview_test_total")
}
