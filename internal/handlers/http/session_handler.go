package http

import (
	"context"
	"net/http"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	"rillview/internal/infrastructure/monitoring"
	apperrors "rillview/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const disconnectTimeout = 5 * time.Second

// SessionHandler exposes the running subscribe session to operators.
type SessionHandler struct {
	session  ports.SessionController
	health   *monitoring.HealthChecker
	gatherer prometheus.Gatherer
	started  time.Time
}

// NewSessionHandler wires the admin API. A nil gatherer disables /metrics.
func NewSessionHandler(
	session ports.SessionController,
	health *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *SessionHandler {
	return &SessionHandler{
		session:  session,
		health:   health,
		gatherer: gatherer,
		started:  time.Now(),
	}
}

// SetupRoutes registers the admin routes. auth guards the mutating routes.
func (h *SessionHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/health", h.Health)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1/session")
	{
		api.GET("", h.GetSession)
		api.GET("/stats", h.GetStats)
		api.POST("/layer", auth, h.SelectLayer)
		api.POST("/disconnect", auth, h.Disconnect)
	}
}

func (h *SessionHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status.Status,
		"state":     h.session.State().String(),
		"checks":    status.Checks,
		"timestamp": status.Timestamp,
		"uptime":    time.Since(h.started).String(),
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": h.session.Snapshot(),
	})
}

func (h *SessionHandler) GetStats(c *gin.Context) {
	stats, ok := h.session.LatestStats()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "NO_STATS",
			"message": "no stats collected yet",
			"state":   h.session.State().String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

type selectLayerRequest struct {
	// Auto returns layer choice to the server and the configured hints.
	Auto            bool   `json:"auto"`
	EncodingID      string `json:"encoding_id"`
	SpatialLayerID  *int   `json:"spatial_layer_id"`
	TemporalLayerID *int   `json:"temporal_layer_id"`
}

func (h *SessionHandler) SelectLayer(c *gin.Context) {
	var req selectLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request body: " + err.Error()))
		return
	}

	var layer *domain.Layer
	if !req.Auto {
		if req.EncodingID == "" && req.SpatialLayerID == nil && req.TemporalLayerID == nil {
			_ = c.Error(apperrors.NewInvalidInputError("either auto or a layer is required"))
			return
		}
		layer = &domain.Layer{
			EncodingID:      req.EncodingID,
			SpatialLayerID:  valueOr(req.SpatialLayerID, -1),
			TemporalLayerID: valueOr(req.TemporalLayerID, -1),
		}
	}

	if err := h.session.SelectLayer(c.Request.Context(), layer); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"selected_layer": layer,
	})
}

func (h *SessionHandler) Disconnect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), disconnectTimeout)
	defer cancel()

	if err := h.session.Disconnect(ctx); err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "disconnect did not complete", http.StatusGatewayTimeout))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state": h.session.State().String(),
	})
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
