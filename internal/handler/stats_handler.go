package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vie-scolaire/carte-api/internal/middleware"
	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/service"
	"github.com/vie-scolaire/carte-api/pkg/response"
)

type statsService interface {
	Dashboard(ctx context.Context) (*models.DashboardStats, bool, error)
	Statistics(ctx context.Context, period string) (*models.Statistics, bool, error)
}

// StatsHandler exposes the dashboard counters and period aggregates.
type StatsHandler struct {
	service statsService
	metrics *service.MetricsService
}

// NewStatsHandler constructs the handler.
func NewStatsHandler(stats statsService, metrics *service.MetricsService) *StatsHandler {
	return &StatsHandler{service: stats, metrics: metrics}
}

// Dashboard godoc
// @Summary Dashboard counters
// @Tags Statistics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stats/dashboard [get]
func (h *StatsHandler) Dashboard(c *gin.Context) {
	stats, cacheHit, err := h.service.Dashboard(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Statistics godoc
// @Summary Period statistics
// @Tags Statistics
// @Produce json
// @Param period query string false "Period (week|month|year)" default(week)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /stats [get]
func (h *StatsHandler) Statistics(c *gin.Context) {
	period := c.DefaultQuery("period", "week")
	stats, cacheHit, err := h.service.Statistics(c.Request.Context(), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// System godoc
// @Summary System metrics snapshot
// @Description Lightweight runtime metrics for admins
// @Tags Statistics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stats/system [get]
func (h *StatsHandler) System(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
