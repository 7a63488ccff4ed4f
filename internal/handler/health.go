package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker *healthcheck.Checker
	version string
	started time.Time
}

func NewHealthHandler(checker *healthcheck.Checker, version string) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		version: version,
		started: time.Now(),
	}
}

// Handles GET /health. Degraded and unhealthy both answer 503.
func (h *HealthHandler) Health(c *gin.Context) {
	if c.Query("fresh") == "true" {
		h.checker.CheckNow(c.Request.Context())
	}

	overall := h.checker.OverallHealth()

	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "indicator-gateway",
		"version":   h.version,
		"uptime":    time.Since(h.started).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    h.checker.GetAllStatus(),
	})
}
