package handler

import (
	"net/http"
	"sort"
	"strings"

	"github.com/aman-churiwal/indicator-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handles rate limiter inspection and store breaker endpoints
type SystemHandler struct {
	limiter  *ratelimit.Limiter
	breakers map[string]*circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewSystemHandler(limiter *ratelimit.Limiter, breakers map[string]*circuitbreaker.CircuitBreaker, logger *zap.Logger) *SystemHandler {
	if breakers == nil {
		breakers = make(map[string]*circuitbreaker.CircuitBreaker)
	}

	return &SystemHandler{
		limiter:  limiter,
		breakers: breakers,
		logger:   logger.Named("system"),
	}
}

type quotaRecord struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"resetAt"`
	Expired    bool   `json:"expired"`
}

// Handles GET /admin/ratelimit?prefix=key:
func (h *SystemHandler) RateLimitSnapshot(c *gin.Context) {
	records, err := h.limiter.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	prefix := c.Query("prefix")
	now := h.limiter.Now()

	out := make([]quotaRecord, 0, len(records))
	for id, rec := range records {
		if prefix != "" && !strings.HasPrefix(id, prefix) {
			continue
		}

		out = append(out, quotaRecord{
			Identifier: id,
			Count:      rec.Count,
			Limit:      rec.Limit,
			Remaining:  max(0, rec.Limit-rec.Count),
			ResetAt:    rec.ResetAt.UTC().Format(envelope.TimeFormat),
			Expired:    rec.Expired(now),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })

	policies := make(gin.H, len(h.limiter.Policies()))
	for tier, p := range h.limiter.Policies() {
		policies[string(tier)] = gin.H{
			"window":      p.Window.String(),
			"maxRequests": p.MaxRequests,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"records":  out,
		"count":    len(out),
		"policies": policies,
	})
}

// Handles DELETE /admin/ratelimit/:identifier
func (h *SystemHandler) ResetRateLimit(c *gin.Context) {
	identifier := c.Param("identifier")

	if err := h.limiter.Reset(c.Request.Context(), identifier); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("quota reset",
		zap.String("identifier", identifier),
		zap.String("by", c.GetString("email")),
	)

	c.JSON(http.StatusOK, gin.H{
		"message":    "Rate limit reset successfully",
		"identifier": identifier,
	})
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]interface{}, len(h.breakers))

	for name, breaker := range h.breakers {
		metrics := breaker.Metrics()

		statuses[name] = gin.H{
			"state":             metrics.State.String(),
			"failure_count":     metrics.FailureCount,
			"success_count":     metrics.SuccessCount,
			"last_failure_time": metrics.LastFailureTime,
			"last_state_change": metrics.LastStateChange,
		}
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	breaker, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Circuit breaker not found",
		})
		return
	}

	breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"name":    name,
	})
}
