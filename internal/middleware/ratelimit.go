package middleware

import (
	"net/http"
	"strconv"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ThrottleByIP limits a route per client address with its own limiter,
// separate from the data quota. Used on admin login.
func ThrottleByIP(limiter *ratelimit.Limiter, scope string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := scope + ":" + c.ClientIP()

		res, err := limiter.Check(c.Request.Context(), id, models.TierAnonymous)
		if err != nil {
			// fails open
			logger.Warn("throttle check failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.ResetAt.Sub(limiter.Now()).Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":    "Too many attempts",
				"reset_at": res.ResetAt,
			})
			return
		}

		c.Next()
	}
}
