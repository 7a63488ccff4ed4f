package middleware

import (
	"strconv"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/gateway"
	"github.com/aman-churiwal/indicator-gateway/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one access log line per request and feeds the HTTP
// metrics. m may be nil.
func Logger(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	logger = logger.Named("access")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "not_found"
		}

		if m != nil {
			m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(latency.Seconds())
		}

		fields := []zap.Field{
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}

		if rc, ok := gateway.RequestContextFrom(c); ok {
			fields = append(fields, zap.String("tier", string(rc.Tier)))
		}
		if code, ok := gateway.ErrorCodeFrom(c); ok {
			fields = append(fields, zap.String("code", string(code)))
		}

		level := zapcore.InfoLevel
		if statusCode >= 500 {
			level = zapcore.ErrorLevel
		}

		logger.Log(level, "request", fields...)
	}
}
