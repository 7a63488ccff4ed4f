package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a panic anywhere in the chain into an INTERNAL_ERROR
// envelope. The stack goes to the log, never to the client.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)

				e := envelope.New(envelope.KindInternal, fmt.Sprint(r))
				c.AbortWithStatusJSON(e.Status(), envelope.ErrorBody(e, time.Now()))
			}
		}()
		c.Next()
	}
}
