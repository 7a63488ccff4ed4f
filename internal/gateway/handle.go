package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// HandlerFunc is route logic behind the pipeline. It must not write to the
// response; it returns a payload (optionally an envelope.Payload carrying
// extra meta) or an error. ctx carries the handler deadline.
type HandlerFunc func(ctx context.Context, c *gin.Context, rc auth.RequestContext) (any, error)

// StatusClientClosedRequest is written when the caller goes away before the
// handler finishes. Nobody reads it; it keeps access logs and metrics apart
// from real failures.
const StatusClientClosedRequest = 499

type outcome struct {
	result any
	err    error
}

// Handle runs h under the handler deadline and renders its outcome as an
// envelope. h runs on a copy of the gin context so a timed-out handler can
// keep running without touching the response.
func (p *Pipeline) Handle(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, _ := RequestContextFrom(c)

		ctx := c.Request.Context()
		var cancel context.CancelFunc = func() {}
		if p.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		defer cancel()

		ctx, span := p.tracer.Start(ctx, "gateway.handle "+c.FullPath())
		defer span.End()
		span.SetAttributes(
			attribute.String("gateway.tier", string(rc.Tier)),
			attribute.String("http.route", c.FullPath()),
		)

		done := make(chan outcome, 1)
		cp := c.Copy()

		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("handler panicked",
						zap.Any("panic", r),
						zap.String("path", cp.Request.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					done <- outcome{err: envelope.New(envelope.KindInternal, fmt.Sprint(r))}
				}
			}()

			result, err := h(ctx, cp, rc)
			done <- outcome{result: result, err: err}
		}()

		var out outcome
		select {
		case out = <-done:
		case <-ctx.Done():
			out = outcome{err: ctx.Err()}
		}

		if out.err != nil && clientGone(c, out.err) {
			span.SetAttributes(attribute.Bool("gateway.client_canceled", true))
			p.logger.Debug("client went away",
				zap.String("path", c.Request.URL.Path),
			)
			p.record(c, "handler", "canceled")
			c.AbortWithStatus(StatusClientClosedRequest)
			return
		}

		if out.err != nil {
			e := envelope.From(out.err)

			span.RecordError(out.err)
			span.SetStatus(codes.Error, string(e.Kind))

			if e.Status() >= http.StatusInternalServerError {
				p.logger.Error("handler failed",
					zap.String("path", c.Request.URL.Path),
					zap.String("code", string(e.Kind)),
					zap.Error(out.err),
				)
			}

			p.abort(c, "handler", e)
			return
		}

		p.record(c, "handler", "ok")
		c.JSON(http.StatusOK, envelope.Success(out.result, p.now()))
	}
}

// clientGone reports whether err is the request's own cancellation rather
// than a handler failure.
func clientGone(c *gin.Context, err error) bool {
	return errors.Is(err, context.Canceled) && errors.Is(c.Request.Context().Err(), context.Canceled)
}
