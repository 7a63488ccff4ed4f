package gateway

import (
	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const (
	ContextRequest   = "gateway.request"
	ContextQuota     = "gateway.quota"
	ContextErrorCode = "gateway.error_code"
)

// RequestContextFrom returns what the Authenticate stage resolved.
func RequestContextFrom(c *gin.Context) (auth.RequestContext, bool) {
	v, ok := c.Get(ContextRequest)
	if !ok {
		return auth.RequestContext{}, false
	}
	rc, ok := v.(auth.RequestContext)
	return rc, ok
}

// QuotaFrom returns the rate-limit decision for this request.
func QuotaFrom(c *gin.Context) (ratelimit.Result, bool) {
	v, ok := c.Get(ContextQuota)
	if !ok {
		return ratelimit.Result{}, false
	}
	res, ok := v.(ratelimit.Result)
	return res, ok
}

// ErrorCodeFrom returns the error kind the request terminated with, if any.
func ErrorCodeFrom(c *gin.Context) (envelope.Kind, bool) {
	v, ok := c.Get(ContextErrorCode)
	if !ok {
		return "", false
	}
	kind, ok := v.(envelope.Kind)
	return kind, ok
}
