package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Preflight attaches the CORS headers to every response and answers OPTIONS
// with an empty 200 before any other stage runs.
func (p *Pipeline) Preflight() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range p.corsHeaders {
			h.Set(k, v)
		}

		if c.Request.Method == http.MethodOptions {
			p.record(c, "preflight", "ok")
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// Authenticate resolves the caller's tier. A missing credential is an
// anonymous caller; an unknown one is rejected before it can touch any
// quota.
func (p *Pipeline) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate := auth.ExtractCandidate(c.Request, p.credentials)
		res := p.authenticator.Authenticate(candidate)

		if !res.Valid {
			p.abort(c, "auth", envelope.New(envelope.KindInvalidAPIKey, "Invalid API key"))
			return
		}

		c.Set(ContextRequest, auth.RequestContext{
			Tier:        res.Tier,
			APIKey:      candidate,
			AccountName: res.AccountName,
			Identifier:  auth.Identify(candidate, res, c.ClientIP(), p.identifiers),
		})

		c.Next()
	}
}

// RateLimit counts the request against its identifier's window. Quota
// headers are set before the decision so they ride on every later response,
// including 429 and handler errors.
func (p *Pipeline) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c)
		if !ok {
			p.abort(c, "ratelimit", envelope.New(envelope.KindInternal, "request context missing"))
			return
		}

		res, err := p.limiter.Check(c.Request.Context(), rc.Identifier, rc.Tier)
		if err != nil {
			p.logger.Error("rate limit check failed",
				zap.String("identifier", rc.Identifier),
				zap.Error(err),
			)
			if p.metrics != nil {
				p.metrics.StoreErrors.WithLabelValues("check").Inc()
			}
			p.abort(c, "ratelimit", envelope.Wrap(envelope.KindInternal, err, "rate limit unavailable"))
			return
		}

		c.Set(ContextQuota, res)

		h := c.Writer.Header()
		h.Set(HeaderLimit, strconv.Itoa(res.Limit))
		h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
		h.Set(HeaderReset, res.ResetAt.UTC().Format(envelope.TimeFormat))
		h.Set(HeaderTier, string(rc.Tier))

		if !res.Allowed {
			retryAfter := res.ResetAt.Sub(p.now())
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			h.Set("Retry-After", formatSeconds(retryAfter))

			p.abort(c, "ratelimit", envelope.New(envelope.KindRateLimitExceeded, "Rate limit exceeded").
				With("limit", res.Limit).
				With("resetAt", res.ResetAt.UTC().Format(envelope.TimeFormat)))
			return
		}

		c.Next()
	}
}

// RequireTier rejects callers below min. It must run after RateLimit so the
// rejected attempt is still counted.
func (p *Pipeline) RequireTier(min models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c)
		if !ok || !rc.Tier.AtLeast(min) {
			tier := models.TierAnonymous
			if ok {
				tier = rc.Tier
			}
			p.abort(c, "tiergate", envelope.Newf(envelope.KindTierUpgradeRequired,
				"This endpoint requires the %s tier or higher", min).
				With("requiredTier", min).
				With("currentTier", tier))
			return
		}

		c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int((d + time.Second - 1) / time.Second))
}
