// Package gateway is the request pipeline every data endpoint passes
// through:
//
//	Preflight -> Authenticate -> RateLimit -> RequireTier (per route) -> Handle
//
// Each stage is a gin middleware and may abort with an envelope error. The
// rate-limit stage commits the counter before the handler runs, so quota
// accounting holds no matter how the handler behaves.
package gateway

import (
	"strings"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/metrics"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderTier      = "X-RateLimit-Tier"
	HeaderRequestID = "X-Request-ID"

	tracerName = "github.com/aman-churiwal/indicator-gateway/internal/gateway"
)

type CORSConfig struct {
	AllowOrigin   string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        time.Duration
}

func DefaultCORS() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", auth.HeaderAPIKey},
		ExposeHeaders: []string{
			HeaderLimit,
			HeaderRemaining,
			HeaderReset,
			HeaderTier,
			HeaderRequestID,
		},
		MaxAge: 24 * time.Hour,
	}
}

type Config struct {
	// HandlerTimeout bounds a single handler invocation. Zero disables it.
	HandlerTimeout time.Duration
	CORS           CORSConfig

	CredentialResolvers []auth.CredentialResolver
	IdentifierResolvers []auth.IdentifierResolver
}

type Pipeline struct {
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	metrics       *metrics.Metrics
	logger        *zap.Logger
	tracer        trace.Tracer

	timeout     time.Duration
	corsHeaders map[string]string
	credentials []auth.CredentialResolver
	identifiers []auth.IdentifierResolver
	now         func() time.Time
}

func New(cfg Config, authenticator *auth.Authenticator, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if len(cfg.CredentialResolvers) == 0 {
		cfg.CredentialResolvers = auth.DefaultCredentialResolvers()
	}
	if len(cfg.IdentifierResolvers) == 0 {
		cfg.IdentifierResolvers = auth.DefaultIdentifierResolvers()
	}
	if cfg.CORS.AllowOrigin == "" {
		cfg.CORS = DefaultCORS()
	}

	return &Pipeline{
		authenticator: authenticator,
		limiter:       limiter,
		metrics:       m,
		logger:        logger.Named("gateway"),
		tracer:        otel.Tracer(tracerName),
		timeout:       cfg.HandlerTimeout,
		corsHeaders:   corsHeaders(cfg.CORS),
		credentials:   cfg.CredentialResolvers,
		identifiers:   cfg.IdentifierResolvers,
		now:           time.Now,
	}
}

func corsHeaders(cfg CORSConfig) map[string]string {
	h := map[string]string{
		"Access-Control-Allow-Origin":   cfg.AllowOrigin,
		"Access-Control-Allow-Methods":  strings.Join(cfg.AllowMethods, ", "),
		"Access-Control-Allow-Headers":  strings.Join(cfg.AllowHeaders, ", "),
		"Access-Control-Expose-Headers": strings.Join(cfg.ExposeHeaders, ", "),
	}
	if cfg.MaxAge > 0 {
		h["Access-Control-Max-Age"] = formatSeconds(cfg.MaxAge)
	}
	return h
}

// Stages returns the always-on stages in order. Register them on the route
// group that holds the data endpoints.
func (p *Pipeline) Stages() gin.HandlersChain {
	return gin.HandlersChain{
		p.Preflight(),
		p.Authenticate(),
		p.RateLimit(),
	}
}

// abort terminates the request with an error envelope.
func (p *Pipeline) abort(c *gin.Context, stage string, e *envelope.Error) {
	c.Set(ContextErrorCode, e.Kind)
	p.record(c, stage, string(e.Kind))
	c.AbortWithStatusJSON(e.Status(), envelope.ErrorBody(e, p.now()))
}

func (p *Pipeline) record(c *gin.Context, stage, code string) {
	if p.metrics == nil {
		return
	}

	tier := "unknown"
	if rc, ok := RequestContextFrom(c); ok {
		tier = string(rc.Tier)
	}

	p.metrics.Decisions.WithLabelValues(stage, code, tier).Inc()
}
