package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/indicator-gateway/internal/config"
	"github.com/aman-churiwal/indicator-gateway/internal/dataset"
	"github.com/aman-churiwal/indicator-gateway/internal/gateway"
	"github.com/aman-churiwal/indicator-gateway/internal/handler"
	"github.com/aman-churiwal/indicator-gateway/internal/healthcheck"
	"github.com/aman-churiwal/indicator-gateway/internal/metrics"
	"github.com/aman-churiwal/indicator-gateway/internal/middleware"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/aman-churiwal/indicator-gateway/internal/registry"
	"github.com/aman-churiwal/indicator-gateway/internal/repository"
	"github.com/aman-churiwal/indicator-gateway/internal/service"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const Version = "1.0.0"

const storeBreakerName = "ratelimit-redis"

var startTime = time.Now()

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	db         *storage.Database
	logger     *zap.Logger
	metrics    *metrics.Metrics
	httpServer *http.Server

	registry      *registry.Registry
	limiter       *ratelimit.Limiter
	loginLimiter  *ratelimit.Limiter
	pipeline      *gateway.Pipeline
	breakers      map[string]*circuitbreaker.CircuitBreaker
	sweepers      []*ratelimit.Sweeper
	checker       *healthcheck.Checker
	apiKeyService *service.APIKeyService
	authService   *service.AuthService
	analytics     *service.AnalyticsService
	requestLogger *middleware.RequestLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the gateway. redis and db may be nil when the configuration
// does not use them.
func New(cfg *config.Config, redis *storage.RedisClient, db *storage.Database, logger *zap.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:   gin.New(),
		config:   cfg,
		redis:    redis,
		db:       db,
		logger:   logger.Named("server"),
		metrics:  metrics.New(),
		registry: registry.New(logger),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}

	// Anonymous quotas and login throttling key on ClientIP, so
	// X-Forwarded-For only counts when it comes from a configured proxy.
	if err := s.router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if err := s.initializeLimiters(); err != nil {
		return nil, err
	}

	if err := s.initializeKeys(); err != nil {
		return nil, err
	}

	s.pipeline = gateway.New(gateway.Config{
		HandlerTimeout: cfg.Gateway.HandlerTimeout,
		CORS:           corsConfig(cfg.Gateway.CORS),
	}, auth.NewAuthenticator(s.registry), s.limiter, s.metrics, logger)

	reader := dataset.NewReader(cfg.Data.Dir, dataset.WithCache(cfg.Data.CacheTTL))
	s.initializeHealth(reader)

	s.setupMiddleware()
	s.setupRoutes(reader)

	return s, nil
}

func (s *Server) initializeLimiters() error {
	cfg := s.config.RateLimit
	policies := cfg.Policies()

	var store ratelimit.Store
	switch cfg.Store {
	case config.StoreMemory:
		memory := ratelimit.NewMemoryStore()
		s.addSweeper(memory)
		store = memory

	case config.StoreRedis, config.StoreFailover:
		if s.redis == nil {
			return fmt.Errorf("rate_limit.store %q requires redis", cfg.Store)
		}

		primary := ratelimit.NewRedisStore(s.redis, ratelimit.RedisStoreConfig{
			KeyPrefix: cfg.KeyPrefix,
			Retention: cfg.Retention,
		})
		store = primary

		if cfg.Store == config.StoreFailover {
			breaker := circuitbreaker.New(circuitbreaker.Config{
				Name:        storeBreakerName,
				MaxFailures: cfg.Breaker.MaxFailures,
				Timeout:     cfg.Breaker.Timeout,
				OnStateChange: func(name string, from, to circuitbreaker.State) {
					s.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
				},
			})
			s.breakers[storeBreakerName] = breaker

			fallback := ratelimit.NewMemoryStore()
			s.addSweeper(fallback)
			store = ratelimit.NewFailoverStore(primary, fallback, breaker, s.logger)
		}
	}

	s.limiter = ratelimit.NewLimiter(store, policies)

	loginStore := ratelimit.NewMemoryStore()
	s.addSweeper(loginStore)
	s.loginLimiter = ratelimit.NewLimiter(loginStore, ratelimit.PolicyTable{
		models.TierAnonymous: {Window: time.Minute, MaxRequests: max(1, s.config.Auth.LoginLimit)},
	})

	s.logger.Info("rate limiter ready",
		zap.String("store", cfg.Store),
		zap.Int("tiers", len(policies)),
	)

	return nil
}

func (s *Server) addSweeper(store ratelimit.Store) {
	sweeper := ratelimit.NewSweeper(store, s.config.RateLimit.SweepInterval, s.config.RateLimit.SweepGrace, s.logger).
		OnSweep(func(removed int) { s.metrics.SweptRecords.Add(float64(removed)) })
	s.sweepers = append(s.sweepers, sweeper)
}

// initializeKeys loads the registry from configuration and, when a database
// is configured, from provisioned keys.
func (s *Server) initializeKeys() error {
	policies := s.config.RateLimit.Policies()

	seeds := make([]registry.Record, 0, len(s.config.APIKeys))
	for _, k := range s.config.APIKeys {
		tier := models.Tier(k.Tier)
		seeds = append(seeds, registry.Seed(k.Key, k.Account, tier, policies.For(tier).MaxRequests))
	}

	if s.db == nil {
		s.registry.Reload(seeds)
		return nil
	}

	s.apiKeyService = service.NewAPIKeyService(repository.NewAPIKeyRepository(s.db), s.registry, policies, seeds, s.redis, s.logger)
	s.authService = service.NewAuthService(repository.NewUserRepository(s.db), s.config.Auth.JWTSecret, s.config.Auth.JWTExpiry)
	s.analytics = service.NewAnalyticsService(repository.NewRequestLogRepository(s.db))

	if s.config.RequestLog.Enabled {
		s.requestLogger = middleware.NewRequestLogger(
			repository.NewRequestLogRepository(s.db),
			s.config.RequestLog.BufferSize,
			s.config.RequestLog.FlushInterval,
			s.logger,
			s.metrics,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.apiKeyService.Reload(ctx); err != nil {
		return err
	}

	if s.config.Auth.AdminEmail != "" && s.config.Auth.AdminPassword != "" {
		created, err := s.authService.EnsureAdmin(ctx, s.config.Auth.AdminEmail, s.config.Auth.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin user: %w", err)
		}
		if created {
			s.logger.Info("bootstrap admin user created", zap.String("email", s.config.Auth.AdminEmail))
		}
	}

	return nil
}

func (s *Server) initializeHealth(reader *dataset.Reader) {
	deps := []healthcheck.Dependency{
		{Name: "data", Critical: true, Check: reader.Check},
	}

	if s.redis != nil {
		deps = append(deps, healthcheck.Dependency{
			Name:     "redis",
			Critical: s.config.RateLimit.Store == config.StoreRedis,
			Check:    s.redis.Ping,
		})
	}

	if s.db != nil {
		deps = append(deps, healthcheck.Dependency{Name: "database", Check: s.db.Ping})
	}

	s.checker = healthcheck.NewChecker(healthcheck.Config{
		Interval: s.config.Health.Interval,
		Timeout:  s.config.Health.Timeout,
	}, s.logger, deps...)
}

func corsConfig(c config.CORSConfig) gateway.CORSConfig {
	out := gateway.DefaultCORS()
	if c.AllowOrigin != "" {
		out.AllowOrigin = c.AllowOrigin
	}
	if len(c.AllowMethods) > 0 {
		out.AllowMethods = c.AllowMethods
	}
	if len(c.AllowHeaders) > 0 {
		out.AllowHeaders = c.AllowHeaders
	}
	if len(c.ExposeHeaders) > 0 {
		out.ExposeHeaders = c.ExposeHeaders
	}
	return out
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger, s.metrics))
}

func (s *Server) setupRoutes(reader *dataset.Reader) {
	health := handler.NewHealthHandler(s.checker, Version)
	s.router.GET("/health", health.Health)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	s.setupAPIRoutes(reader)
	s.setupAdminRoutes()
}

func (s *Server) setupAPIRoutes(reader *dataset.Reader) {
	chain := gin.HandlersChain{}
	if s.requestLogger != nil {
		chain = append(chain, s.requestLogger.Middleware())
	}
	chain = append(chain, s.pipeline.Stages()...)

	data := handler.NewDataHandler(reader)
	p := s.pipeline

	api := s.router.Group("/api/v1", chain...)
	{
		// Preflight answers before this handler runs.
		api.OPTIONS("/*path", func(c *gin.Context) {})

		api.GET("/indicators", p.Handle(data.ListIndicators))
		api.GET("/indicators/:name", p.Handle(data.GetIndicator))
		api.GET("/usage", p.Handle(data.Usage))

		scenarios := api.Group("/scenarios", p.RequireTier(models.TierPro))
		scenarios.GET("", p.Handle(data.ListScenarios))
		scenarios.GET("/:id", p.Handle(data.GetScenario))
	}
}

// setupAdminRoutes registers the admin API. It needs the database for
// users and keys; config-only deployments have no admin surface.
func (s *Server) setupAdminRoutes() {
	if s.authService == nil {
		return
	}

	admin := s.router.Group("/admin")
	if origins := s.config.Gateway.AdminOrigins; len(origins) > 0 {
		admin.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	authHandler := handler.NewAuthHandler(s.authService)
	admin.POST("/login", middleware.ThrottleByIP(s.loginLimiter, "login", s.logger), authHandler.Login)

	protected := admin.Group("", middleware.RequireAuth(s.authService))
	{
		protected.GET("/me", authHandler.Me)
		protected.GET("/status", s.adminStatus)

		keys := handler.NewAPIKeyHandler(s.apiKeyService)
		protected.POST("/keys", keys.Create)
		protected.GET("/keys", keys.List)
		protected.GET("/keys/:id", keys.Get)
		protected.PATCH("/keys/:id", keys.Update)
		protected.DELETE("/keys/:id", keys.Delete)

		analytics := handler.NewAnalyticsHandler(s.analytics)
		protected.GET("/analytics", analytics.GetSummary)
		protected.GET("/analytics/timeseries", analytics.GetTimeSeries)
		protected.GET("/logs", analytics.GetLogs)

		system := handler.NewSystemHandler(s.limiter, s.breakers, s.logger)
		protected.GET("/ratelimit", system.RateLimitSnapshot)
		protected.GET("/breakers", system.CircuitBreakerStatus)

		adminOnly := protected.Group("", middleware.RequireRole(models.RoleAdmin))
		adminOnly.POST("/users", authHandler.CreateUser)
		adminOnly.GET("/users", authHandler.ListUsers)
		adminOnly.DELETE("/logs", analytics.CleanupLogs)
		adminOnly.DELETE("/ratelimit/:identifier", system.ResetRateLimit)
		adminOnly.POST("/breakers/:name/reset", system.ResetCircuitBreaker)

		if s.config.Server.EnablePprof {
			pprof.RouteRegister(adminOnly, "debug/pprof")
		}
	}
}

func (s *Server) adminStatus(c *gin.Context) {
	keys, err := s.apiKeyService.CountByTier(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway":   "running",
		"version":   Version,
		"store":     s.config.RateLimit.Store,
		"api_keys":  keys,
		"registry":  s.registry.Len(),
		"health":    s.checker.OverallHealth().String(),
		"uptime":    time.Since(startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}

// Start launches the background workers: sweepers, request log writer,
// key change watcher, health checks and log retention.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, sweeper := range s.sweepers {
		s.goBackground(func() { sweeper.Run(ctx) })
	}

	if s.requestLogger != nil {
		s.goBackground(func() { s.requestLogger.Run(ctx) })
	}

	if s.apiKeyService != nil && s.redis != nil {
		s.goBackground(func() { s.apiKeyService.Watch(ctx) })
	}

	if s.analytics != nil && s.config.RequestLog.Retention > 0 {
		s.goBackground(func() { s.runLogRetention(ctx) })
	}

	s.checker.Start(ctx)
}

func (s *Server) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Server) runLogRetention(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.analytics.CleanupOldLogs(ctx, s.config.RequestLog.Retention)
			if err != nil {
				s.logger.Warn("request log cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Info("old request logs removed", zap.Int64("deleted", deleted))
			}
		}
	}
}

// Run serves until Shutdown. Concurrent connections are capped at
// server.max_connections.
func (s *Server) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if n := s.config.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("starting indicator gateway",
		zap.String("addr", ln.Addr().String()),
		zap.String("environment", s.config.Server.Environment),
		zap.String("store", s.config.RateLimit.Store),
	)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown drains HTTP, then stops the background workers. The request log
// writer flushes its buffer before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.checker.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("background workers did not stop: %w", ctx.Err()))
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func (s *Server) Registry() *registry.Registry {
	return s.registry
}
