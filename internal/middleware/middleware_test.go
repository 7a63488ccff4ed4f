package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/metrics"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/aman-churiwal/indicator-gateway/internal/repository"
	"github.com/aman-churiwal/indicator-gateway/internal/service"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()

	db, err := storage.NewDatabase("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	return db
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	fields, err := envelope.ParseError(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, envelope.KindInternal, fields.Code)
	assert.Equal(t, "kaboom", fields.Error)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	minted := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, minted.Header().Get(RequestIDHeader))
	assert.Equal(t, minted.Header().Get(RequestIDHeader), minted.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	propagated := serve(r, req)
	assert.Equal(t, "abc-123", propagated.Header().Get(RequestIDHeader))
}

func TestLogger_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	r := gin.New()
	r.Use(Logger(zap.NewNop(), m))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `gateway_http_requests_total{method="GET",route="/ping",status="204"} 1`)
}

func TestRequireAuth(t *testing.T) {
	ctx := context.Background()
	auth := service.NewAuthService(repository.NewUserRepository(newTestDB(t)), "secret", time.Hour)
	_, err := auth.EnsureAdmin(ctx, "ops@example.com", "pw")
	require.NoError(t, err)
	token, err := auth.Login(ctx, "ops@example.com", "pw")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/admin", RequireAuth(auth), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("email"))
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(r, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	ctx := context.Background()
	auth := service.NewAuthService(repository.NewUserRepository(newTestDB(t)), "secret", time.Hour)
	_, err := auth.EnsureAdmin(ctx, "admin@example.com", "pw")
	require.NoError(t, err)
	_, err = auth.Register(ctx, service.RegisterRequest{
		Email:    "operator@example.com",
		Password: "pw",
		Role:     models.RoleOperator,
		MaxTier:  models.TierPro,
	})
	require.NoError(t, err)

	r := gin.New()
	authed := r.Group("", RequireAuth(auth))
	authed.GET("/whoami", func(c *gin.Context) {
		p := Principal(c)
		c.String(http.StatusOK, string(p.Role)+"/"+string(p.MaxTier))
	})
	authed.POST("/reset", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	call := func(method, path, email string) *httptest.ResponseRecorder {
		token, err := auth.Login(ctx, email, "pw")
		require.NoError(t, err)
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return serve(r, req)
	}

	rec := call(http.MethodGet, "/whoami", "operator@example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator/pro", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, call(http.MethodPost, "/reset", "operator@example.com").Code)
	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "/reset", "admin@example.com").Code)
}

func TestThrottleByIP(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.PolicyTable{
		models.TierAnonymous: {Window: time.Minute, MaxRequests: 2},
	})

	r := gin.New()
	r.POST("/login", ThrottleByIP(limiter, "login", zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, send("10.1.1.1:1"))
	assert.Equal(t, http.StatusOK, send("10.1.1.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.1.1.1:3"))
	assert.Equal(t, http.StatusOK, send("10.1.1.2:1"))
}

func TestRequestLogger_FlushesOnShutdown(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewRequestLogRepository(db)
	rl := NewRequestLogger(repo, 10, time.Hour, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go rl.Run(ctx)

	r := gin.New()
	r.Use(RequestID(), rl.Middleware())
	r.GET("/api/v1/indicators", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/indicators", nil))
	}

	cancel()
	select {
	case <-rl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request logger did not stop")
	}

	logs, err := repo.FindByTimeRange(context.Background(), time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, models.TierAnonymous, logs[0].Tier)
	assert.NotEmpty(t, logs[0].RequestID)
}

func TestRequestLogger_DropsWhenFull(t *testing.T) {
	m := metrics.New()
	rl := NewRequestLogger(nil, 1, time.Hour, zap.NewNop(), m)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, rl.entries, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "gateway_request_log_dropped_total 2")
}
