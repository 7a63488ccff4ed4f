package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/indicator-gateway/internal/dataset"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/gateway"
	"github.com/aman-churiwal/indicator-gateway/internal/healthcheck"
	"github.com/aman-churiwal/indicator-gateway/internal/metrics"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/aman-churiwal/indicator-gateway/internal/registry"
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

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newDataRouter(t *testing.T) (*gin.Engine, *ratelimit.Limiter) {
	t.Helper()

	dir := t.TempDir()
	writeDoc(t, filepath.Join(dir, dataset.IndicatorsDir, "gdp.json"), `{"country":"KE","value":5.2}`)
	writeDoc(t, filepath.Join(dir, dataset.IndicatorsDir, "inflation.json"), `{"country":"KE","value":6.8}`)
	writeDoc(t, filepath.Join(dir, dataset.IndicatorsDir, "poverty.json"), `{"country":`)
	writeDoc(t, filepath.Join(dir, dataset.ScenariosDir, "drought.json"), `{"gdp_delta":-1.1}`)

	reg := registry.New(zap.NewNop())
	reg.Reload([]registry.Record{
		registry.Seed("free-key", "acme", models.TierFree, 100),
		registry.Seed("pro-key", "globex", models.TierPro, 1000),
	})

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultPolicies())
	p := gateway.New(gateway.Config{HandlerTimeout: time.Second}, auth.NewAuthenticator(reg), limiter, metrics.New(), zap.NewNop())

	data := NewDataHandler(dataset.NewReader(dir))

	r := gin.New()
	api := r.Group("/api/v1", p.Stages()...)
	api.GET("/indicators", p.Handle(data.ListIndicators))
	api.GET("/indicators/:name", p.Handle(data.GetIndicator))
	api.GET("/usage", p.Handle(data.Usage))

	scenarios := api.Group("/scenarios", p.RequireTier(models.TierPro))
	scenarios.GET("", p.Handle(data.ListScenarios))
	scenarios.GET("/:id", p.Handle(data.GetScenario))

	return r, limiter
}

func get(r http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(auth.HeaderAPIKey, key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type successBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func decodeSuccess(t *testing.T, rec *httptest.ResponseRecorder) successBody {
	t.Helper()
	var body successBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	return body
}

func TestDataHandler_ListIndicators(t *testing.T) {
	r, _ := newDataRouter(t)

	rec := get(r, "/api/v1/indicators", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeSuccess(t, rec)
	assert.JSONEq(t, `["gdp","inflation","poverty"]`, string(body.Data))
	assert.EqualValues(t, 3, body.Meta["count"])
	assert.NotEmpty(t, body.Meta["timestamp"])
}

func TestDataHandler_GetIndicator(t *testing.T) {
	r, _ := newDataRouter(t)

	rec := get(r, "/api/v1/indicators/gdp", "free-key")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeSuccess(t, rec)
	assert.JSONEq(t, `{"country":"KE","value":5.2}`, string(body.Data))
	assert.Equal(t, "gdp", body.Meta["indicator"])
}

func TestDataHandler_IndicatorErrors(t *testing.T) {
	r, _ := newDataRouter(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   envelope.Kind
	}{
		{"missing", "/api/v1/indicators/unemployment", http.StatusNotFound, envelope.KindDataNotFound},
		{"unreadable", "/api/v1/indicators/poverty", http.StatusInternalServerError, envelope.KindFetch},
		{"bad name", "/api/v1/indicators/GDP", http.StatusNotFound, envelope.KindDataNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(r, tt.path, "")
			assert.Equal(t, tt.status, rec.Code)

			fields, err := envelope.ParseError(rec.Body.Bytes())
			require.NoError(t, err)
			assert.Equal(t, tt.code, fields.Code)
		})
	}
}

func TestDataHandler_ScenariosRequirePro(t *testing.T) {
	r, _ := newDataRouter(t)

	rec := get(r, "/api/v1/scenarios", "free-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(r, "/api/v1/scenarios", "pro-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["drought"]`, string(decodeSuccess(t, rec).Data))

	rec = get(r, "/api/v1/scenarios/drought", "pro-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"gdp_delta":-1.1}`, string(decodeSuccess(t, rec).Data))

	rec = get(r, "/api/v1/scenarios/flood", "pro-key")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	fields, err := envelope.ParseError(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, envelope.KindScenarioNotFound, fields.Code)
}

func TestDataHandler_Usage(t *testing.T) {
	r, _ := newDataRouter(t)

	get(r, "/api/v1/indicators", "free-key")
	rec := get(r, "/api/v1/usage", "free-key")
	require.Equal(t, http.StatusOK, rec.Code)

	var usage struct {
		Tier          string `json:"tier"`
		Authenticated bool   `json:"authenticated"`
		Account       string `json:"account"`
		Limit         int    `json:"limit"`
		Remaining     int    `json:"remaining"`
		ResetAt       string `json:"resetAt"`
	}
	require.NoError(t, json.Unmarshal(decodeSuccess(t, rec).Data, &usage))

	assert.Equal(t, "free", usage.Tier)
	assert.True(t, usage.Authenticated)
	assert.Equal(t, "acme", usage.Account)
	assert.Equal(t, 100, usage.Limit)
	assert.Equal(t, 98, usage.Remaining)
	_, err := time.Parse(time.RFC3339, usage.ResetAt)
	assert.NoError(t, err)
}

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()

	db, err := storage.NewDatabase("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	return db
}

func newKeyRouter(t *testing.T) (*gin.Engine, *registry.Registry) {
	t.Helper()

	r, reg, _ := newKeyRouterAs(t, models.User{Email: "admin@example.com", Role: models.RoleAdmin})
	return r, reg
}

// newKeyRouterAs serves the key routes as if RequireAuth had admitted user.
func newKeyRouterAs(t *testing.T, user models.User) (*gin.Engine, *registry.Registry, *service.APIKeyService) {
	t.Helper()

	reg := registry.New(zap.NewNop())
	svc := service.NewAPIKeyService(repository.NewAPIKeyRepository(newTestDB(t)), reg, ratelimit.DefaultPolicies(), nil, nil, zap.NewNop())
	h := NewAPIKeyHandler(svc)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("email", user.Email)
		c.Set("role", string(user.Role))
		c.Set("max_tier", string(user.MaxTier))
		c.Next()
	})
	r.POST("/admin/keys", h.Create)
	r.GET("/admin/keys", h.List)
	r.GET("/admin/keys/:id", h.Get)
	r.PATCH("/admin/keys/:id", h.Update)
	r.DELETE("/admin/keys/:id", h.Delete)

	return r, reg, svc
}

func send(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyHandler_Lifecycle(t *testing.T) {
	r, reg := newKeyRouter(t)

	rec := send(r, http.MethodPost, "/admin/keys", `{"name":"acme","tier":"pro"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Key    string        `json:"key"`
		APIKey models.APIKey `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Key, "ek_"))
	assert.NotContains(t, rec.Body.String(), "key_hash")

	record, ok := reg.Lookup(created.Key)
	require.True(t, ok)
	assert.Equal(t, models.TierPro, record.Tier)

	id := created.APIKey.ID.String()

	rec = send(r, http.MethodPatch, "/admin/keys/"+id, `{"tier":"enterprise"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	record, _ = reg.Lookup(created.Key)
	assert.Equal(t, models.TierEnterprise, record.Tier)

	rec = send(r, http.MethodGet, "/admin/keys/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(r, http.MethodDelete, "/admin/keys/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = reg.Lookup(created.Key)
	assert.False(t, ok)

	rec = send(r, http.MethodDelete, "/admin/keys/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyHandler_Validation(t *testing.T) {
	r, _ := newKeyRouter(t)

	rec := send(r, http.MethodPost, "/admin/keys", `{"name":"acme","tier":"anonymous"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(r, http.MethodPost, "/admin/keys", `{"tier":"pro"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(r, http.MethodPost, "/admin/keys", `{"name":"acme","tier":"free"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		APIKey models.APIKey `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = send(r, http.MethodPatch, "/admin/keys/"+created.APIKey.ID.String(), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyHandler_OperatorScope(t *testing.T) {
	r, _, svc := newKeyRouterAs(t, models.User{Email: "ops@example.com", Role: models.RoleOperator, MaxTier: models.TierPro})

	rec := send(r, http.MethodPost, "/admin/keys", `{"name":"acme","tier":"enterprise"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(r, http.MethodPost, "/admin/keys", `{"name":"acme","tier":"free"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		APIKey models.APIKey `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ops@example.com", created.APIKey.CreatedBy)
	id := created.APIKey.ID.String()

	rec = send(r, http.MethodPatch, "/admin/keys/"+id, `{"tier":"enterprise"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(r, http.MethodPatch, "/admin/keys/"+id, `{"tier":"pro"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, big, err := svc.Create(context.Background(), "bigco", "admin@example.com", models.TierEnterprise)
	require.NoError(t, err)

	rec = send(r, http.MethodDelete, "/admin/keys/"+big.ID.String(), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(r, http.MethodDelete, "/admin/keys/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyHandler_OperatorWithoutScope(t *testing.T) {
	r, _, _ := newKeyRouterAs(t, models.User{Email: "ops@example.com", Role: models.RoleOperator})

	rec := send(r, http.MethodPost, "/admin/keys", `{"name":"acme","tier":"free"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSystemHandler_RateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "ip:10.0.0.1", models.TierAnonymous)
		require.NoError(t, err)
	}
	_, err := limiter.Check(ctx, "key:abc", models.TierFree)
	require.NoError(t, err)

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "ratelimit-redis", MaxFailures: 1})
	h := NewSystemHandler(limiter, map[string]*circuitbreaker.CircuitBreaker{"ratelimit-redis": breaker}, zap.NewNop())

	r := gin.New()
	r.GET("/admin/ratelimit", h.RateLimitSnapshot)
	r.DELETE("/admin/ratelimit/:identifier", h.ResetRateLimit)
	r.GET("/admin/breakers", h.CircuitBreakerStatus)
	r.POST("/admin/breakers/:name/reset", h.ResetCircuitBreaker)

	rec := send(r, http.MethodGet, "/admin/ratelimit?prefix=ip:", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot struct {
		Records []quotaRecord `json:"records"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Equal(t, 1, snapshot.Count)
	assert.Equal(t, "ip:10.0.0.1", snapshot.Records[0].Identifier)
	assert.Equal(t, 3, snapshot.Records[0].Count)
	assert.Equal(t, 17, snapshot.Records[0].Remaining)

	rec = send(r, http.MethodDelete, "/admin/ratelimit/ip:10.0.0.1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	res, err := limiter.Check(ctx, "ip:10.0.0.1", models.TierAnonymous)
	require.NoError(t, err)
	assert.Equal(t, 19, res.Remaining)

	require.Error(t, breaker.Call(func() error { return assert.AnError }))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	rec = send(r, http.MethodGet, "/admin/breakers", "")
	assert.Contains(t, rec.Body.String(), `"state":"open"`)

	rec = send(r, http.MethodPost, "/admin/breakers/ratelimit-redis/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	rec = send(r, http.MethodPost, "/admin/breakers/unknown/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	checker := healthcheck.NewChecker(healthcheck.Config{}, zap.NewNop(),
		healthcheck.Dependency{Name: "data", Critical: true, Check: func(context.Context) error { return nil }},
		healthcheck.Dependency{Name: "redis", Check: func(context.Context) error { return assert.AnError }},
	)
	h := NewHealthHandler(checker, "test")

	r := gin.New()
	r.GET("/health", h.Health)

	rec := send(r, http.MethodGet, "/health?fresh=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
