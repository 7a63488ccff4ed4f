package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthenticator() *Authenticator {
	reg := registry.New(zap.NewNop())
	reg.Reload([]registry.Record{
		registry.Seed("k1", "acme", models.TierFree, 100),
		registry.Seed("k-pro", "globex", models.TierPro, 1000),
	})
	return NewAuthenticator(reg)
}

func strPtr(s string) *string { return &s }

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator()

	tests := []struct {
		name      string
		candidate *string
		want      Result
	}{
		{"no key is anonymous", nil, Result{Valid: true, Tier: models.TierAnonymous}},
		{"known free key", strPtr("k1"), Result{Valid: true, Tier: models.TierFree, AccountName: "acme"}},
		{"known pro key", strPtr("k-pro"), Result{Valid: true, Tier: models.TierPro, AccountName: "globex"}},
		{"unknown key", strPtr("nope"), Result{Valid: false, Tier: models.TierAnonymous}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Authenticate(tt.candidate))
		})
	}
}

func TestAuthenticate_Idempotent(t *testing.T) {
	a := newTestAuthenticator()

	for _, c := range []*string{nil, strPtr("k1"), strPtr("nope")} {
		assert.Equal(t, a.Authenticate(c), a.Authenticate(c))
	}
}

func TestExtractCandidate_HeaderBeatsQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/indicators?api_key=from-query", nil)
	req.Header.Set(HeaderAPIKey, "from-header")

	got := ExtractCandidate(req, DefaultCredentialResolvers())
	require.NotNil(t, got)
	assert.Equal(t, "from-header", *got)
}

func TestExtractCandidate_QueryFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/indicators?api_key=from-query", nil)

	got := ExtractCandidate(req, DefaultCredentialResolvers())
	require.NotNil(t, got)
	assert.Equal(t, "from-query", *got)
}

func TestExtractCandidate_BlankIsKeyless(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/indicators?api_key=", nil)
	req.Header.Set(HeaderAPIKey, "   ")

	assert.Nil(t, ExtractCandidate(req, DefaultCredentialResolvers()))
}

func TestIdentify(t *testing.T) {
	resolvers := DefaultIdentifierResolvers()

	valid := Result{Valid: true, Tier: models.TierFree}
	id := Identify(strPtr("k1"), valid, "10.0.0.1", resolvers)
	assert.Equal(t, "key:"+registry.HashKey("k1"), id)

	anon := Result{Valid: true, Tier: models.TierAnonymous}
	assert.Equal(t, "ip:10.0.0.1", Identify(nil, anon, "10.0.0.1", resolvers))
	assert.Equal(t, "anonymous", Identify(nil, anon, "", resolvers))
}

func TestIdentify_InvalidKeyFallsBackToAddress(t *testing.T) {
	invalid := Result{Valid: false, Tier: models.TierAnonymous}
	assert.Equal(t, "ip:10.0.0.2", Identify(strPtr("bad"), invalid, "10.0.0.2", DefaultIdentifierResolvers()))
}
