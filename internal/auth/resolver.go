package auth

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/indicator-gateway/internal/registry"
)

const (
	HeaderAPIKey = "X-API-Key"
	QueryAPIKey  = "api_key"

	anonymousIdentifier = "anonymous"
)

// CredentialResolver pulls a candidate key out of a request. An empty
// return means "not present here".
type CredentialResolver func(r *http.Request) string

func FromHeader(name string) CredentialResolver {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

func FromQuery(name string) CredentialResolver {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.URL.Query().Get(name))
	}
}

// DefaultCredentialResolvers checks the header before the query string.
func DefaultCredentialResolvers() []CredentialResolver {
	return []CredentialResolver{
		FromHeader(HeaderAPIKey),
		FromQuery(QueryAPIKey),
	}
}

// ExtractCandidate runs the resolvers in order. The first non-empty value
// wins; nil means the request is keyless.
func ExtractCandidate(r *http.Request, resolvers []CredentialResolver) *string {
	for _, resolve := range resolvers {
		if v := resolve(r); v != "" {
			return &v
		}
	}
	return nil
}

// IdentifierResolver derives a rate-limit bucket name from an authenticated
// request. An empty return passes to the next resolver.
type IdentifierResolver func(candidate *string, res Result, clientIP string) string

func ByKey(candidate *string, res Result, _ string) string {
	if candidate == nil || !res.Valid {
		return ""
	}
	return "key:" + registry.HashKey(*candidate)
}

func ByAddress(_ *string, _ Result, clientIP string) string {
	if clientIP == "" {
		return ""
	}
	return "ip:" + clientIP
}

func DefaultIdentifierResolvers() []IdentifierResolver {
	return []IdentifierResolver{ByKey, ByAddress}
}

// Identify runs the resolvers in order and falls back to the literal
// "anonymous" bucket.
func Identify(candidate *string, res Result, clientIP string, resolvers []IdentifierResolver) string {
	for _, resolve := range resolvers {
		if id := resolve(candidate, res, clientIP); id != "" {
			return id
		}
	}
	return anonymousIdentifier
}
