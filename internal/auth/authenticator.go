// Package auth turns a request's credential into a tier. It never mutates
// anything: the same candidate against the same registry snapshot always
// yields the same result.
package auth

import (
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/registry"
)

// Lookup is the read side of the key registry.
type Lookup interface {
	Lookup(key string) (registry.Record, bool)
}

type Result struct {
	Valid       bool
	Tier        models.Tier
	AccountName string
}

// RequestContext is what downstream stages and handlers see about the
// caller.
type RequestContext struct {
	Tier        models.Tier
	APIKey      *string
	AccountName string
	Identifier  string
}

func (rc RequestContext) HasKey() bool {
	return rc.APIKey != nil
}

type Authenticator struct {
	keys Lookup
}

func NewAuthenticator(keys Lookup) *Authenticator {
	return &Authenticator{keys: keys}
}

// Authenticate resolves a candidate key. A nil candidate is an anonymous
// caller and is valid. A supplied but unknown key is invalid and carries the
// anonymous tier.
func (a *Authenticator) Authenticate(candidate *string) Result {
	if candidate == nil {
		return Result{Valid: true, Tier: models.TierAnonymous}
	}

	rec, ok := a.keys.Lookup(*candidate)
	if !ok {
		return Result{Valid: false, Tier: models.TierAnonymous}
	}

	return Result{
		Valid:       true,
		Tier:        rec.Tier,
		AccountName: rec.AccountName,
	}
}
