package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
)

// Policy is the quota for one tier.
type Policy struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// PolicyTable maps every tier to its quota. It is built once at startup and
// never mutated afterwards.
type PolicyTable map[models.Tier]Policy

func DefaultPolicies() PolicyTable {
	return PolicyTable{
		models.TierAnonymous:  {Window: time.Hour, MaxRequests: 20},
		models.TierFree:       {Window: time.Hour, MaxRequests: 100},
		models.TierPro:        {Window: time.Hour, MaxRequests: 1000},
		models.TierEnterprise: {Window: time.Hour, MaxRequests: 10000},
	}
}

// For returns the policy of a tier. Unknown tiers get the anonymous quota.
func (p PolicyTable) For(tier models.Tier) Policy {
	if policy, ok := p[tier]; ok {
		return policy
	}
	return p[models.TierAnonymous]
}

func (p PolicyTable) Validate() error {
	for _, tier := range models.Tiers() {
		policy, ok := p[tier]
		if !ok {
			return fmt.Errorf("missing rate limit policy for tier %q", tier)
		}
		if policy.Window <= 0 {
			return fmt.Errorf("tier %q: window must be positive", tier)
		}
		if policy.MaxRequests <= 0 {
			return fmt.Errorf("tier %q: max_requests must be positive", tier)
		}
	}

	for tier := range p {
		if !tier.Valid() {
			return fmt.Errorf("unknown tier %q in rate limit policies", tier)
		}
	}

	return nil
}
