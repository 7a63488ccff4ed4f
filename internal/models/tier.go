package models

import "fmt"

// Tier is the access class of a caller. It selects the quota policy and
// decides which routes the caller may reach.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierAnonymous:  0,
	TierFree:       1,
	TierPro:        2,
	TierEnterprise: 3,
}

// Tiers lists every tier from lowest to highest.
func Tiers() []Tier {
	return []Tier{TierAnonymous, TierFree, TierPro, TierEnterprise}
}

func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t ranks at or above min. Unknown tiers rank below
// everything.
func (t Tier) AtLeast(min Tier) bool {
	r, ok := tierRank[t]
	if !ok {
		return false
	}
	return r >= tierRank[min]
}

// Assignable reports whether an API key may carry this tier. Anonymous is
// reserved for keyless callers.
func (t Tier) Assignable() bool {
	return t.Valid() && t != TierAnonymous
}

func (t Tier) String() string {
	return string(t)
}
