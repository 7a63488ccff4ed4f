package ratelimit

import (
	"context"
	"time"
)

// Record is the live counter of one identifier. Limit is the ceiling that was
// in force when the window opened; it does not follow tier changes until the
// window resets.
type Record struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
	Limit   int       `json:"limit"`
}

// Expired reports whether the record belongs to a past window. The instant
// now == ResetAt still belongs to the old window.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ResetAt)
}

// Store keeps one Record per identifier. Get/Set are not atomic with each
// other; callers that read-modify-write must serialize per identifier.
type Store interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	Set(ctx context.Context, id string, rec Record) error
	Delete(ctx context.Context, id string) error

	// Sweep removes records whose ResetAt is before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	// Snapshot copies every record. It is not a consistent point-in-time view
	// across identifiers.
	Snapshot(ctx context.Context) (map[string]Record, error)
}

// AtomicStore can perform the whole fixed-window step for one identifier
// atomically: reset if expired, increment, return the resulting record.
type AtomicStore interface {
	Store
	Step(ctx context.Context, id string, now time.Time, policy Policy) (Record, error)
}
