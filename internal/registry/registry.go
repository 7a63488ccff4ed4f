// Package registry holds the set of provisioned API keys as an immutable
// snapshot. Request handling only ever reads it; the provisioning path
// replaces the whole snapshot at once.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"go.uber.org/zap"
)

// Record is what the gateway knows about a key at request time.
type Record struct {
	KeyHash        string
	AccountName    string
	Tier           models.Tier
	RequestCeiling int
}

// Source is anything that can list the currently active keys.
type Source interface {
	ListActive(ctx context.Context) ([]models.APIKey, error)
}

type Registry struct {
	snapshot atomic.Pointer[map[string]Record]
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("registry")}
	empty := make(map[string]Record)
	r.snapshot.Store(&empty)
	return r
}

// HashKey returns the hex SHA-256 of a plaintext key. Only hashes are kept.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Lookup resolves a plaintext key against the current snapshot.
func (r *Registry) Lookup(key string) (Record, bool) {
	return r.LookupHash(HashKey(key))
}

func (r *Registry) LookupHash(hash string) (Record, bool) {
	records := *r.snapshot.Load()
	rec, ok := records[hash]
	return rec, ok
}

func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// Reload swaps in a new snapshot. Records with an invalid or anonymous tier
// are skipped.
func (r *Registry) Reload(records []Record) {
	next := make(map[string]Record, len(records))
	for _, rec := range records {
		if !rec.Tier.Assignable() {
			r.logger.Warn("skipping key with unassignable tier",
				zap.String("account", rec.AccountName),
				zap.String("tier", string(rec.Tier)),
			)
			continue
		}
		next[rec.KeyHash] = rec
	}

	r.snapshot.Store(&next)
	r.logger.Info("registry reloaded", zap.Int("keys", len(next)))
}

// Refresh rebuilds the snapshot from a source, keeping any static records
// (configured seed keys) alongside the provisioned ones.
func (r *Registry) Refresh(ctx context.Context, src Source, static []Record) error {
	keys, err := src.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active keys: %w", err)
	}

	records := make([]Record, 0, len(keys)+len(static))
	records = append(records, static...)
	for _, k := range keys {
		records = append(records, FromModel(k))
	}

	r.Reload(records)
	return nil
}

func FromModel(k models.APIKey) Record {
	return Record{
		KeyHash:        k.KeyHash,
		AccountName:    k.Name,
		Tier:           k.Tier,
		RequestCeiling: k.RequestCeiling,
	}
}

// Seed builds a record from a plaintext key, for keys that come from
// configuration rather than the database.
func Seed(key, account string, tier models.Tier, ceiling int) Record {
	return Record{
		KeyHash:        HashKey(key),
		AccountName:    account,
		Tier:           tier,
		RequestCeiling: ceiling,
	}
}
