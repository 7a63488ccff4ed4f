package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local store. It never fails and does not
// survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, id string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[id] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if rec.ResetAt.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}

	return removed, nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Record, len(m.records))
	for id, rec := range m.records {
		out[id] = rec
	}

	return out, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
