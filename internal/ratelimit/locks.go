package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultStripes = 256

// stripedLocks hands out one of a fixed set of mutexes per identifier, so
// two requests for the same identifier never interleave their
// read-modify-write while different identifiers rarely contend.
type stripedLocks struct {
	mus []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return &stripedLocks{mus: make([]sync.Mutex, n)}
}

func (s *stripedLocks) forID(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.mus[h.Sum32()%uint32(len(s.mus))]
}

// lockedStore turns any Store into an AtomicStore by running the step under
// the identifier's stripe lock. Only valid while this process is the sole
// writer of the underlying store.
type lockedStore struct {
	Store
	locks *stripedLocks
}

func withLocks(s Store) AtomicStore {
	if as, ok := s.(AtomicStore); ok {
		return as
	}
	return &lockedStore{Store: s, locks: newStripedLocks(defaultStripes)}
}

func (l *lockedStore) Step(ctx context.Context, id string, now time.Time, policy Policy) (Record, error) {
	mu := l.locks.forID(id)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := l.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	if !ok || rec.Expired(now) {
		rec = Record{
			Count:   0,
			ResetAt: now.Add(policy.Window),
			Limit:   policy.MaxRequests,
		}
	}

	rec.Count++

	if err := l.Set(ctx, id, rec); err != nil {
		return Record{}, err
	}

	return rec, nil
}
