package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatbridge/pkg/metrics"
)

// Store is the dedup cache contract. Seen reports whether key was already
// recorded within the TTL window and records it as a side effect: the
// first call for a key returns false, every call within the TTL returns
// true, and after the TTL elapses the key is eligible again.
//
// Two independent stores run in the bridge, one keyed by gateway message
// ids and one by inbox message ids; the platforms' id spaces are disjoint.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is the default Store: process-local, TTL-expiring, with a
// hard size ceiling. Entries survive neither restarts nor the TTL window;
// a restart inside the window can therefore produce a real duplicate
// delivery, which matches the accepted risk of the memory store (use the
// Redis store when that is not acceptable).
type MemoryStore struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once
}

type MemoryOption func(*MemoryStore)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(name string, ttl time.Duration, maxEntries int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]time.Time),
		stopSweep:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()

	return s
}

func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if insertedAt, ok := s.entries[key]; ok {
		if now.Sub(insertedAt) < s.ttl {
			metrics.DedupChecksTotal.WithLabelValues(s.name, "duplicate").Inc()
			return true, nil
		}
		// Expired entry: fall through and re-record.
	}

	s.entries[key] = now

	if len(s.entries) > s.maxEntries {
		s.evictOldestLocked()
	}

	metrics.DedupChecksTotal.WithLabelValues(s.name, "unique").Inc()
	return false, nil
}

func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
	return nil
}

// evictOldestLocked drops the older half of the cache. Losing entries
// early only risks a duplicate relay, never a dropped message, so soft
// eviction is the right trade under sustained load.
func (s *MemoryStore) evictOldestLocked() {
	type entry struct {
		key        string
		insertedAt time.Time
	}

	all := make([]entry, 0, len(s.entries))
	for k, t := range s.entries {
		all = append(all, entry{key: k, insertedAt: t})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].insertedAt.Before(all[j].insertedAt)
	})

	for _, e := range all[:len(all)/2] {
		delete(s.entries, e.key)
	}
}

func (s *MemoryStore) sweepLoop() {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	for key, insertedAt := range s.entries {
		if now.Sub(insertedAt) >= s.ttl {
			delete(s.entries, key)
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	metrics.SetDedupCacheSize(s.name, size)
}
