package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type memKey struct {
	identifier string
	purpose    string
}

type memEntry struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps windows in process memory. It suits a single instance
// and tests; multi-instance deployments use the PostgreSQL store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memKey]*memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memKey]*memEntry)}
}

func (s *MemoryStore) Hit(ctx context.Context, identifier, purpose string, limit int, window time.Duration, now time.Time) (*models.RateLimitEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{identifier: identifier, purpose: purpose}
	e, ok := s.entries[k]
	if !ok || !now.Before(e.resetAt) {
		e = &memEntry{resetAt: now.Add(window)}
		s.entries[k] = e
	}
	if e.count <= limit {
		e.count++
	}

	return &models.RateLimitEntry{
		Identifier: identifier,
		Purpose:    purpose,
		Count:      e.count,
		ResetAt:    e.resetAt,
	}, nil
}

func (s *MemoryStore) Reset(ctx context.Context, identifier, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, memKey{identifier: identifier, purpose: purpose})
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
