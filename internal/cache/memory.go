package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memEntry struct {
	val       string
	expiresAt time.Time
}

// MemoryStore is a bounded in-process cache
type MemoryStore struct {
	data  *lru.Cache[string, memEntry]
	clock Clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a cache holding at most capacity entries
func NewMemoryStore(capacity int, clock Clock) (*MemoryStore, error) {
	data, err := lru.New[string, memEntry](capacity)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}
	return &MemoryStore{data: data, clock: clock}, nil
}

// Get returns a live entry. Expired entries are evicted on read.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	e, ok := s.data.Get(key)
	if !ok {
		return "", false, nil
	}
	if s.clock.Now().After(e.expiresAt) {
		s.data.Remove(key)
		return "", false, nil
	}
	return e.val, true, nil
}

// Set stores val for ttl, or DefaultTTL when ttl is not positive
func (s *MemoryStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.data.Add(key, memEntry{val: val, expiresAt: s.clock.Now().Add(ttl)})
	return nil
}

// Delete removes key if present
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.data.Remove(key)
	return nil
}

// InvalidatePattern removes every key containing pattern
func (s *MemoryStore) InvalidatePattern(ctx context.Context, pattern string) error {
	for _, key := range s.data.Keys() {
		if strings.Contains(key, pattern) {
			s.data.Remove(key)
		}
	}
	return nil
}

// Len returns the number of entries, expired ones included
func (s *MemoryStore) Len() int {
	return s.data.Len()
}
