package cooldown

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COOLDOWN STORE - TTL dedup guard against duplicate submissions
// ═══════════════════════════════════════════════════════════════════════════════

// Store is a TTL key-value guard. SetIfAbsent must be atomic: under
// concurrent callers with the same key, exactly one may win the slot.
type Store interface {
	// SetIfAbsent claims key for ttl. Returns true if the key was absent
	// (or expired) and is now held, false if the cooldown is still active.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key builds the dedup key for a trade submission.
func Key(wallet string, chainID int64, src, dst string) string {
	return fmt.Sprintf("cooldown:%s:%d:%s:%s",
		strings.ToLower(wallet), chainID, strings.ToUpper(src), strings.ToUpper(dst))
}

// MemoryStore is a process-local Store. Suitable for tests and
// single-node deployments; multi-node setups need a shared backend with
// the same compare-and-set contract.
type MemoryStore struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		expiry:  make(map[string]time.Time),
		now:     time.Now,
		gcEvery: time.Minute,
	}
}

// SetIfAbsent implements Store. Check and set happen under one lock.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.gcLocked(now)

	if until, ok := s.expiry[key]; ok && now.Before(until) {
		return false, nil
	}
	s.expiry[key] = now.Add(ttl)
	return true, nil
}

// gcLocked drops expired keys so the map stays bounded.
func (s *MemoryStore) gcLocked(now time.Time) {
	if now.Sub(s.lastGC) < s.gcEvery {
		return
	}
	for k, until := range s.expiry {
		if now.After(until) {
			delete(s.expiry, k)
		}
	}
	s.lastGC = now
}
