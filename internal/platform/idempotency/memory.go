package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It backs single-instance deployments without Redis;
// Sweep must run periodically to drop expired entries.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, lease time.Duration, now time.Time) (Claim, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && existing.live(now) {
		return existing.resolve(fingerprint)
	}
	s.entries[key] = entry{Fingerprint: fingerprint, ExpiresAt: now.Add(lease)}
	return Claim{Outcome: Claimed}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp StoredResponse, ttl time.Duration, now time.Time) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[key]
	if !ok || !existing.live(now) || existing.Done || existing.Fingerprint != fingerprint {
		return ErrClaimLost
	}
	s.entries[key] = entry{Fingerprint: fingerprint, Done: true, Response: resp, ExpiresAt: now.Add(ttl)}
	return nil
}

// Abandon drops an unfinished claim held for fingerprint; completed entries are kept.
func (s *MemoryStore) Abandon(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && !existing.Done && existing.Fingerprint == fingerprint {
		delete(s.entries, key)
	}
	return nil
}

// Sweep removes expired entries and reports how many went.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if !e.live(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
