package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedSessionKeyPrefix = "admin-session-revoked:"

// MemoryRevocationStore keeps revoked session ids in process. Single-instance deployments and tests only.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationStore constructs an empty store. A nil clock uses time.Now.
func NewMemoryRevocationStore(clock func() time.Time) *MemoryRevocationStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRevocationStore{revoked: make(map[string]time.Time), now: clock}
}

// Revoke records the id until the session would have expired anyway.
func (s *MemoryRevocationStore) Revoke(_ context.Context, sessionID string, until time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("auth: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, expiry := range s.revoked {
		if !now.Before(expiry) {
			delete(s.revoked, id)
		}
	}
	if until.After(now) {
		s.revoked[sessionID] = until
	}
	return nil
}

// IsRevoked reports whether the id was revoked and has not aged out.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.revoked[strings.TrimSpace(sessionID)]
	if !ok {
		return false, nil
	}
	return s.now().Before(expiry), nil
}

// RedisRevocationStore shares revocations across instances; keys expire with the session.
type RedisRevocationStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisRevocationStore wraps an existing client.
func NewRedisRevocationStore(client redis.UniversalClient, clock func() time.Time) (*RedisRevocationStore, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisRevocationStore{client: client, now: clock}, nil
}

// Revoke implements the revocation store contract.
func (s *RedisRevocationStore) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("auth: session id is required")
	}
	ttl := sessionTTL(until, s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedSessionKeyPrefix+sessionID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("auth: revoke session: %w", err)
	}
	return nil
}

// IsRevoked implements the revocation store contract.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedSessionKeyPrefix+strings.TrimSpace(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("auth: check revocation: %w", err)
	}
	return n > 0, nil
}
