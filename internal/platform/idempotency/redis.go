package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "orders:idem:"

// RedisStore shares claims across instances. Entries carry a Redis TTL equal to their lease
// or retention window, so nothing needs sweeping.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client, prefix: defaultRedisPrefix}, nil
}

// Claim takes the key with SET NX for the lease. When the key is held, the holder's entry
// decides the outcome; if it vanished in between, the claim is retried once.
func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string, lease time.Duration, now time.Time) (Claim, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	payload, err := json.Marshal(entry{Fingerprint: fingerprint, ExpiresAt: now.UTC().Add(lease)})
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: encode entry: %w", err)
	}
	rkey := s.prefix + key
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, rkey, payload, lease).Result()
		if err != nil {
			return Claim{}, fmt.Errorf("idempotency: claim: %w", err)
		}
		if ok {
			return Claim{Outcome: Claimed}, nil
		}
		existing, found, err := load(ctx, s.client, rkey)
		if err != nil {
			return Claim{}, err
		}
		if found {
			return existing.resolve(fingerprint)
		}
	}
	return Claim{}, errors.New("idempotency: claim kept expiring")
}

// Complete swaps our in-flight claim for the stored response inside a WATCH transaction, so
// a claim that expired and was retaken by another request is never overwritten.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, ttl time.Duration, now time.Time) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rkey := s.prefix + key
	payload, err := json.Marshal(entry{Fingerprint: fingerprint, Done: true, Response: resp, ExpiresAt: now.UTC().Add(ttl)})
	if err != nil {
		return fmt.Errorf("idempotency: encode entry: %w", err)
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, found, err := load(ctx, tx, rkey)
		if err != nil {
			return err
		}
		if !found || current.Done || current.Fingerprint != fingerprint {
			return ErrClaimLost
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, payload, ttl)
			return nil
		})
		return err
	}, rkey)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return ErrClaimLost
	case err != nil && !errors.Is(err, ErrClaimLost):
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return err
}

// Abandon releases an unfinished claim held for fingerprint.
func (s *RedisStore) Abandon(ctx context.Context, key, fingerprint string) error {
	rkey := s.prefix + key
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, found, err := load(ctx, tx, rkey)
		if err != nil || !found || current.Done || current.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rkey)
			return nil
		})
		return err
	}, rkey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("idempotency: abandon: %w", err)
	}
	return nil
}

// getter is the slice of the client shared by plain connections and WATCH transactions.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, client getter, rkey string) (entry, bool, error) {
	raw, err := client.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, false, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	return e, true, nil
}
