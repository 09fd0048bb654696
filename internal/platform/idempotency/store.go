// Package idempotency makes order placement safe to retry. The first request carrying an
// Idempotency-Key claims it, runs, and stores its response; retries with the same key and
// body get that response back instead of a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const (
	// DefaultTTL is how long a completed response stays replayable.
	DefaultTTL = 24 * time.Hour
	// DefaultLease bounds how long an unfinished claim blocks retries, so a request that died
	// mid-flight does not lock its key for the whole TTL.
	DefaultLease = 2 * time.Minute
)

var (
	// ErrFingerprintMismatch means the key was already used for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")
	// ErrClaimLost means the claim expired or was taken over before the response was stored.
	ErrClaimLost = errors.New("idempotency: claim no longer held")
)

// Outcome says what the caller of Claim should do next.
type Outcome int

const (
	// Claimed: the caller owns the key and runs the request.
	Claimed Outcome = iota
	// Replay: a completed response is stored; send it back.
	Replay
	// InFlight: another request holds the key.
	InFlight
)

// Claim is the result of Store.Claim. Stored is set for Replay.
type Claim struct {
	Outcome Outcome
	Stored  StoredResponse
}

// StoredResponse is the part of a response that is replayed.
type StoredResponse struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header,omitempty"`
	Body   []byte              `json:"body,omitempty"`
}

// Store keeps claims and completed responses. Keys passed in are already scoped and hashed.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, lease time.Duration, now time.Time) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, ttl time.Duration, now time.Time) error
	Abandon(ctx context.Context, key, fingerprint string) error
}

// entry is the persisted form shared by the stores.
type entry struct {
	Fingerprint string         `json:"fingerprint"`
	Done        bool           `json:"done"`
	Response    StoredResponse `json:"response"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// resolve decides the outcome of claiming a key that already has a live entry.
func (e entry) resolve(fingerprint string) (Claim, error) {
	if e.Fingerprint != fingerprint {
		return Claim{}, ErrFingerprintMismatch
	}
	if e.Done {
		return Claim{Outcome: Replay, Stored: e.Response}, nil
	}
	return Claim{Outcome: InFlight}, nil
}

func (e entry) live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// storageKey binds a client key to its scope (the shopper's cart) so two carts that pick the
// same key never collide.
func storageKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// replayedHeaders lists the response headers worth replaying. Set-Cookie is left out so a
// replay never re-issues a cart or session cookie.
var replayedHeaders = []string{"Content-Type", "Location", "Cache-Control"}

func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(replayedHeaders))
	for _, name := range replayedHeaders {
		if values := header.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
