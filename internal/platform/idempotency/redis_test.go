package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client)
	require.NoError(t, err)
	return store, server
}

func TestRedisStoreClaimLifecycle(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()

	first, err := store.Claim(ctx, "key-1", "fp-1", time.Minute, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, Claimed, first.Outcome)
	assert.Equal(t, time.Minute, server.TTL(defaultRedisPrefix+"key-1"))

	second, err := store.Claim(ctx, "key-1", "fp-1", time.Minute, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, InFlight, second.Outcome)

	_, err = store.Claim(ctx, "key-1", "fp-other", time.Minute, fixedTime)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	stored := StoredResponse{Status: http.StatusCreated, Header: map[string][]string{"Location": {"/api/v1/orders/ord_1"}}, Body: []byte(`{"id":"ord_1"}`)}
	require.NoError(t, store.Complete(ctx, "key-1", "fp-1", stored, time.Hour, fixedTime))
	assert.Equal(t, time.Hour, server.TTL(defaultRedisPrefix+"key-1"))

	replay, err := store.Claim(ctx, "key-1", "fp-1", time.Minute, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, Replay, replay.Outcome)
	assert.Equal(t, stored, replay.Stored)

	assert.ErrorIs(t, store.Complete(ctx, "key-1", "fp-1", stored, time.Hour, fixedTime), ErrClaimLost)

	server.FastForward(time.Hour + time.Second)
	fresh, err := store.Claim(ctx, "key-1", "fp-1", time.Minute, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, Claimed, fresh.Outcome)
}

func TestRedisStoreLapsedClaimCannotComplete(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Claim(ctx, "key-2", "fp", time.Minute, fixedTime)
	require.NoError(t, err)
	server.FastForward(2 * time.Minute)

	err = store.Complete(ctx, "key-2", "fp", StoredResponse{Status: http.StatusCreated}, time.Hour, fixedTime)
	assert.ErrorIs(t, err, ErrClaimLost)
	assert.False(t, server.Exists(defaultRedisPrefix+"key-2"))
}

func TestRedisStoreAbandonOnlyReleasesOwnClaim(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Claim(ctx, "key-3", "fp", time.Minute, fixedTime)
	require.NoError(t, err)
	require.NoError(t, store.Abandon(ctx, "key-3", "fp-other"))
	assert.True(t, server.Exists(defaultRedisPrefix+"key-3"))

	require.NoError(t, store.Abandon(ctx, "key-3", "fp"))
	assert.False(t, server.Exists(defaultRedisPrefix+"key-3"))

	_, err = store.Claim(ctx, "key-4", "fp", time.Minute, fixedTime)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "key-4", "fp", StoredResponse{Status: http.StatusCreated}, time.Hour, fixedTime))
	require.NoError(t, store.Abandon(ctx, "key-4", "fp"))
	assert.True(t, server.Exists(defaultRedisPrefix+"key-4"), "completed responses survive Abandon")
}

func TestMiddlewareOverRedis(t *testing.T) {
	store, _ := newRedisStore(t)
	var calls int
	handler := Middleware(store)(createdHandler(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, placeOrder("order-xyz", `{"email":"a@example.com"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, placeOrder("order-xyz", `{"email":"a@example.com"}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
}
