package cart

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/storefront/orders-api/internal/domain"
)

func sampleItem(id string, price int64) domain.CartItem {
	return domain.CartItem{
		ProductID:  id,
		Title:      "Item " + id,
		SellerID:   "seller-1",
		SellerName: "Nordlys",
		UnitPrice:  price,
		Quantity:   7, // ignored by AddItem
	}
}

func TestStore_AddSameProductTwiceIncrementsQuantity(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryBackend(), "c1")
	require.NoError(t, err)

	require.NoError(t, store.AddItem(ctx, sampleItem("p1", 49900)))
	require.NoError(t, store.AddItem(ctx, sampleItem("p1", 49900)))

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 2, store.TotalItems())
	assert.Equal(t, int64(99800), store.TotalPrice())
}

func TestStore_UpdateQuantityZeroMatchesRemove(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	a, err := Open(ctx, backend, "a")
	require.NoError(t, err)
	b, err := Open(ctx, backend, "b")
	require.NoError(t, err)

	for _, s := range []*Store{a, b} {
		require.NoError(t, s.AddItem(ctx, sampleItem("p1", 100)))
		require.NoError(t, s.AddItem(ctx, sampleItem("p2", 250)))
	}

	require.NoError(t, a.UpdateQuantity(ctx, "p1", 0))
	require.NoError(t, b.RemoveItem(ctx, "p1"))

	assert.Equal(t, a.Items(), b.Items())

	persistedA, err := backend.Load(ctx, Key("a"))
	require.NoError(t, err)
	persistedB, err := backend.Load(ctx, Key("b"))
	require.NoError(t, err)
	assert.Equal(t, persistedA, persistedB)
}

func TestStore_UpdateQuantityUnknownProduct(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryBackend(), "c1")
	require.NoError(t, err)

	err = store.UpdateQuantity(ctx, "missing", 3)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStore_RejectsInvalidItem(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryBackend(), "c1")
	require.NoError(t, err)

	assert.ErrorIs(t, store.AddItem(ctx, domain.CartItem{UnitPrice: 10}), ErrInvalidItem)
	assert.ErrorIs(t, store.AddItem(ctx, sampleItem("p1", -1)), ErrInvalidItem)
}

func TestStore_TotalsMatchQuantitiesForRandomSequences(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	ids := []string{"p1", "p2", "p3", "p4"}

	for round := 0; round < 50; round++ {
		store, err := Open(ctx, NewMemoryBackend(), "prop")
		require.NoError(t, err)

		for step := 0; step < 40; step++ {
			id := ids[rng.Intn(len(ids))]
			switch rng.Intn(3) {
			case 0:
				require.NoError(t, store.AddItem(ctx, sampleItem(id, int64(rng.Intn(1000)))))
			case 1:
				require.NoError(t, store.RemoveItem(ctx, id))
			case 2:
				err := store.UpdateQuantity(ctx, id, rng.Intn(6)-2)
				if err != nil {
					require.ErrorIs(t, err, ErrItemNotFound)
				}
			}

			sum := 0
			for _, item := range store.Items() {
				require.Positive(t, item.Quantity)
				sum += item.Quantity
			}
			require.Equal(t, sum, store.TotalItems())
			require.GreaterOrEqual(t, store.TotalItems(), 0)
		}
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	first, err := Open(ctx, backend, "session")
	require.NoError(t, err)
	require.NoError(t, first.AddItem(ctx, sampleItem("p1", 100)))
	require.NoError(t, first.AddItem(ctx, sampleItem("p2", 200)))

	reopened, err := Open(ctx, backend, "session")
	require.NoError(t, err)
	assert.Equal(t, first.Items(), reopened.Items())

	require.NoError(t, reopened.Clear(ctx))
	again, err := Open(ctx, backend, "session")
	require.NoError(t, err)
	assert.Empty(t, again.Items())
}

type failingBackend struct {
	*MemoryBackend
	fail bool
}

func (b *failingBackend) Save(ctx context.Context, key string, items []domain.CartItem) error {
	if b.fail {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Save(ctx, key, items)
}

func TestStore_RollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	store, err := Open(ctx, backend, "c1")
	require.NoError(t, err)
	require.NoError(t, store.AddItem(ctx, sampleItem("p1", 100)))

	backend.fail = true
	require.Error(t, store.AddItem(ctx, sampleItem("p1", 100)))
	assert.Equal(t, 1, store.TotalItems())
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backend, err := NewRedisBackend(client, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := Open(ctx, backend, "r1")
	require.NoError(t, err)
	require.NoError(t, store.AddItem(ctx, sampleItem("p1", 49900)))
	require.NoError(t, store.AddItem(ctx, sampleItem("p2", 1000)))
	require.NoError(t, store.UpdateQuantity(ctx, "p2", 3))

	assert.True(t, mr.Exists(Key("r1")))
	assert.Equal(t, time.Hour, mr.TTL(Key("r1")))

	reopened, err := Open(ctx, backend, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.Items(), reopened.Items())
	assert.Equal(t, int64(52900), reopened.TotalPrice())

	require.NoError(t, reopened.Clear(ctx))
	assert.False(t, mr.Exists(Key("r1")))
}
