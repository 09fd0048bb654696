package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/storefront/orders-api/internal/domain"
)

// DefaultTTL is how long an untouched cart is retained by the Redis backend.
const DefaultTTL = 30 * 24 * time.Hour

// MemoryBackend keeps carts in process memory. Useful for tests and local development.
type MemoryBackend struct {
	mu    sync.Mutex
	carts map[string][]domain.CartItem
}

// NewMemoryBackend constructs an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{carts: make(map[string][]domain.CartItem)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, key string) ([]domain.CartItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.carts[key]), nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, key string, items []domain.CartItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.carts[key] = slices.Clone(items)
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.carts, key)
	return nil
}

// RedisBackend stores each cart as a JSON document with a sliding TTL.
type RedisBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client redis.UniversalClient, ttl time.Duration) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("cart redis backend: client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

type cartItemRecord struct {
	ProductID  string `json:"productId"`
	Title      string `json:"title"`
	SellerID   string `json:"sellerId"`
	SellerName string `json:"sellerName,omitempty"`
	UnitPrice  int64  `json:"unitPrice"`
	ImageRef   string `json:"imageRef,omitempty"`
	Size       string `json:"size,omitempty"`
	Quantity   int    `json:"quantity"`
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, key string) ([]domain.CartItem, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var records []cartItemRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", key, err)
	}
	items := make([]domain.CartItem, 0, len(records))
	for _, rec := range records {
		items = append(items, domain.CartItem{
			ProductID:  rec.ProductID,
			Title:      rec.Title,
			SellerID:   rec.SellerID,
			SellerName: rec.SellerName,
			UnitPrice:  rec.UnitPrice,
			ImageRef:   rec.ImageRef,
			Size:       rec.Size,
			Quantity:   rec.Quantity,
		})
	}
	return items, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, key string, items []domain.CartItem) error {
	records := make([]cartItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, cartItemRecord{
			ProductID:  item.ProductID,
			Title:      item.Title,
			SellerID:   item.SellerID,
			SellerName: item.SellerName,
			UnitPrice:  item.UnitPrice,
			ImageRef:   item.ImageRef,
			Size:       item.Size,
			Quantity:   item.Quantity,
		})
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", key, err)
	}
	if err := b.client.Set(ctx, key, payload, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
