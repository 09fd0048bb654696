// Package cart keeps a shopper's line items in a durable, namespaced store.
package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	domain "github.com/storefront/orders-api/internal/domain"
)

// Namespace prefixes every persisted cart key.
const Namespace = "cart-storage"

var (
	// ErrInvalidItem indicates the caller supplied an item without identity or with a negative price.
	ErrInvalidItem = errors.New("cart: invalid item")
	// ErrItemNotFound indicates the product is not in the cart.
	ErrItemNotFound = errors.New("cart: item not found")
	// ErrInvalidCartID indicates the cart identifier is empty.
	ErrInvalidCartID = errors.New("cart: cart id is required")
)

// Backend persists the ordered line items of a cart.
type Backend interface {
	Load(ctx context.Context, key string) ([]domain.CartItem, error)
	Save(ctx context.Context, key string, items []domain.CartItem) error
	Delete(ctx context.Context, key string) error
}

// Key returns the namespaced persistence key for a cart id.
func Key(cartID string) string {
	return Namespace + ":" + strings.TrimSpace(cartID)
}

// Store is a single cart. Every mutation is written to the backend before it returns; when the
// write fails the in-memory state is rolled back so the backend stays the source of truth.
type Store struct {
	mu      sync.Mutex
	id      string
	key     string
	backend Backend
	items   []domain.CartItem
}

// Open loads the cart identified by cartID from the backend.
func Open(ctx context.Context, backend Backend, cartID string) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cart: backend is required")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, ErrInvalidCartID
	}
	key := Key(cartID)
	items, err := backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cart: load %s: %w", cartID, err)
	}
	return &Store{
		id:      cartID,
		key:     key,
		backend: backend,
		items:   sanitize(items),
	}, nil
}

// ID returns the cart identifier.
func (s *Store) ID() string {
	return s.id
}

// AddItem appends the product with quantity 1, or increments the quantity of an existing line.
func (s *Store) AddItem(ctx context.Context, item domain.CartItem) error {
	item.ProductID = strings.TrimSpace(item.ProductID)
	if item.ProductID == "" || item.UnitPrice < 0 {
		return ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.items)
	if idx := indexOf(next, item.ProductID); idx >= 0 {
		next[idx].Quantity++
	} else {
		item.Quantity = 1
		next = append(next, item)
	}
	return s.commit(ctx, next)
}

// RemoveItem drops the product line. Removing an absent product is a no-op.
func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, strings.TrimSpace(productID))
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero or less removes it.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity <= 0 {
		return s.removeLocked(ctx, productID)
	}
	idx := indexOf(s.items, productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	next := slices.Clone(s.items)
	next[idx].Quantity = quantity
	return s.commit(ctx, next)
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("cart: clear %s: %w", s.id, err)
	}
	s.items = nil
	return nil
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// TotalPrice is the sum of unit price times quantity in minor units.
func (s *Store) TotalPrice() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, item := range s.items {
		total += item.LineTotal()
	}
	return total
}

// TotalItems is the sum of quantities.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

func (s *Store) removeLocked(ctx context.Context, productID string) error {
	idx := indexOf(s.items, productID)
	if idx < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(s.items), idx, idx+1)
	return s.commit(ctx, next)
}

func (s *Store) commit(ctx context.Context, next []domain.CartItem) error {
	if err := s.backend.Save(ctx, s.key, next); err != nil {
		return fmt.Errorf("cart: save %s: %w", s.id, err)
	}
	s.items = next
	return nil
}

func indexOf(items []domain.CartItem, productID string) int {
	return slices.IndexFunc(items, func(item domain.CartItem) bool {
		return item.ProductID == productID
	})
}

// sanitize drops ghost lines that a corrupted payload could carry.
func sanitize(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		out = append(out, item)
	}
	return out
}
