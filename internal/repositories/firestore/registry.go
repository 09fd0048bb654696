package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *OrderRepository
	promotions *PromotionRepository
	catalog    *CatalogRepository
	admins     *AdminUserRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on the shared provider. Extra checks (redis, brokers) are
// added to the readiness report next to the Firestore check.
func NewRegistry(provider *pfirestore.Provider, deps ...repositories.Dependency) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	admins, err := NewAdminUserRepository(provider)
	if err != nil {
		return nil, err
	}

	all := append([]repositories.Dependency{{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			return provider.Ping(ctx, ordersCollection)
		},
	}}, deps...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider:   provider,
		orders:     orders,
		promotions: promotions,
		catalog:    catalog,
		admins:     admins,
		health:     health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }
func (r *Registry) Catalog() repositories.CatalogRepository      { return r.catalog }
func (r *Registry) AdminUsers() repositories.AdminUserRepository { return r.admins }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
