package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/storefront/orders-api/internal/repositories"
)

// Registry bundles the gorm repositories behind repositories.Registry.
type Registry struct {
	db         *gorm.DB
	orders     *OrderRepository
	promotions *PromotionRepository
	catalog    *CatalogRepository
	admins     *AdminUserRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories on an opened database. Extra checks join the database
// ping in the readiness report.
func NewRegistry(db *gorm.DB, deps ...repositories.Dependency) (*Registry, error) {
	if db == nil {
		return nil, errors.New("sqlstore registry requires database")
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(db)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		return nil, err
	}
	admins, err := NewAdminUserRepository(db)
	if err != nil {
		return nil, err
	}

	all := append([]repositories.Dependency{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}, deps...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("sqlstore registry: %w", err)
	}

	return &Registry{
		db:         db,
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

// Close closes the underlying connection pool.
func (r *Registry) Close(context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
