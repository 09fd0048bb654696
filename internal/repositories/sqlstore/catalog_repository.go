package sqlstore

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/repositories"
)

// CatalogRepository reads products and sellers.
type CatalogRepository struct {
	db *gorm.DB
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(db *gorm.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository requires database")
	}
	return &CatalogRepository{db: db}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var m productModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(productID)).Take(&m).Error; err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	return domain.Product{
		ID:       m.ID,
		Title:    m.Title,
		Price:    m.Price,
		Currency: m.Currency,
		SellerID: m.SellerID,
		Category: m.Category,
		ImageRef: m.ImageRef,
		Active:   m.Active,
	}, nil
}

func (r *CatalogRepository) GetSeller(ctx context.Context, sellerID string) (domain.Seller, error) {
	var m sellerModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(sellerID)).Take(&m).Error; err != nil {
		return domain.Seller{}, wrapError("sellers.get", err)
	}
	return domain.Seller{ID: m.ID, Alias: m.Alias, CommissionRate: m.CommissionRate}, nil
}

func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	m := productModel{
		ID:       strings.TrimSpace(product.ID),
		Title:    product.Title,
		Price:    product.Price,
		Currency: strings.ToUpper(product.Currency),
		SellerID: product.SellerID,
		Category: product.Category,
		ImageRef: product.ImageRef,
		Active:   product.Active,
	}
	if m.ID == "" {
		return errors.New("catalog repository: product id is required")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	return wrapError("products.upsert", err)
}

func (r *CatalogRepository) UpsertSeller(ctx context.Context, seller domain.Seller) error {
	m := sellerModel{ID: strings.TrimSpace(seller.ID), Alias: seller.Alias, CommissionRate: seller.CommissionRate}
	if m.ID == "" {
		return errors.New("catalog repository: seller id is required")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	return wrapError("sellers.upsert", err)
}
