package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/storefront/orders-api/internal/domain"
	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/repositories"
)

const (
	productsCollection = "products"
	sellersCollection  = "sellers"
)

// CatalogRepository reads products and sellers from Firestore.
type CatalogRepository struct {
	products *pfirestore.Collection[productDocument]
	sellers  *pfirestore.Collection[sellerDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		sellers:  pfirestore.NewCollection[sellerDocument](provider, sellersCollection),
	}, nil
}

type productDocument struct {
	Title    string `firestore:"title"`
	Price    int64  `firestore:"price"`
	Currency string `firestore:"currency"`
	SellerID string `firestore:"sellerId"`
	Category string `firestore:"category,omitempty"`
	ImageRef string `firestore:"imageRef,omitempty"`
	Active   bool   `firestore:"active"`
}

type sellerDocument struct {
	Alias          string  `firestore:"alias"`
	CommissionRate float64 `firestore:"commissionRate"`
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	d := doc.Data
	return domain.Product{
		ID:       doc.ID,
		Title:    d.Title,
		Price:    d.Price,
		Currency: d.Currency,
		SellerID: d.SellerID,
		Category: d.Category,
		ImageRef: d.ImageRef,
		Active:   d.Active,
	}, nil
}

func (r *CatalogRepository) GetSeller(ctx context.Context, sellerID string) (domain.Seller, error) {
	doc, err := r.sellers.Get(ctx, strings.TrimSpace(sellerID))
	if err != nil {
		return domain.Seller{}, err
	}
	return domain.Seller{ID: doc.ID, Alias: doc.Data.Alias, CommissionRate: doc.Data.CommissionRate}, nil
}

func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	_, err := r.products.Set(ctx, strings.TrimSpace(product.ID), productDocument{
		Title:    product.Title,
		Price:    product.Price,
		Currency: strings.ToUpper(product.Currency),
		SellerID: product.SellerID,
		Category: product.Category,
		ImageRef: product.ImageRef,
		Active:   product.Active,
	})
	return err
}

func (r *CatalogRepository) UpsertSeller(ctx context.Context, seller domain.Seller) error {
	_, err := r.sellers.Set(ctx, strings.TrimSpace(seller.ID), sellerDocument{
		Alias:          seller.Alias,
		CommissionRate: seller.CommissionRate,
	})
	return err
}
