package repositories

import (
	"context"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Promotions() PromotionRepository
	Catalog() CatalogRepository
	AdminUsers() AdminUserRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders. Only the payment, status, tracking, crypto reconciliation,
// promo redemption and timestamp fields are mutable after Insert.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// AttachPayment records the provider reference and, for crypto, the pay-to instructions.
	// It fails with a conflict error unless the payment status is still pending.
	AttachPayment(ctx context.Context, orderID string, ref domain.PaymentRef, crypto *domain.CryptoPayment, at time.Time) (domain.Order, error)
	// TransitionPayment is a compare-and-set on the payment status.
	TransitionPayment(ctx context.Context, transition PaymentTransition) (domain.Order, error)
	// UpdateFields applies an operator patch; only non-nil fields change.
	UpdateFields(ctx context.Context, orderID string, patch OrderPatch) (domain.Order, error)
	// MarkPromoRedeemed flips PromoRedeemed and reports whether this call did it.
	MarkPromoRedeemed(ctx context.Context, orderID string, at time.Time) (bool, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	ListPendingCrypto(ctx context.Context, limit int) ([]domain.Order, error)
}

// PromotionRepository stores promo codes keyed by their upper-case code.
type PromotionRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
	Upsert(ctx context.Context, promo domain.PromoCode) error
	IncrementUsage(ctx context.Context, code string, at time.Time) (domain.PromoCode, error)
}

// CatalogRepository is the read side of the product catalog used to snapshot order lines.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetSeller(ctx context.Context, sellerID string) (domain.Seller, error)
	UpsertProduct(ctx context.Context, product domain.Product) error
	UpsertSeller(ctx context.Context, seller domain.Seller) error
}

// AdminUserRepository stores back-office operator accounts.
type AdminUserRepository interface {
	FindByEmail(ctx context.Context, email string) (domain.AdminUser, error)
	Upsert(ctx context.Context, user domain.AdminUser) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// PaymentTransition moves PaymentStatus from From to To when the stored value still equals From.
// From == To only refreshes ProviderStatus. A mismatch yields a conflict error.
type PaymentTransition struct {
	OrderID string
	From    domain.PaymentStatus
	To      domain.PaymentStatus
	// ConfirmOrder also moves a pending order status to confirmed in the same write.
	ConfirmOrder   bool
	ProviderStatus string
	At             time.Time
}

// OrderPatch carries an operator's partial update.
type OrderPatch struct {
	Status         *domain.OrderStatus
	PaymentStatus  *domain.PaymentStatus
	TrackingNumber *string
	At             time.Time
	// ExpectedUpdatedAt rejects the patch with a conflict when the order changed since it was read.
	ExpectedUpdatedAt *time.Time
}

// OrderListFilter narrows the admin listing at the storage layer. Free-text search and sorting
// are applied by the service.
type OrderListFilter struct {
	CreatedFrom *time.Time
	Category    string
	Limit       int
}
