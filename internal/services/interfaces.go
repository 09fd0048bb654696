package services

import (
	"context"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	CartItem      = domain.CartItem
	PromoCode     = domain.PromoCode
	AdminSession  = domain.AdminSession
	HealthReport  = domain.HealthReport
	PaymentMethod = domain.PaymentMethod
	PaymentStatus = domain.PaymentStatus
	OrderStatus   = domain.OrderStatus
)

// PromotionService resolves promo codes at checkout and counts their usage once paid.
type PromotionService interface {
	// Resolve validates the code without consuming it. Rejections are *PromoRejectedError.
	Resolve(ctx context.Context, code string) (PromoResolution, error)
	// Redeem counts one use of the code.
	Redeem(ctx context.Context, code string) (PromoCode, error)
}

// OrderFactory converts a cart snapshot into a persisted pending order.
type OrderFactory interface {
	Create(ctx context.Context, input CreateOrderInput) (Order, error)
}

// CheckoutService places orders and drives the synchronous card and wallet payment paths.
type CheckoutService interface {
	PaymentMethods() []PaymentMethod
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	InitiatePayment(ctx context.Context, orderID string) (PaymentInitiation, error)
	ConfirmCard(ctx context.Context, orderID string) (Order, error)
	CaptureWallet(ctx context.Context, orderID string) (Order, error)
	ApplyCardEvent(ctx context.Context, payload []byte, signature string) (CardEventResult, error)
	EstimateCrypto(ctx context.Context, req payments.EstimateRequest) (payments.Estimate, error)
}

// ReconciliationService aligns crypto orders with the provider's view.
type ReconciliationService interface {
	ReconcileCrypto(ctx context.Context, orderID string) (ReconcileResult, error)
	PollCrypto(ctx context.Context, orderID string, opts PollOptions) (ReconcileResult, error)
	ApplyCryptoNotification(ctx context.Context, body []byte, signature string) (ReconcileResult, error)
	SweepPending(ctx context.Context, limit int) (SweepSummary, error)
}

// AdminOrderService is the operator read and override surface.
type AdminOrderService interface {
	List(ctx context.Context, query AdminOrderQuery) (AdminOrderPage, error)
	Get(ctx context.Context, orderID string) (AdminOrderDetail, error)
	Update(ctx context.Context, orderID string, cmd AdminOrderUpdate) (Order, error)
}

// AdminAuthService issues and validates operator sessions.
type AdminAuthService interface {
	Login(ctx context.Context, email, password string) (AdminSession, error)
	LoginWithFirebase(ctx context.Context, idToken string) (AdminSession, error)
	Validate(ctx context.Context, token string) (AdminSession, error)
	Logout(ctx context.Context, token string) error
}

// SystemService exposes health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers the order confirmation. Failures are logged by callers and never fail the order.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order Order) error
}

// PromoResolution is an accepted promo code.
type PromoResolution struct {
	Code           string
	DiscountAmount int64
}

// CreateOrderInput is the Order Factory input. Promo is optional.
type CreateOrderInput struct {
	Items           []CartItem
	CustomerName    string
	Email           string
	ShippingAddress string
	PaymentMethod   PaymentMethod
	Promo           *PromoResolution
}

// PlaceOrderCommand is the checkout request. ClearCart runs only after the order is persisted.
type PlaceOrderCommand struct {
	Items           []CartItem
	CustomerName    string
	Email           string
	ShippingAddress string
	PaymentMethod   PaymentMethod
	PromoCode       string
	ClearCart       func(ctx context.Context) error
}

// PaymentInitiation is the client-facing result of opening a provider payment.
type PaymentInitiation struct {
	Order  Order
	Handle payments.Handle
}

// PlaceOrderResult carries the persisted order and, when initiation succeeded, the handle.
// InitiationErr is set when the order exists but the provider call failed.
type PlaceOrderResult struct {
	Order         Order
	Handle        *payments.Handle
	InitiationErr error
}

// CardEventResult describes how a verified card webhook was applied.
type CardEventResult struct {
	EventID string
	Type    string
	Applied bool
	Order   *Order
}

// ReconcileResult is the order after one reconciliation step.
type ReconcileResult struct {
	Order          Order
	ProviderStatus string
	Transitioned   bool
	Terminal       bool
}

// PollOptions bounds PollCrypto. Zero values fall back to service defaults.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// SweepSummary reports a SweepPending run.
type SweepSummary struct {
	Scanned      int
	Transitioned int
	Failed       int
}

// AdminOrderQuery is the console list query. Empty fields mean no filter.
type AdminOrderQuery struct {
	Query     string
	Sort      string
	Order     string
	Range     string
	Category  string
	PageSize  int
	PageToken string
}

// AdminOrderPage is one page of the console listing.
type AdminOrderPage struct {
	Items         []Order
	Total         int
	NextPageToken string
}

// AdminOrderDetail is the single-order console view.
type AdminOrderDetail struct {
	Order    Order
	ImageURL string
}

// AdminOrderUpdate is a partial operator patch; nil fields are untouched.
type AdminOrderUpdate struct {
	Status            *OrderStatus
	PaymentStatus     *PaymentStatus
	TrackingNumber    *string
	ExpectedUpdatedAt *time.Time
	ActorID           string
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemHealthReport is the readiness report plus build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
