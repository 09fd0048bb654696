package domain

import "time"

// SortOrder represents ascending or descending sort directions.
type SortOrder string

const (
	// SortAsc sorts ascending.
	SortAsc SortOrder = "asc"
	// SortDesc sorts descending.
	SortDesc SortOrder = "desc"
)

// PaymentMethod identifies the provider class used to settle an order.
type PaymentMethod string

const (
	// PaymentMethodCard settles through a card payment intent.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodWallet settles through a PayPal-style create/capture order.
	PaymentMethodWallet PaymentMethod = "wallet"
	// PaymentMethodCrypto settles through a polled cryptocurrency payment request.
	PaymentMethodCrypto PaymentMethod = "crypto"
)

// PaymentMethods lists every supported method in display order.
var PaymentMethods = []PaymentMethod{PaymentMethodCard, PaymentMethodWallet, PaymentMethodCrypto}

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodWallet, PaymentMethodCrypto:
		return true
	default:
		return false
	}
}

// PaymentStatus is the financial settlement state of an order.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusExpired   PaymentStatus = "expired"
)

// Valid reports whether the payment status is known.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no automatic transition may leave the status.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusExpired
}

// OrderStatus is the fulfilment lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusReturned  OrderStatus = "returned"
)

// Valid reports whether the order status is known.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the fulfilment lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusReturned
}

// CartItem is one line in a shopper's cart. ProductID is the line identity.
type CartItem struct {
	ProductID  string
	Title      string
	SellerID   string
	SellerName string
	UnitPrice  int64
	ImageRef   string
	Size       string
	Quantity   int
}

// LineTotal returns unit price times quantity in minor units.
func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Product is the catalog view consumed when snapshotting order lines.
type Product struct {
	ID       string
	Title    string
	Price    int64
	Currency string
	SellerID string
	Category string
	ImageRef string
	Active   bool
}

// Seller is the catalog view of a merchant including its commission rate (0.15 = 15%).
type Seller struct {
	ID             string
	Alias          string
	CommissionRate float64
}

// OrderItem is the frozen snapshot of a cart line at order time.
type OrderItem struct {
	ProductID string
	Title     string
	Category  string
	ImageRef  string
	Size      string
	UnitPrice int64
	Quantity  int
	LineTotal int64
}

// PaymentRef records the provider-side handle of an initiated payment.
type PaymentRef struct {
	Provider    string
	Reference   string
	InitiatedAt time.Time
}

// CryptoPayment holds the provider's pay-to instructions. All fields are set together.
type CryptoPayment struct {
	PaymentID      string
	PayCurrency    string
	PayAmount      string
	PayAddress     string
	ExpiresAt      time.Time
	ProviderStatus string
}

// Complete reports whether all mandatory crypto fields are present.
func (c *CryptoPayment) Complete() bool {
	if c == nil {
		return false
	}
	return c.PaymentID != "" && c.PayCurrency != "" && c.PayAmount != "" && c.PayAddress != "" && !c.ExpiresAt.IsZero()
}

// Order is the durable record of one purchase attempt.
type Order struct {
	ID               string
	ProductID        string
	ProductTitle     string
	ProductCategory  string
	ProductImageRef  string
	SellerID         string
	SellerName       string
	Items            []OrderItem
	CustomerName     string
	CustomerEmail    string
	ShippingAddress  string
	Currency         string
	Subtotal         int64
	DiscountAmount   int64
	PromoCode        string
	TotalAmount      int64
	CommissionRate   float64
	CommissionAmount int64
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	Status           OrderStatus
	TrackingNumber   string
	Payment          *PaymentRef
	Crypto           *CryptoPayment
	PromoRedeemed    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PromoCode is a fixed-amount discount code.
type PromoCode struct {
	Code           string
	DiscountAmount int64
	Active         bool
	UsageCount     int
	MaxUsage       *int
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AdminUser is an operator allowed to use the order console.
type AdminUser struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
	CreatedAt    time.Time
}

// AdminSession is an issued console session.
type AdminSession struct {
	ID        string
	Token     string
	AdminID   string
	Email     string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
