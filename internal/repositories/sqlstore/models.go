package sqlstore

import (
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

type orderItemJSON struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	Category  string `json:"category,omitempty"`
	ImageRef  string `json:"imageRef,omitempty"`
	Size      string `json:"size,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type orderModel struct {
	ID               string `gorm:"primaryKey;size:40"`
	ProductID        string `gorm:"size:64;not null"`
	ProductTitle     string `gorm:"not null"`
	ProductCategory  string `gorm:"size:64;index"`
	ProductImageRef  string
	SellerID         string `gorm:"size:64;not null;index"`
	SellerName       string
	Items            []orderItemJSON `gorm:"serializer:json;type:text"`
	CustomerName     string
	CustomerEmail    string  `gorm:"not null"`
	ShippingAddress  string  `gorm:"not null"`
	Currency         string  `gorm:"size:3;not null"`
	Subtotal         int64   `gorm:"not null"`
	DiscountAmount   int64   `gorm:"not null;default:0"`
	PromoCode        string  `gorm:"size:64"`
	TotalAmount      int64   `gorm:"not null"`
	CommissionRate   float64 `gorm:"not null"`
	CommissionAmount int64   `gorm:"not null"`
	PaymentMethod    string  `gorm:"size:16;not null;index:idx_orders_payment"`
	PaymentStatus    string  `gorm:"size:16;not null;index:idx_orders_payment"`
	Status           string  `gorm:"size:16;not null"`
	TrackingNumber   string  `gorm:"size:128"`

	PaymentProvider    string
	PaymentReference   string `gorm:"index"`
	PaymentInitiatedAt *time.Time

	CryptoPaymentID      string
	CryptoPayCurrency    string
	CryptoPayAmount      string
	CryptoPayAddress     string
	CryptoExpiresAt      *time.Time
	CryptoProviderStatus string

	PromoRedeemed bool      `gorm:"not null;default:false"`
	Version       int64     `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (orderModel) TableName() string { return "orders" }

func newOrderModel(order domain.Order) orderModel {
	m := orderModel{
		ID:               order.ID,
		ProductID:        order.ProductID,
		ProductTitle:     order.ProductTitle,
		ProductCategory:  order.ProductCategory,
		ProductImageRef:  order.ProductImageRef,
		SellerID:         order.SellerID,
		SellerName:       order.SellerName,
		CustomerName:     order.CustomerName,
		CustomerEmail:    order.CustomerEmail,
		ShippingAddress:  order.ShippingAddress,
		Currency:         order.Currency,
		Subtotal:         order.Subtotal,
		DiscountAmount:   order.DiscountAmount,
		PromoCode:        order.PromoCode,
		TotalAmount:      order.TotalAmount,
		CommissionRate:   order.CommissionRate,
		CommissionAmount: order.CommissionAmount,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentStatus:    string(order.PaymentStatus),
		Status:           string(order.Status),
		TrackingNumber:   order.TrackingNumber,
		PromoRedeemed:    order.PromoRedeemed,
		Version:          1,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	m.Items = make([]orderItemJSON, 0, len(order.Items))
	for _, item := range order.Items {
		m.Items = append(m.Items, orderItemJSON(item))
	}
	if order.Payment != nil {
		m.setPayment(*order.Payment)
	}
	m.setCrypto(order.Crypto)
	return m
}

func (m *orderModel) setPayment(ref domain.PaymentRef) {
	at := ref.InitiatedAt.UTC()
	m.PaymentProvider = ref.Provider
	m.PaymentReference = ref.Reference
	m.PaymentInitiatedAt = &at
}

func (m *orderModel) setCrypto(crypto *domain.CryptoPayment) {
	if !crypto.Complete() {
		return
	}
	expires := crypto.ExpiresAt.UTC()
	m.CryptoPaymentID = crypto.PaymentID
	m.CryptoPayCurrency = crypto.PayCurrency
	m.CryptoPayAmount = crypto.PayAmount
	m.CryptoPayAddress = crypto.PayAddress
	m.CryptoExpiresAt = &expires
	m.CryptoProviderStatus = crypto.ProviderStatus
}

func (m orderModel) toDomain() domain.Order {
	order := domain.Order{
		ID:               m.ID,
		ProductID:        m.ProductID,
		ProductTitle:     m.ProductTitle,
		ProductCategory:  m.ProductCategory,
		ProductImageRef:  m.ProductImageRef,
		SellerID:         m.SellerID,
		SellerName:       m.SellerName,
		CustomerName:     m.CustomerName,
		CustomerEmail:    m.CustomerEmail,
		ShippingAddress:  m.ShippingAddress,
		Currency:         m.Currency,
		Subtotal:         m.Subtotal,
		DiscountAmount:   m.DiscountAmount,
		PromoCode:        m.PromoCode,
		TotalAmount:      m.TotalAmount,
		CommissionRate:   m.CommissionRate,
		CommissionAmount: m.CommissionAmount,
		PaymentMethod:    domain.PaymentMethod(m.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(m.PaymentStatus),
		Status:           domain.OrderStatus(m.Status),
		TrackingNumber:   m.TrackingNumber,
		PromoRedeemed:    m.PromoRedeemed,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
	order.Items = make([]domain.OrderItem, 0, len(m.Items))
	for _, item := range m.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if m.PaymentReference != "" {
		ref := &domain.PaymentRef{Provider: m.PaymentProvider, Reference: m.PaymentReference}
		if m.PaymentInitiatedAt != nil {
			ref.InitiatedAt = m.PaymentInitiatedAt.UTC()
		}
		order.Payment = ref
	}
	if m.CryptoPaymentID != "" && m.CryptoExpiresAt != nil {
		order.Crypto = &domain.CryptoPayment{
			PaymentID:      m.CryptoPaymentID,
			PayCurrency:    m.CryptoPayCurrency,
			PayAmount:      m.CryptoPayAmount,
			PayAddress:     m.CryptoPayAddress,
			ExpiresAt:      m.CryptoExpiresAt.UTC(),
			ProviderStatus: m.CryptoProviderStatus,
		}
	}
	return order
}

type promoModel struct {
	Code           string `gorm:"primaryKey;size:64"`
	DiscountAmount int64  `gorm:"not null"`
	Active         bool   `gorm:"not null"`
	UsageCount     int    `gorm:"not null;default:0"`
	MaxUsage       *int
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (promoModel) TableName() string { return "promo_codes" }

func (m promoModel) toDomain() domain.PromoCode {
	return domain.PromoCode{
		Code:           m.Code,
		DiscountAmount: m.DiscountAmount,
		Active:         m.Active,
		UsageCount:     m.UsageCount,
		MaxUsage:       m.MaxUsage,
		ValidFrom:      utcPtr(m.ValidFrom),
		ValidUntil:     utcPtr(m.ValidUntil),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type productModel struct {
	ID       string `gorm:"primaryKey;size:64"`
	Title    string `gorm:"not null"`
	Price    int64  `gorm:"not null"`
	Currency string `gorm:"size:3;not null"`
	SellerID string `gorm:"size:64;not null;index"`
	Category string `gorm:"size:64"`
	ImageRef string
	Active   bool `gorm:"not null"`
}

func (productModel) TableName() string { return "products" }

type sellerModel struct {
	ID             string  `gorm:"primaryKey;size:64"`
	Alias          string  `gorm:"not null"`
	CommissionRate float64 `gorm:"not null"`
}

func (sellerModel) TableName() string { return "sellers" }

type adminUserModel struct {
	ID           string   `gorm:"primaryKey;size:40"`
	Email        string   `gorm:"uniqueIndex;size:320;not null"`
	PasswordHash string   `gorm:"not null"`
	Roles        []string `gorm:"serializer:json;type:text"`
	Active       bool     `gorm:"not null"`
	CreatedAt    time.Time
}

func (adminUserModel) TableName() string { return "admin_users" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
