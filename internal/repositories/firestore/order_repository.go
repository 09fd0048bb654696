package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront/orders-api/internal/domain"
	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders in Firestore. Payment transitions run inside transactions so
// concurrent pollers, webhooks and operators observe a single winner.
type OrderRepository struct {
	base     *pfirestore.Collection[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		provider: provider,
	}, nil
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Category  string `firestore:"category,omitempty"`
	ImageRef  string `firestore:"imageRef,omitempty"`
	Size      string `firestore:"size,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

type paymentRefDocument struct {
	Provider    string    `firestore:"provider"`
	Reference   string    `firestore:"reference"`
	InitiatedAt time.Time `firestore:"initiatedAt"`
}

type cryptoDocument struct {
	PaymentID      string    `firestore:"paymentId"`
	PayCurrency    string    `firestore:"payCurrency"`
	PayAmount      string    `firestore:"payAmount"`
	PayAddress     string    `firestore:"payAddress"`
	ExpiresAt      time.Time `firestore:"expiresAt"`
	ProviderStatus string    `firestore:"providerStatus,omitempty"`
}

type orderDocument struct {
	ProductID        string              `firestore:"productId"`
	ProductTitle     string              `firestore:"productTitle"`
	ProductCategory  string              `firestore:"productCategory,omitempty"`
	ProductImageRef  string              `firestore:"productImageRef,omitempty"`
	SellerID         string              `firestore:"sellerId"`
	SellerName       string              `firestore:"sellerName,omitempty"`
	Items            []orderItemDocument `firestore:"items"`
	CustomerName     string              `firestore:"customerName,omitempty"`
	CustomerEmail    string              `firestore:"customerEmail"`
	ShippingAddress  string              `firestore:"shippingAddress"`
	Currency         string              `firestore:"currency"`
	Subtotal         int64               `firestore:"subtotal"`
	DiscountAmount   int64               `firestore:"discountAmount"`
	PromoCode        string              `firestore:"promoCode,omitempty"`
	TotalAmount      int64               `firestore:"totalAmount"`
	CommissionRate   float64             `firestore:"commissionRate"`
	CommissionAmount int64               `firestore:"commissionAmount"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentStatus    string              `firestore:"paymentStatus"`
	Status           string              `firestore:"status"`
	TrackingNumber   string              `firestore:"trackingNumber,omitempty"`
	Payment          *paymentRefDocument `firestore:"payment,omitempty"`
	Crypto           *cryptoDocument     `firestore:"crypto,omitempty"`
	PromoRedeemed    bool                `firestore:"promoRedeemed"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

// Insert creates the order document; an existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Create(ctx, id, newOrderDocument(order))
	return err
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// AttachPayment stores the provider reference while the payment is pending.
func (r *OrderRepository) AttachPayment(ctx context.Context, orderID string, ref domain.PaymentRef, crypto *domain.CryptoPayment, at time.Time) (domain.Order, error) {
	return r.mutate(ctx, orderID, "attach_payment", func(doc *orderDocument) ([]firestore.Update, error) {
		if doc.PaymentStatus != string(domain.PaymentStatusPending) {
			return nil, fmt.Errorf("payment status is %s", doc.PaymentStatus)
		}
		doc.Payment = &paymentRefDocument{
			Provider:    ref.Provider,
			Reference:   ref.Reference,
			InitiatedAt: ref.InitiatedAt.UTC(),
		}
		updates := []firestore.Update{
			{Path: "payment", Value: doc.Payment},
			{Path: "updatedAt", Value: at.UTC()},
		}
		if crypto != nil {
			doc.Crypto = newCryptoDocument(crypto)
			updates = append(updates, firestore.Update{Path: "crypto", Value: doc.Crypto})
		}
		doc.UpdatedAt = at.UTC()
		return updates, nil
	})
}

// TransitionPayment applies a compare-and-set on paymentStatus.
func (r *OrderRepository) TransitionPayment(ctx context.Context, t repositories.PaymentTransition) (domain.Order, error) {
	return r.mutate(ctx, t.OrderID, "transition_payment", func(doc *orderDocument) ([]firestore.Update, error) {
		if doc.PaymentStatus != string(t.From) {
			return nil, fmt.Errorf("payment status is %s, expected %s", doc.PaymentStatus, t.From)
		}
		at := t.At.UTC()
		updates := []firestore.Update{
			{Path: "paymentStatus", Value: string(t.To)},
			{Path: "updatedAt", Value: at},
		}
		doc.PaymentStatus = string(t.To)
		doc.UpdatedAt = at
		if t.ConfirmOrder && doc.Status == string(domain.OrderStatusPending) {
			doc.Status = string(domain.OrderStatusConfirmed)
			updates = append(updates, firestore.Update{Path: "status", Value: doc.Status})
		}
		if t.ProviderStatus != "" && doc.Crypto != nil {
			doc.Crypto.ProviderStatus = t.ProviderStatus
			updates = append(updates, firestore.Update{Path: "crypto.providerStatus", Value: t.ProviderStatus})
		}
		return updates, nil
	})
}

// UpdateFields applies an operator patch with an optional updatedAt precondition.
func (r *OrderRepository) UpdateFields(ctx context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	return r.mutate(ctx, orderID, "update_fields", func(doc *orderDocument) ([]firestore.Update, error) {
		if patch.ExpectedUpdatedAt != nil && !doc.UpdatedAt.Equal(patch.ExpectedUpdatedAt.UTC()) {
			return nil, fmt.Errorf("order changed at %s", doc.UpdatedAt.Format(time.RFC3339Nano))
		}
		at := patch.At.UTC()
		updates := []firestore.Update{{Path: "updatedAt", Value: at}}
		doc.UpdatedAt = at
		if patch.Status != nil {
			doc.Status = string(*patch.Status)
			updates = append(updates, firestore.Update{Path: "status", Value: doc.Status})
		}
		if patch.PaymentStatus != nil {
			doc.PaymentStatus = string(*patch.PaymentStatus)
			updates = append(updates, firestore.Update{Path: "paymentStatus", Value: doc.PaymentStatus})
		}
		if patch.TrackingNumber != nil {
			doc.TrackingNumber = strings.TrimSpace(*patch.TrackingNumber)
			updates = append(updates, firestore.Update{Path: "trackingNumber", Value: doc.TrackingNumber})
		}
		return updates, nil
	})
}

// MarkPromoRedeemed sets promoRedeemed once.
func (r *OrderRepository) MarkPromoRedeemed(ctx context.Context, orderID string, at time.Time) (bool, error) {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return false, err
	}
	flipped := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		flipped = false
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.mark_promo_redeemed", err)
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return err
		}
		if doc.Data.PromoRedeemed {
			return nil
		}
		flipped = true
		return tx.Update(ref, []firestore.Update{{Path: "promoRedeemed", Value: true}})
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

// List returns orders newest first, narrowed by creation time and category.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CreatedFrom != nil {
			q = q.Where("createdAt", ">=", filter.CreatedFrom.UTC())
		}
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("productCategory", "==", category)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrders(docs), nil
}

// ListPendingCrypto returns initiated crypto orders still awaiting payment, soonest expiry first.
// The range filter on crypto.expiresAt leaves out orders whose initiation failed.
func (r *OrderRepository) ListPendingCrypto(ctx context.Context, limit int) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("paymentMethod", "==", string(domain.PaymentMethodCrypto)).
			Where("paymentStatus", "==", string(domain.PaymentStatusPending)).
			Where("crypto.expiresAt", ">", time.Unix(0, 0).UTC()).
			OrderBy("crypto.expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrders(docs), nil
}

// mutate reads the order inside a transaction and applies the updates returned by fn. An error
// returned by fn is reported as a conflict.
func (r *OrderRepository) mutate(ctx context.Context, orderID, op string, fn func(doc *orderDocument) ([]firestore.Update, error)) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	opName := ordersCollection + "." + op

	var result orderDocument
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError(opName, err)
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return err
		}
		current := doc.Data
		updates, err := fn(&current)
		if err != nil {
			return pfirestore.NewConflictError(opName, err)
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result.toDomain(orderID), nil
}

func toDomainOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
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
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	if order.Payment != nil {
		doc.Payment = &paymentRefDocument{
			Provider:    order.Payment.Provider,
			Reference:   order.Payment.Reference,
			InitiatedAt: order.Payment.InitiatedAt.UTC(),
		}
	}
	doc.Crypto = newCryptoDocument(order.Crypto)
	return doc
}

func newCryptoDocument(crypto *domain.CryptoPayment) *cryptoDocument {
	if !crypto.Complete() {
		return nil
	}
	return &cryptoDocument{
		PaymentID:      crypto.PaymentID,
		PayCurrency:    crypto.PayCurrency,
		PayAmount:      crypto.PayAmount,
		PayAddress:     crypto.PayAddress,
		ExpiresAt:      crypto.ExpiresAt.UTC(),
		ProviderStatus: crypto.ProviderStatus,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:               id,
		ProductID:        d.ProductID,
		ProductTitle:     d.ProductTitle,
		ProductCategory:  d.ProductCategory,
		ProductImageRef:  d.ProductImageRef,
		SellerID:         d.SellerID,
		SellerName:       d.SellerName,
		CustomerName:     d.CustomerName,
		CustomerEmail:    d.CustomerEmail,
		ShippingAddress:  d.ShippingAddress,
		Currency:         d.Currency,
		Subtotal:         d.Subtotal,
		DiscountAmount:   d.DiscountAmount,
		PromoCode:        d.PromoCode,
		TotalAmount:      d.TotalAmount,
		CommissionRate:   d.CommissionRate,
		CommissionAmount: d.CommissionAmount,
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		Status:           domain.OrderStatus(d.Status),
		TrackingNumber:   d.TrackingNumber,
		PromoRedeemed:    d.PromoRedeemed,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	order.Items = make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if d.Payment != nil {
		order.Payment = &domain.PaymentRef{
			Provider:    d.Payment.Provider,
			Reference:   d.Payment.Reference,
			InitiatedAt: d.Payment.InitiatedAt.UTC(),
		}
	}
	if d.Crypto != nil {
		order.Crypto = &domain.CryptoPayment{
			PaymentID:      d.Crypto.PaymentID,
			PayCurrency:    d.Crypto.PayCurrency,
			PayAmount:      d.Crypto.PayAmount,
			PayAddress:     d.Crypto.PayAddress,
			ExpiresAt:      d.Crypto.ExpiresAt.UTC(),
			ProviderStatus: d.Crypto.ProviderStatus,
		}
	}
	return order
}
