package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/platform/textutil"
	"github.com/storefront/orders-api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	maxCustomerNameRunes    = 200
	maxShippingAddressRunes = 1000
	maxOrderLines           = 50
	maxLineQuantity         = 99
)

// OrderFactoryDeps wires the collaborators of the order factory.
type OrderFactoryDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Payments    *payments.Registry
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderFactory struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogRepository
	payments *payments.Registry
	currency string
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderFactory validates dependencies and returns the factory.
func NewOrderFactory(deps OrderFactoryDeps) (OrderFactory, error) {
	if deps.Orders == nil {
		return nil, errors.New("order factory: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order factory: catalog repository is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "NOK"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return orderIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderFactory{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		payments: deps.Payments,
		currency: currency,
		now:      func() time.Time { return clock().UTC().Truncate(time.Microsecond) },
		newID:    newID,
		logger:   logger,
	}, nil
}

func (f *orderFactory) Create(ctx context.Context, input CreateOrderInput) (Order, error) {
	if len(input.Items) == 0 {
		return Order{}, ErrEmptyCart
	}

	name := textutil.PlainText(input.CustomerName, maxCustomerNameRunes)
	address := textutil.PlainText(input.ShippingAddress, maxShippingAddressRunes)
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(input.PaymentMethod))))

	verr := &ValidationError{}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		verr.add("email", err.Error())
	}
	if address == "" {
		verr.add("shipping_address", "is required")
	}
	if !method.Valid() {
		verr.add("payment_method", "must be one of card, wallet, crypto")
	}
	if len(input.Items) > maxOrderLines {
		verr.add("items", fmt.Sprintf("at most %d lines", maxOrderLines))
	}
	for i, item := range input.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			verr.add(field, "product id is required")
		} else if item.Quantity < 1 || item.Quantity > maxLineQuantity {
			verr.add(field, fmt.Sprintf("quantity must be between 1 and %d", maxLineQuantity))
		}
	}
	if err := verr.orNil(); err != nil {
		return Order{}, err
	}

	if _, err := f.payments.Adapter(method); err != nil {
		return Order{}, err
	}

	items, seller, err := f.snapshotLines(ctx, input.Items)
	if err != nil {
		return Order{}, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal
	}
	var (
		discount  int64
		promoCode string
	)
	if input.Promo != nil && input.Promo.DiscountAmount > 0 {
		discount = min(input.Promo.DiscountAmount, subtotal)
		promoCode = input.Promo.Code
	}
	total := subtotal - discount

	now := f.now()
	primary := items[0]
	order := Order{
		ID:               f.newID(),
		ProductID:        primary.ProductID,
		ProductTitle:     primary.Title,
		ProductCategory:  primary.Category,
		ProductImageRef:  primary.ImageRef,
		SellerID:         seller.ID,
		SellerName:       seller.Alias,
		Items:            items,
		CustomerName:     name,
		CustomerEmail:    email,
		ShippingAddress:  address,
		Currency:         f.currency,
		Subtotal:         subtotal,
		DiscountAmount:   discount,
		PromoCode:        promoCode,
		TotalAmount:      total,
		CommissionRate:   seller.CommissionRate,
		CommissionAmount: domain.ApplyRate(total, seller.CommissionRate),
		PaymentMethod:    method,
		PaymentStatus:    domain.PaymentStatusPending,
		Status:           domain.OrderStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := f.orders.Insert(ctx, order); err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	f.logger(ctx, "order.created", map[string]any{
		"orderID":       order.ID,
		"sellerID":      order.SellerID,
		"paymentMethod": string(order.PaymentMethod),
		"total":         order.TotalAmount,
		"promoCode":     order.PromoCode,
	})
	return order, nil
}

// snapshotLines re-reads every line from the catalog. Catalog prices replace client prices and
// every line must belong to the same seller.
func (f *orderFactory) snapshotLines(ctx context.Context, lines []CartItem) ([]OrderItem, domain.Seller, error) {
	verr := &ValidationError{}
	items := make([]OrderItem, 0, len(lines))
	sellerID := ""
	for i, line := range lines {
		field := fmt.Sprintf("items[%d]", i)
		product, err := f.catalog.GetProduct(ctx, strings.TrimSpace(line.ProductID))
		if err != nil {
			if isRepoNotFound(err) {
				verr.add(field, "unknown product")
				continue
			}
			return nil, domain.Seller{}, fmt.Errorf("%w: product %s: %v", ErrCatalogUnavailable, line.ProductID, err)
		}
		switch {
		case !product.Active:
			verr.add(field, "product is not available")
			continue
		case !strings.EqualFold(product.Currency, f.currency):
			verr.add(field, fmt.Sprintf("product is priced in %s", product.Currency))
			continue
		case sellerID != "" && product.SellerID != sellerID:
			verr.add(field, "all items must come from the same seller")
			continue
		}
		sellerID = product.SellerID

		imageRef := product.ImageRef
		if imageRef == "" {
			imageRef = line.ImageRef
		}
		items = append(items, OrderItem{
			ProductID: product.ID,
			Title:     product.Title,
			Category:  product.Category,
			ImageRef:  imageRef,
			Size:      textutil.PlainText(line.Size, 32),
			UnitPrice: product.Price,
			Quantity:  line.Quantity,
			LineTotal: product.Price * int64(line.Quantity),
		})
	}
	if err := verr.orNil(); err != nil {
		return nil, domain.Seller{}, err
	}

	seller, err := f.catalog.GetSeller(ctx, sellerID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, domain.Seller{}, &ValidationError{Fields: map[string]string{"items": "seller is not available"}}
		}
		return nil, domain.Seller{}, fmt.Errorf("%w: seller %s: %v", ErrCatalogUnavailable, sellerID, err)
	}
	if seller.CommissionRate < 0 || seller.CommissionRate > 1 {
		return nil, domain.Seller{}, fmt.Errorf("%w: seller %s has commission rate %v", ErrCatalogUnavailable, seller.ID, seller.CommissionRate)
	}
	return items, seller, nil
}

func normalizeEmail(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("is required")
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Name != "" || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", errors.New("is not a valid address")
	}
	return addr.Address, nil
}
