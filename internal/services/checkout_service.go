package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/repositories"
)

// ErrPaymentNotInitiated is returned when a provider step runs before a payment was opened.
var ErrPaymentNotInitiated = errors.New("checkout: payment not initiated")

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	Factory    OrderFactory
	Promotions PromotionService
	Payments   *payments.Registry
	Notifier   Notifier
	Currency   string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	factory    OrderFactory
	promotions PromotionService
	payments   *payments.Registry
	settle     *settler
	currency   string
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Factory == nil {
		return nil, errors.New("checkout service: order factory is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("checkout service: promotion service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	now := func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "NOK"
	}

	return &checkoutService{
		orders:     deps.Orders,
		factory:    deps.Factory,
		promotions: deps.Promotions,
		payments:   deps.Payments,
		settle: &settler{
			orders:     deps.Orders,
			promotions: deps.Promotions,
			notifier:   deps.Notifier,
			now:        now,
			logger:     logger,
		},
		currency: currency,
		now:      now,
		logger:   logger,
	}, nil
}

func (s *checkoutService) PaymentMethods() []PaymentMethod {
	return s.payments.Available()
}

// PlaceOrder resolves the promo, persists the order, clears the cart and opens the provider
// payment. A provider failure after the order exists is reported in InitiationErr so the client
// can retry initiation against the same order.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	if len(s.payments.Available()) == 0 {
		return PlaceOrderResult{}, payments.ErrNoPaymentMethodAvailable
	}

	var promo *PromoResolution
	if code := strings.TrimSpace(cmd.PromoCode); code != "" {
		resolved, err := s.promotions.Resolve(ctx, code)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		promo = &resolved
	}

	order, err := s.factory.Create(ctx, CreateOrderInput{
		Items:           cmd.Items,
		CustomerName:    cmd.CustomerName,
		Email:           cmd.Email,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		Promo:           promo,
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	if cmd.ClearCart != nil {
		if err := cmd.ClearCart(ctx); err != nil {
			s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
				"orderID": order.ID,
				"error":   err.Error(),
			})
		}
	}

	initiation, err := s.initiate(ctx, order)
	if err != nil {
		s.logger(ctx, "checkout.payment_initiation_failed", map[string]any{
			"orderID":       order.ID,
			"paymentMethod": string(order.PaymentMethod),
			"error":         err.Error(),
		})
		return PlaceOrderResult{Order: order, InitiationErr: err}, nil
	}
	return PlaceOrderResult{Order: initiation.Order, Handle: &initiation.Handle}, nil
}

func (s *checkoutService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

// InitiatePayment re-opens the provider payment for a pending order. A crypto payment that is
// still inside its window is returned without a new provider call.
func (s *checkoutService) InitiatePayment(ctx context.Context, orderID string) (PaymentInitiation, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentInitiation{}, err
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return PaymentInitiation{Order: order}, fmt.Errorf("%w: payment is %s", ErrPaymentNotPending, order.PaymentStatus)
	}
	if order.Crypto.Complete() && order.Payment != nil && s.now().Before(order.Crypto.ExpiresAt) {
		return PaymentInitiation{Order: order, Handle: existingCryptoHandle(order)}, nil
	}
	return s.initiate(ctx, order)
}

func (s *checkoutService) initiate(ctx context.Context, order Order) (PaymentInitiation, error) {
	adapter, err := s.payments.Adapter(order.PaymentMethod)
	if err != nil {
		return PaymentInitiation{}, err
	}
	handle, err := adapter.Initiate(ctx, payments.NewInitiateRequest(order))
	if err != nil {
		return PaymentInitiation{}, err
	}

	now := s.now()
	ref := domain.PaymentRef{Provider: handle.Provider, Reference: handle.Reference, InitiatedAt: now}
	updated, err := s.orders.AttachPayment(ctx, order.ID, ref, handle.Crypto, now)
	if err != nil {
		if isRepoConflict(err) {
			return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentNotPending, err)
		}
		return PaymentInitiation{}, mapOrderRepositoryError(err)
	}
	s.logger(ctx, "checkout.payment_initiated", map[string]any{
		"orderID":       order.ID,
		"paymentMethod": string(order.PaymentMethod),
		"provider":      handle.Provider,
		"reference":     handle.Reference,
	})
	return PaymentInitiation{Order: updated, Handle: handle}, nil
}

// ConfirmCard looks the intent up server-side; the client's claim of success is never trusted.
func (s *checkoutService) ConfirmCard(ctx context.Context, orderID string) (Order, error) {
	order, ref, err := s.loadForProvider(ctx, orderID, domain.PaymentMethodCard)
	if err != nil || order.PaymentStatus.Terminal() {
		return order, err
	}
	gateway, err := s.payments.Card()
	if err != nil {
		return order, err
	}
	outcome, err := gateway.ResolveOutcome(ctx, ref)
	if err != nil {
		return order, err
	}
	result, err := s.settle.applyOutcome(ctx, order, outcome, domain.ActorProvider)
	return result.order, err
}

// CaptureWallet finalises an approved wallet order. An unapproved order stays pending.
func (s *checkoutService) CaptureWallet(ctx context.Context, orderID string) (Order, error) {
	order, ref, err := s.loadForProvider(ctx, orderID, domain.PaymentMethodWallet)
	if err != nil || order.PaymentStatus.Terminal() {
		return order, err
	}
	gateway, err := s.payments.Wallet()
	if err != nil {
		return order, err
	}
	outcome, err := gateway.Capture(ctx, ref)
	if err != nil {
		return order, err
	}
	result, err := s.settle.applyOutcome(ctx, order, outcome, domain.ActorProvider)
	return result.order, err
}

// ApplyCardEvent verifies and applies a card webhook. Events for unknown orders or stale
// references are acknowledged without effect.
func (s *checkoutService) ApplyCardEvent(ctx context.Context, payload []byte, signature string) (CardEventResult, error) {
	gateway, err := s.payments.Card()
	if err != nil {
		return CardEventResult{}, err
	}
	event, err := gateway.ParseWebhook(payload, signature)
	if err != nil {
		return CardEventResult{}, err
	}
	result := CardEventResult{EventID: event.ID, Type: event.Type}
	if !event.Relevant || event.OrderID == "" {
		return result, nil
	}

	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "checkout.card_event.unknown_order", map[string]any{"eventID": event.ID, "orderID": event.OrderID})
			return result, nil
		}
		return result, mapOrderRepositoryError(err)
	}
	if order.PaymentMethod != domain.PaymentMethodCard ||
		(order.Payment != nil && order.Payment.Reference != event.Outcome.Reference) {
		s.logger(ctx, "checkout.card_event.reference_mismatch", map[string]any{
			"eventID":   event.ID,
			"orderID":   order.ID,
			"reference": event.Outcome.Reference,
		})
		return result, nil
	}

	applied, err := s.settle.applyOutcome(ctx, order, event.Outcome, domain.ActorProvider)
	if err != nil {
		return result, err
	}
	result.Applied = applied.transitioned
	result.Order = &applied.order
	return result, nil
}

func (s *checkoutService) EstimateCrypto(ctx context.Context, req payments.EstimateRequest) (payments.Estimate, error) {
	gateway, err := s.payments.Crypto()
	if err != nil {
		return payments.Estimate{}, err
	}
	if strings.TrimSpace(req.FromCurrency) == "" {
		req.FromCurrency = s.currency
	}
	return gateway.Estimate(ctx, req)
}

func (s *checkoutService) loadForProvider(ctx context.Context, orderID string, method PaymentMethod) (Order, string, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, "", err
	}
	if order.PaymentMethod != method {
		return order, "", fmt.Errorf("%w: order uses %s", ErrPaymentMethodMismatch, order.PaymentMethod)
	}
	if order.PaymentStatus.Terminal() {
		return order, "", nil
	}
	if order.Payment == nil || order.Payment.Reference == "" {
		return order, "", ErrPaymentNotInitiated
	}
	return order, order.Payment.Reference, nil
}

func existingCryptoHandle(order Order) payments.Handle {
	crypto := *order.Crypto
	return payments.Handle{
		Method:    domain.PaymentMethodCrypto,
		Provider:  order.Payment.Provider,
		Reference: order.Payment.Reference,
		Crypto:    &crypto,
	}
}
