package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
)

type checkoutFixture struct {
	orders     *memoryOrders
	promotions *stubPromotions
	notifier   *stubNotifier
	events     *eventRecorder
	service    CheckoutService
}

func newCheckoutFixture(t *testing.T, now time.Time, adapters ...payments.Adapter) *checkoutFixture {
	t.Helper()
	orders := newMemoryOrders()
	registry := mustRegistry(adapters...)
	factory, err := NewOrderFactory(OrderFactoryDeps{
		Orders:      orders,
		Catalog:     newTestCatalog(),
		Payments:    registry,
		Clock:       fixedClock(now),
		IDGenerator: func() string { return "ord_1" },
	})
	if err != nil {
		t.Fatalf("NewOrderFactory: %v", err)
	}
	fx := &checkoutFixture{
		orders: orders,
		promotions: &stubPromotions{
			resolveFunc: func(_ context.Context, code string) (PromoResolution, error) {
				if code == "SPRING25" {
					return PromoResolution{Code: code, DiscountAmount: 5000}, nil
				}
				return PromoResolution{}, &PromoRejectedError{Code: code, Reason: PromoRejectInactive}
			},
		},
		notifier: &stubNotifier{},
		events:   &eventRecorder{},
	}
	fx.service, err = NewCheckoutService(CheckoutServiceDeps{
		Orders:     orders,
		Factory:    factory,
		Promotions: fx.promotions,
		Payments:   registry,
		Notifier:   fx.notifier,
		Clock:      fixedClock(now),
		Logger:     fx.events.log,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return fx
}

func placeCommand(method domain.PaymentMethod) PlaceOrderCommand {
	return PlaceOrderCommand{
		Items:           []CartItem{{ProductID: "prod-1", Quantity: 1}},
		CustomerName:    "Ada Lovelace",
		Email:           "ada@example.com",
		ShippingAddress: "Storgata 1, Oslo",
		PaymentMethod:   method,
		PromoCode:       "SPRING25",
	}
}

func TestCheckoutPlaceOrderCardInitiatesPayment(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var initReq payments.InitiateRequest
	card := &stubCardGateway{
		initiateFunc: func(_ context.Context, req payments.InitiateRequest) (payments.Handle, error) {
			initReq = req
			return payments.Handle{Method: domain.PaymentMethodCard, Provider: "stripe", Reference: "pi_1", ClientSecret: "pi_1_secret"}, nil
		},
	}
	fx := newCheckoutFixture(t, now, card)

	cleared := false
	cmd := placeCommand(domain.PaymentMethodCard)
	cmd.ClearCart = func(context.Context) error {
		cleared = true
		return nil
	}
	result, err := fx.service.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.InitiationErr != nil || result.Handle == nil {
		t.Fatalf("expected handle, got err=%v", result.InitiationErr)
	}
	if result.Handle.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected handle %#v", result.Handle)
	}
	if initReq.Amount != 44900 || initReq.Currency != "NOK" || initReq.IdempotencyKey != "initiate-ord_1" {
		t.Fatalf("unexpected initiate request %#v", initReq)
	}
	if !cleared {
		t.Fatalf("expected cart cleared")
	}
	stored := fx.orders.get("ord_1")
	if stored.Payment == nil || stored.Payment.Reference != "pi_1" || stored.Payment.Provider != "stripe" {
		t.Fatalf("expected payment reference stored, got %#v", stored.Payment)
	}
	if result.Order.Payment == nil || !result.Order.Payment.InitiatedAt.Equal(now) {
		t.Fatalf("expected initiated order returned")
	}
}

func TestCheckoutPlaceOrderKeepsOrderWhenInitiationFails(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	card := &stubCardGateway{
		initiateFunc: func(context.Context, payments.InitiateRequest) (payments.Handle, error) {
			return payments.Handle{}, payments.ErrProviderRequest
		},
	}
	fx := newCheckoutFixture(t, now, card)

	cleared := false
	cmd := placeCommand(domain.PaymentMethodCard)
	cmd.ClearCart = func(context.Context) error {
		cleared = true
		return nil
	}
	result, err := fx.service.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !errors.Is(result.InitiationErr, payments.ErrProviderRequest) {
		t.Fatalf("expected initiation error, got %v", result.InitiationErr)
	}
	if result.Order.ID != "ord_1" || !cleared {
		t.Fatalf("expected persisted order and cleared cart")
	}
	if stored := fx.orders.get("ord_1"); stored.Payment != nil || stored.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected stored order %#v", stored)
	}
	if fx.events.count("checkout.payment_initiation_failed") != 1 {
		t.Fatalf("expected initiation failure logged")
	}
}

func TestCheckoutPlaceOrderRejectedPromoCreatesNothing(t *testing.T) {
	fx := newCheckoutFixture(t, time.Now(), &stubCardGateway{})
	cmd := placeCommand(domain.PaymentMethodCard)
	cmd.PromoCode = "WINTER"
	_, err := fx.service.PlaceOrder(context.Background(), cmd)
	var rejected *PromoRejectedError
	if !errors.As(err, &rejected) || rejected.Reason != PromoRejectInactive {
		t.Fatalf("expected inactive rejection, got %v", err)
	}
	if len(fx.orders.orders) != 0 {
		t.Fatalf("expected no order persisted")
	}
}

func TestCheckoutPlaceOrderWithoutProviders(t *testing.T) {
	fx := newCheckoutFixture(t, time.Now())
	if _, err := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodCard)); !errors.Is(err, payments.ErrNoPaymentMethodAvailable) {
		t.Fatalf("expected ErrNoPaymentMethodAvailable, got %v", err)
	}
	if methods := fx.service.PaymentMethods(); len(methods) != 0 {
		t.Fatalf("expected no methods, got %v", methods)
	}
}

func TestCheckoutConfirmCardCompletesOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	card := &stubCardGateway{
		resolveFunc: func(_ context.Context, ref string) (payments.Outcome, error) {
			return payments.Outcome{Reference: ref, State: payments.OutcomeSucceeded, RawStatus: "succeeded"}, nil
		},
	}
	fx := newCheckoutFixture(t, now, card)
	placed, err := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodCard))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order, err := fx.service.ConfirmCard(context.Background(), placed.Order.ID)
	if err != nil {
		t.Fatalf("ConfirmCard: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted || order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected completed/confirmed, got %s/%s", order.PaymentStatus, order.Status)
	}

	again, err := fx.service.ConfirmCard(context.Background(), placed.Order.ID)
	if err != nil {
		t.Fatalf("second ConfirmCard: %v", err)
	}
	if again.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed order on repeat")
	}
	if fx.notifier.count() != 1 {
		t.Fatalf("expected one confirmation, got %d", fx.notifier.count())
	}
	if fx.promotions.redeemCount() != 1 {
		t.Fatalf("expected one redemption, got %d", fx.promotions.redeemCount())
	}
	if !fx.orders.get(placed.Order.ID).PromoRedeemed {
		t.Fatalf("expected promo marked redeemed")
	}
}

func TestCheckoutConfirmCardFailedOutcome(t *testing.T) {
	card := &stubCardGateway{
		resolveFunc: func(_ context.Context, ref string) (payments.Outcome, error) {
			return payments.Outcome{Reference: ref, State: payments.OutcomeFailed, RawStatus: "canceled"}, nil
		},
	}
	fx := newCheckoutFixture(t, time.Now(), card)
	placed, _ := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodCard))

	order, err := fx.service.ConfirmCard(context.Background(), placed.Order.ID)
	if err != nil {
		t.Fatalf("ConfirmCard: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusFailed || order.Status != domain.OrderStatusPending {
		t.Fatalf("expected failed/pending, got %s/%s", order.PaymentStatus, order.Status)
	}
	if fx.notifier.count() != 0 || fx.promotions.redeemCount() != 0 {
		t.Fatalf("expected no side effects on failure")
	}
}

func TestCheckoutCaptureWalletNotApproved(t *testing.T) {
	wallet := &stubWalletGateway{
		captureFunc: func(context.Context, string) (payments.Outcome, error) {
			return payments.Outcome{}, payments.ErrPaymentNotApproved
		},
	}
	fx := newCheckoutFixture(t, time.Now(), wallet)
	placed, err := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodWallet))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if placed.Handle == nil || placed.Handle.ApprovalURL == "" {
		t.Fatalf("expected approval url")
	}

	_, err = fx.service.CaptureWallet(context.Background(), placed.Order.ID)
	if !errors.Is(err, payments.ErrPaymentNotApproved) {
		t.Fatalf("expected ErrPaymentNotApproved, got %v", err)
	}
	if fx.orders.get(placed.Order.ID).PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected order to stay pending")
	}
}

func TestCheckoutCaptureWalletMethodMismatch(t *testing.T) {
	fx := newCheckoutFixture(t, time.Now(), &stubCardGateway{}, &stubWalletGateway{})
	placed, _ := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodCard))
	if _, err := fx.service.CaptureWallet(context.Background(), placed.Order.ID); !errors.Is(err, ErrPaymentMethodMismatch) {
		t.Fatalf("expected ErrPaymentMethodMismatch, got %v", err)
	}
}

func TestCheckoutApplyCardEvent(t *testing.T) {
	event := payments.CardEvent{ID: "evt_1", Type: "payment_intent.succeeded", Relevant: true}
	card := &stubCardGateway{
		webhookFunc: func([]byte, string) (payments.CardEvent, error) { return event, nil },
	}
	fx := newCheckoutFixture(t, time.Now(), card)
	placed, _ := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodCard))

	event.OrderID = "ord_missing"
	event.Outcome = payments.Outcome{Reference: "pi_ord_missing", State: payments.OutcomeSucceeded}
	result, err := fx.service.ApplyCardEvent(context.Background(), []byte("{}"), "sig")
	if err != nil || result.Applied {
		t.Fatalf("expected unknown order acknowledged, got %v applied=%v", err, result.Applied)
	}

	event.OrderID = placed.Order.ID
	event.Outcome = payments.Outcome{Reference: "pi_other", State: payments.OutcomeSucceeded}
	result, err = fx.service.ApplyCardEvent(context.Background(), []byte("{}"), "sig")
	if err != nil || result.Applied {
		t.Fatalf("expected stale reference ignored, got %v applied=%v", err, result.Applied)
	}

	event.Outcome = payments.Outcome{Reference: placed.Order.Payment.Reference, State: payments.OutcomeSucceeded}
	result, err = fx.service.ApplyCardEvent(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ApplyCardEvent: %v", err)
	}
	if !result.Applied || result.Order == nil || result.Order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected event applied, got %#v", result)
	}

	result, err = fx.service.ApplyCardEvent(context.Background(), []byte("{}"), "sig")
	if err != nil || result.Applied {
		t.Fatalf("expected replay to be a no-op, got %v applied=%v", err, result.Applied)
	}
	if fx.notifier.count() != 1 {
		t.Fatalf("expected one confirmation, got %d", fx.notifier.count())
	}
}

func TestCheckoutApplyCardEventInvalidSignature(t *testing.T) {
	card := &stubCardGateway{
		webhookFunc: func([]byte, string) (payments.CardEvent, error) {
			return payments.CardEvent{}, payments.ErrInvalidSignature
		},
	}
	fx := newCheckoutFixture(t, time.Now(), card)
	if _, err := fx.service.ApplyCardEvent(context.Background(), []byte("{}"), "bad"); !errors.Is(err, payments.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCheckoutInitiatePaymentReusesOpenCryptoPayment(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	crypto := &stubCryptoGateway{
		initiateFunc: func(_ context.Context, req payments.InitiateRequest) (payments.Handle, error) {
			return payments.Handle{
				Method:    domain.PaymentMethodCrypto,
				Provider:  "nowpayments",
				Reference: "np-1",
				Crypto: &domain.CryptoPayment{
					PaymentID:      "np-1",
					PayCurrency:    "btc",
					PayAmount:      "0.00041",
					PayAddress:     "bc1qexample",
					ExpiresAt:      now.Add(20 * time.Minute),
					ProviderStatus: "waiting",
				},
			}, nil
		},
	}
	fx := newCheckoutFixture(t, now, crypto)
	placed, err := fx.service.PlaceOrder(context.Background(), placeCommand(domain.PaymentMethodCrypto))
	if err != nil || placed.InitiationErr != nil {
		t.Fatalf("PlaceOrder: %v / %v", err, placed.InitiationErr)
	}

	initiation, err := fx.service.InitiatePayment(context.Background(), placed.Order.ID)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if initiation.Handle.Crypto == nil || initiation.Handle.Crypto.PayAddress != "bc1qexample" {
		t.Fatalf("expected existing crypto handle, got %#v", initiation.Handle)
	}
	if crypto.initiated != 1 {
		t.Fatalf("expected a single provider call, got %d", crypto.initiated)
	}
}

func TestCheckoutInitiatePaymentRequiresPending(t *testing.T) {
	fx := newCheckoutFixture(t, time.Now(), &stubCardGateway{})
	order := pendingOrder("ord_done", domain.PaymentMethodCard, time.Now())
	order.PaymentStatus = domain.PaymentStatusCompleted
	_ = fx.orders.Insert(context.Background(), order)

	if _, err := fx.service.InitiatePayment(context.Background(), "ord_done"); !errors.Is(err, ErrPaymentNotPending) {
		t.Fatalf("expected ErrPaymentNotPending, got %v", err)
	}
	if _, err := fx.service.GetOrder(context.Background(), "ord_nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCheckoutEstimateCryptoDefaultsCurrency(t *testing.T) {
	fx := newCheckoutFixture(t, time.Now(), &stubCryptoGateway{})
	estimate, err := fx.service.EstimateCrypto(context.Background(), payments.EstimateRequest{Amount: "449.00", ToCurrency: "btc"})
	if err != nil {
		t.Fatalf("EstimateCrypto: %v", err)
	}
	if estimate.FromCurrency != "NOK" {
		t.Fatalf("expected NOK source currency, got %s", estimate.FromCurrency)
	}
}
