package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storefront/orders-api/internal/cart"
	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/services"
)

type stubCheckoutService struct {
	methods      []domain.PaymentMethod
	placeFn      func(context.Context, services.PlaceOrderCommand) (services.PlaceOrderResult, error)
	getFn        func(context.Context, string) (services.Order, error)
	initiateFn   func(context.Context, string) (services.PaymentInitiation, error)
	confirmFn    func(context.Context, string) (services.Order, error)
	captureFn    func(context.Context, string) (services.Order, error)
	cardEventFn  func(context.Context, []byte, string) (services.CardEventResult, error)
	estimateFn   func(context.Context, payments.EstimateRequest) (payments.Estimate, error)
	placeCommand services.PlaceOrderCommand
}

func (s *stubCheckoutService) PaymentMethods() []domain.PaymentMethod {
	return s.methods
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
	s.placeCommand = cmd
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.PlaceOrderResult{}, nil
}

func (s *stubCheckoutService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubCheckoutService) InitiatePayment(ctx context.Context, orderID string) (services.PaymentInitiation, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, orderID)
	}
	return services.PaymentInitiation{}, nil
}

func (s *stubCheckoutService) ConfirmCard(ctx context.Context, orderID string) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, orderID)
	}
	return services.Order{}, nil
}

func (s *stubCheckoutService) CaptureWallet(ctx context.Context, orderID string) (services.Order, error) {
	if s.captureFn != nil {
		return s.captureFn(ctx, orderID)
	}
	return services.Order{}, nil
}

func (s *stubCheckoutService) ApplyCardEvent(ctx context.Context, payload []byte, signature string) (services.CardEventResult, error) {
	if s.cardEventFn != nil {
		return s.cardEventFn(ctx, payload, signature)
	}
	return services.CardEventResult{}, nil
}

func (s *stubCheckoutService) EstimateCrypto(ctx context.Context, req payments.EstimateRequest) (payments.Estimate, error) {
	if s.estimateFn != nil {
		return s.estimateFn(ctx, req)
	}
	return payments.Estimate{}, nil
}

type stubReconciliationService struct {
	reconcileFn func(context.Context, string) (services.ReconcileResult, error)
	pollFn      func(context.Context, string, services.PollOptions) (services.ReconcileResult, error)
	notifyFn    func(context.Context, []byte, string) (services.ReconcileResult, error)
	sweepFn     func(context.Context, int) (services.SweepSummary, error)
}

func (s *stubReconciliationService) ReconcileCrypto(ctx context.Context, orderID string) (services.ReconcileResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, orderID)
	}
	return services.ReconcileResult{}, nil
}

func (s *stubReconciliationService) PollCrypto(ctx context.Context, orderID string, opts services.PollOptions) (services.ReconcileResult, error) {
	if s.pollFn != nil {
		return s.pollFn(ctx, orderID, opts)
	}
	return services.ReconcileResult{}, nil
}

func (s *stubReconciliationService) ApplyCryptoNotification(ctx context.Context, body []byte, signature string) (services.ReconcileResult, error) {
	if s.notifyFn != nil {
		return s.notifyFn(ctx, body, signature)
	}
	return services.ReconcileResult{}, nil
}

func (s *stubReconciliationService) SweepPending(ctx context.Context, limit int) (services.SweepSummary, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx, limit)
	}
	return services.SweepSummary{}, nil
}

type stubPromotionService struct {
	resolveFn func(context.Context, string) (services.PromoResolution, error)
}

func (s *stubPromotionService) Resolve(ctx context.Context, code string) (services.PromoResolution, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, code)
	}
	return services.PromoResolution{}, nil
}

func (s *stubPromotionService) Redeem(context.Context, string) (services.PromoCode, error) {
	return services.PromoCode{}, nil
}

type stubAdminAuthService struct {
	loginFn    func(context.Context, string, string) (services.AdminSession, error)
	firebaseFn func(context.Context, string) (services.AdminSession, error)
	validateFn func(context.Context, string) (services.AdminSession, error)
	logoutFn   func(context.Context, string) error
}

func (s *stubAdminAuthService) Login(ctx context.Context, email, password string) (services.AdminSession, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, email, password)
	}
	return services.AdminSession{}, services.ErrUnauthorized
}

func (s *stubAdminAuthService) LoginWithFirebase(ctx context.Context, idToken string) (services.AdminSession, error) {
	if s.firebaseFn != nil {
		return s.firebaseFn(ctx, idToken)
	}
	return services.AdminSession{}, services.ErrUnauthorized
}

func (s *stubAdminAuthService) Validate(ctx context.Context, token string) (services.AdminSession, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, token)
	}
	return services.AdminSession{}, services.ErrUnauthorized
}

func (s *stubAdminAuthService) Logout(ctx context.Context, token string) error {
	if s.logoutFn != nil {
		return s.logoutFn(ctx, token)
	}
	return nil
}

type stubAdminOrderService struct {
	listFn   func(context.Context, services.AdminOrderQuery) (services.AdminOrderPage, error)
	getFn    func(context.Context, string) (services.AdminOrderDetail, error)
	updateFn func(context.Context, string, services.AdminOrderUpdate) (services.Order, error)
}

func (s *stubAdminOrderService) List(ctx context.Context, query services.AdminOrderQuery) (services.AdminOrderPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return services.AdminOrderPage{}, nil
}

func (s *stubAdminOrderService) Get(ctx context.Context, orderID string) (services.AdminOrderDetail, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.AdminOrderDetail{}, services.ErrOrderNotFound
}

func (s *stubAdminOrderService) Update(ctx context.Context, orderID string, cmd services.AdminOrderUpdate) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, orderID, cmd)
	}
	return services.Order{}, nil
}

var (
	testCookieHashKey = []byte("0123456789abcdef0123456789abcdef")
	testNow           = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
)

func newTestCartCookies(t *testing.T, ids ...string) *CartCookies {
	t.Helper()
	next := 0
	cookies, err := NewCartCookies(CartCookieConfig{
		HashKey: testCookieHashKey,
		Now:     func() time.Time { return testNow },
		NewID: func() string {
			if next < len(ids) {
				next++
				return ids[next-1]
			}
			return "cart-generated"
		},
	})
	if err != nil {
		t.Fatalf("NewCartCookies: %v", err)
	}
	return cookies
}

// issueCartCookie returns the cookie a shopper would hold for a new cart.
func issueCartCookie(t *testing.T, cookies *CartCookies) (*http.Cookie, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	id, err := cookies.Ensure(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	result := rr.Result()
	defer result.Body.Close()
	for _, c := range result.Cookies() {
		if c.Name == defaultCartCookieName {
			return c, id
		}
	}
	t.Fatalf("expected cart cookie to be issued")
	return nil, ""
}

func seedCart(t *testing.T, backend cart.Backend, cartID string, items ...domain.CartItem) {
	t.Helper()
	store, err := cart.Open(context.Background(), backend, cartID)
	if err != nil {
		t.Fatalf("open cart: %v", err)
	}
	for _, item := range items {
		if err := store.AddItem(context.Background(), item); err != nil {
			t.Fatalf("add item: %v", err)
		}
	}
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:               "ord_01",
		ProductID:        "p1",
		ProductTitle:     "Genser",
		SellerID:         "s1",
		Items:            []domain.OrderItem{{ProductID: "p1", Title: "Genser", UnitPrice: 49900, Quantity: 1, LineTotal: 49900}},
		CustomerEmail:    "kari@example.com",
		ShippingAddress:  "Storgata 1, Oslo",
		Currency:         "NOK",
		Subtotal:         49900,
		DiscountAmount:   5000,
		PromoCode:        "WELCOME50",
		TotalAmount:      44900,
		CommissionRate:   0.2,
		CommissionAmount: 8980,
		PaymentMethod:    domain.PaymentMethodCard,
		PaymentStatus:    domain.PaymentStatusPending,
		Status:           domain.OrderStatusPending,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
}

var (
	_ services.CheckoutService       = (*stubCheckoutService)(nil)
	_ services.ReconciliationService = (*stubReconciliationService)(nil)
	_ services.PromotionService      = (*stubPromotionService)(nil)
	_ services.AdminAuthService      = (*stubAdminAuthService)(nil)
	_ services.AdminOrderService     = (*stubAdminOrderService)(nil)
)

func sampleCartItem(productID string, price int64) domain.CartItem {
	return domain.CartItem{ProductID: productID, Title: "Item " + productID, SellerID: "s1", UnitPrice: price}
}
