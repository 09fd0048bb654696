package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/repositories"
)

type testRepoError struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return e.err.Error() }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr() error { return &testRepoError{err: errors.New("not found"), notFound: true} }
func conflictErr() error { return &testRepoError{err: errors.New("conflict"), conflict: true} }
func unavailableErr() error {
	return &testRepoError{err: errors.New("unavailable"), unavailable: true}
}

// memoryOrders is an in-process order store with the same compare-and-set rules as the real ones.
type memoryOrders struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	transitions []repositories.PaymentTransition
	patches     []repositories.OrderPatch
	listFilter  repositories.OrderListFilter
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		m.orders[order.ID] = cloneOrder(order)
	}
	return m
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	if order.Payment != nil {
		ref := *order.Payment
		order.Payment = &ref
	}
	if order.Crypto != nil {
		crypto := *order.Crypto
		order.Crypto = &crypto
	}
	return order
}

func (m *memoryOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; exists {
		return conflictErr()
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, notFoundErr()
	}
	return cloneOrder(order), nil
}

func (m *memoryOrders) AttachPayment(_ context.Context, id string, ref domain.PaymentRef, crypto *domain.CryptoPayment, at time.Time) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, notFoundErr()
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return domain.Order{}, conflictErr()
	}
	order.Payment = &ref
	if crypto != nil {
		c := *crypto
		order.Crypto = &c
	}
	order.UpdatedAt = at
	m.orders[id] = order
	return cloneOrder(order), nil
}

func (m *memoryOrders) TransitionPayment(_ context.Context, t repositories.PaymentTransition) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[t.OrderID]
	if !ok {
		return domain.Order{}, notFoundErr()
	}
	if order.PaymentStatus != t.From {
		return domain.Order{}, conflictErr()
	}
	m.transitions = append(m.transitions, t)
	order.PaymentStatus = t.To
	if t.ConfirmOrder && order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusConfirmed
	}
	if t.ProviderStatus != "" && order.Crypto != nil {
		order.Crypto.ProviderStatus = t.ProviderStatus
	}
	order.UpdatedAt = t.At
	m.orders[t.OrderID] = order
	return cloneOrder(order), nil
}

func (m *memoryOrders) UpdateFields(_ context.Context, id string, patch repositories.OrderPatch) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, notFoundErr()
	}
	if patch.ExpectedUpdatedAt != nil && !patch.ExpectedUpdatedAt.Equal(order.UpdatedAt) {
		return domain.Order{}, conflictErr()
	}
	m.patches = append(m.patches, patch)
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.PaymentStatus != nil {
		order.PaymentStatus = *patch.PaymentStatus
	}
	if patch.TrackingNumber != nil {
		order.TrackingNumber = *patch.TrackingNumber
	}
	order.UpdatedAt = patch.At
	m.orders[id] = order
	return cloneOrder(order), nil
}

func (m *memoryOrders) MarkPromoRedeemed(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return false, notFoundErr()
	}
	if order.PromoRedeemed {
		return false, nil
	}
	order.PromoRedeemed = true
	order.UpdatedAt = at
	m.orders[id] = order
	return true, nil
}

func (m *memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFilter = filter
	var out []domain.Order
	for _, order := range m.orders {
		if filter.CreatedFrom != nil && order.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.Category != "" && order.ProductCategory != filter.Category {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryOrders) ListPendingCrypto(_ context.Context, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if order.PaymentMethod == domain.PaymentMethodCrypto && order.PaymentStatus == domain.PaymentStatusPending && order.Payment != nil {
			out = append(out, cloneOrder(order))
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubCatalog struct {
	products map[string]domain.Product
	sellers  map[string]domain.Seller
	err      error
}

func (s *stubCatalog) GetProduct(_ context.Context, id string) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, notFoundErr()
	}
	return product, nil
}

func (s *stubCatalog) GetSeller(_ context.Context, id string) (domain.Seller, error) {
	seller, ok := s.sellers[id]
	if !ok {
		return domain.Seller{}, notFoundErr()
	}
	return seller, nil
}

func (s *stubCatalog) UpsertProduct(context.Context, domain.Product) error { return nil }
func (s *stubCatalog) UpsertSeller(context.Context, domain.Seller) error   { return nil }

type stubPromotionRepository struct {
	findFunc      func(ctx context.Context, code string) (domain.PromoCode, error)
	incrementFunc func(ctx context.Context, code string, at time.Time) (domain.PromoCode, error)
}

func (s *stubPromotionRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	if s.findFunc == nil {
		return domain.PromoCode{}, notFoundErr()
	}
	return s.findFunc(ctx, code)
}

func (s *stubPromotionRepository) Upsert(context.Context, domain.PromoCode) error { return nil }

func (s *stubPromotionRepository) IncrementUsage(ctx context.Context, code string, at time.Time) (domain.PromoCode, error) {
	if s.incrementFunc == nil {
		return domain.PromoCode{}, notFoundErr()
	}
	return s.incrementFunc(ctx, code, at)
}

type stubPromotions struct {
	mu          sync.Mutex
	resolveFunc func(ctx context.Context, code string) (PromoResolution, error)
	redeemed    []string
}

func (s *stubPromotions) Resolve(ctx context.Context, code string) (PromoResolution, error) {
	if s.resolveFunc == nil {
		return PromoResolution{}, &PromoRejectedError{Code: code, Reason: PromoRejectNotFound}
	}
	return s.resolveFunc(ctx, code)
}

func (s *stubPromotions) Redeem(_ context.Context, code string) (PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeemed = append(s.redeemed, code)
	return PromoCode{Code: code, UsageCount: len(s.redeemed)}, nil
}

func (s *stubPromotions) redeemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redeemed)
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubNotifier) SendOrderConfirmation(_ context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, order.ID)
	return s.err
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.fields = append(r.fields, fields)
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type stubCardGateway struct {
	initiateFunc func(ctx context.Context, req payments.InitiateRequest) (payments.Handle, error)
	resolveFunc  func(ctx context.Context, reference string) (payments.Outcome, error)
	webhookFunc  func(payload []byte, signature string) (payments.CardEvent, error)
}

func (s *stubCardGateway) Method() domain.PaymentMethod { return domain.PaymentMethodCard }

func (s *stubCardGateway) Initiate(ctx context.Context, req payments.InitiateRequest) (payments.Handle, error) {
	if s.initiateFunc == nil {
		return payments.Handle{
			Method:       domain.PaymentMethodCard,
			Provider:     "stripe",
			Reference:    "pi_" + req.OrderID,
			ClientSecret: "pi_" + req.OrderID + "_secret",
		}, nil
	}
	return s.initiateFunc(ctx, req)
}

func (s *stubCardGateway) ResolveOutcome(ctx context.Context, reference string) (payments.Outcome, error) {
	return s.resolveFunc(ctx, reference)
}

func (s *stubCardGateway) ParseWebhook(payload []byte, signature string) (payments.CardEvent, error) {
	return s.webhookFunc(payload, signature)
}

type stubWalletGateway struct {
	captureFunc func(ctx context.Context, reference string) (payments.Outcome, error)
}

func (s *stubWalletGateway) Method() domain.PaymentMethod { return domain.PaymentMethodWallet }

func (s *stubWalletGateway) Initiate(_ context.Context, req payments.InitiateRequest) (payments.Handle, error) {
	return payments.Handle{
		Method:      domain.PaymentMethodWallet,
		Provider:    "paypal",
		Reference:   "PP-" + req.OrderID,
		ApprovalURL: "https://paypal.example/approve/" + req.OrderID,
	}, nil
}

func (s *stubWalletGateway) ResolveOutcome(ctx context.Context, reference string) (payments.Outcome, error) {
	return s.captureFunc(ctx, reference)
}

func (s *stubWalletGateway) Capture(ctx context.Context, reference string) (payments.Outcome, error) {
	return s.captureFunc(ctx, reference)
}

type stubCryptoGateway struct {
	mu           sync.Mutex
	initiateFunc func(ctx context.Context, req payments.InitiateRequest) (payments.Handle, error)
	resolveFunc  func(ctx context.Context, reference string) (payments.Outcome, error)
	verifyFunc   func(body []byte, signature string) (payments.CryptoNotification, error)
	initiated    int
	resolved     int
}

func (s *stubCryptoGateway) Method() domain.PaymentMethod { return domain.PaymentMethodCrypto }

func (s *stubCryptoGateway) Initiate(ctx context.Context, req payments.InitiateRequest) (payments.Handle, error) {
	s.mu.Lock()
	s.initiated++
	s.mu.Unlock()
	return s.initiateFunc(ctx, req)
}

func (s *stubCryptoGateway) ResolveOutcome(ctx context.Context, reference string) (payments.Outcome, error) {
	s.mu.Lock()
	s.resolved++
	s.mu.Unlock()
	return s.resolveFunc(ctx, reference)
}

func (s *stubCryptoGateway) Estimate(_ context.Context, req payments.EstimateRequest) (payments.Estimate, error) {
	return payments.Estimate{FromCurrency: req.FromCurrency, FromAmount: req.Amount, ToCurrency: req.ToCurrency, EstimatedAmount: "0.01"}, nil
}

func (s *stubCryptoGateway) VerifyNotification(body []byte, signature string) (payments.CryptoNotification, error) {
	return s.verifyFunc(body, signature)
}

func mustRegistry(adapters ...payments.Adapter) *payments.Registry {
	registry, err := payments.NewRegistry(adapters...)
	if err != nil {
		panic(err)
	}
	return registry
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// mutableClock lets a test move time forward between calls.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func pendingOrder(id string, method domain.PaymentMethod, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:              id,
		ProductID:       "prod-1",
		ProductTitle:    "Linen shirt",
		ProductCategory: "clothing",
		SellerID:        "seller-1",
		SellerName:      "Nordic Threads",
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Title: "Linen shirt", UnitPrice: 49900, Quantity: 1, LineTotal: 49900},
		},
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "Storgata 1, Oslo",
		Currency:        "NOK",
		Subtotal:        49900,
		TotalAmount:     49900,
		CommissionRate:  0.15,
		PaymentMethod:   method,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func initiatedCryptoOrder(id string, createdAt, expiresAt time.Time) domain.Order {
	order := pendingOrder(id, domain.PaymentMethodCrypto, createdAt)
	order.Payment = &domain.PaymentRef{Provider: "nowpayments", Reference: "np-" + id, InitiatedAt: createdAt}
	order.Crypto = &domain.CryptoPayment{
		PaymentID:      "np-" + id,
		PayCurrency:    "btc",
		PayAmount:      "0.00041",
		PayAddress:     "bc1qexample",
		ExpiresAt:      expiresAt,
		ProviderStatus: "waiting",
	}
	return order
}
