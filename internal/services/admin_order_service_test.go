package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

type stubImageSigner struct {
	signFunc func(ctx context.Context, ref string) (string, error)
}

func (s *stubImageSigner) SignedImageURL(ctx context.Context, ref string) (string, error) {
	return s.signFunc(ctx, ref)
}

func adminOrders(now time.Time) []domain.Order {
	a := pendingOrder("ord_a", domain.PaymentMethodCard, now.Add(-2*time.Hour))
	a.CustomerName = "Bjørn Dæhlie"
	a.CustomerEmail = "bjorn@example.com"
	a.TotalAmount = 30000

	b := pendingOrder("ord_b", domain.PaymentMethodWallet, now.Add(-30*time.Hour))
	b.CustomerName = "Ada Lovelace"
	b.TotalAmount = 90000
	b.ProductCategory = "home"
	b.ProductTitle = "Ceramic mug"

	c := pendingOrder("ord_c", domain.PaymentMethodCrypto, now.Add(-40*24*time.Hour))
	c.CustomerName = "Grace Hopper"
	c.TotalAmount = 10000
	c.TrackingNumber = "TRACK-42"
	return []domain.Order{a, b, c}
}

func newAdminFixture(t *testing.T, now time.Time, strict bool, orders ...domain.Order) (*memoryOrders, *stubPromotions, *eventRecorder, AdminOrderService) {
	t.Helper()
	repo := newMemoryOrders(orders...)
	promos := &stubPromotions{}
	events := &eventRecorder{}
	svc, err := NewAdminOrderService(AdminOrderServiceDeps{
		Orders:            repo,
		Promotions:        promos,
		StrictTransitions: strict,
		Images: &stubImageSigner{signFunc: func(_ context.Context, ref string) (string, error) {
			return "https://cdn.example/" + ref + "?sig=1", nil
		}},
		Clock:  fixedClock(now),
		Logger: events.log,
	})
	if err != nil {
		t.Fatalf("NewAdminOrderService: %v", err)
	}
	return repo, promos, events, svc
}

func TestAdminOrderListSearchIsCaseInsensitive(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	_, _, _, svc := newAdminFixture(t, now, false, adminOrders(now)...)

	page, err := svc.List(context.Background(), AdminOrderQuery{Query: "BJØRN"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "ord_a" {
		t.Fatalf("expected ord_a, got %#v", page.Items)
	}

	page, err = svc.List(context.Background(), AdminOrderQuery{Query: "track-42"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "ord_c" {
		t.Fatalf("expected tracking match, got %#v", page.Items)
	}
}

func TestAdminOrderListSortAndPaging(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	_, _, _, svc := newAdminFixture(t, now, false, adminOrders(now)...)

	first, err := svc.List(context.Background(), AdminOrderQuery{Sort: "amount", Order: "asc", PageSize: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if first.Total != 3 || len(first.Items) != 2 || first.Items[0].ID != "ord_c" || first.Items[1].ID != "ord_a" {
		t.Fatalf("unexpected first page %#v", first.Items)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second, err := svc.List(context.Background(), AdminOrderQuery{Sort: "amount", Order: "asc", PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "ord_b" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %#v", second)
	}

	if _, err := svc.List(context.Background(), AdminOrderQuery{Sort: "date", PageToken: first.NextPageToken}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected token bound to its query, got %v", err)
	}
}

func TestAdminOrderListDefaultSortNewestFirst(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	_, _, _, svc := newAdminFixture(t, now, false, adminOrders(now)...)
	page, err := svc.List(context.Background(), AdminOrderQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := []string{page.Items[0].ID, page.Items[1].ID, page.Items[2].ID}
	if got[0] != "ord_a" || got[1] != "ord_b" || got[2] != "ord_c" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestAdminOrderListRangeAndCategory(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC) // Wednesday
	repo, _, _, svc := newAdminFixture(t, now, false, adminOrders(now)...)

	page, err := svc.List(context.Background(), AdminOrderQuery{Range: "today"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "ord_a" {
		t.Fatalf("expected today's order only, got %#v", page.Items)
	}
	if want := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC); !repo.listFilter.CreatedFrom.Equal(want) {
		t.Fatalf("expected range start %v, got %v", want, repo.listFilter.CreatedFrom)
	}

	page, err = svc.List(context.Background(), AdminOrderQuery{Range: "week", Category: "home"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "ord_b" {
		t.Fatalf("expected home order this week, got %#v", page.Items)
	}

	for _, query := range []AdminOrderQuery{{Sort: "price"}, {Order: "up"}, {Range: "year"}} {
		if _, err := svc.List(context.Background(), query); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input for %#v, got %v", query, err)
		}
	}
}

func TestRangeStartUsesStoreTimezone(t *testing.T) {
	oslo := time.FixedZone("CET", 3600)
	now := time.Date(2025, 5, 14, 23, 30, 0, 0, time.UTC) // 00:30 on the 15th in Oslo

	today := rangeStart("today", now, oslo)
	if want := time.Date(2025, 5, 15, 0, 0, 0, 0, oslo); !today.Equal(want) {
		t.Fatalf("today: expected %v, got %v", want, today)
	}
	week := rangeStart("week", now, oslo)
	if want := time.Date(2025, 5, 12, 0, 0, 0, 0, oslo); !week.Equal(want) {
		t.Fatalf("week: expected %v, got %v", want, week)
	}
	quarter := rangeStart("quarter", now, oslo)
	if want := time.Date(2025, 4, 1, 0, 0, 0, 0, oslo); !quarter.Equal(want) {
		t.Fatalf("quarter: expected %v, got %v", want, quarter)
	}
	if rangeStart("all", now, oslo) != nil {
		t.Fatalf("expected no bound for all")
	}
}

func TestAdminOrderGetSignsImage(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	order := pendingOrder("ord_a", domain.PaymentMethodCard, now)
	order.ProductImageRef = "products/prod-1.jpg"
	_, _, _, svc := newAdminFixture(t, now, false, order)

	detail, err := svc.Get(context.Background(), "ord_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.ImageURL != "https://cdn.example/products/prod-1.jpg?sig=1" {
		t.Fatalf("unexpected image url %q", detail.ImageURL)
	}
	if _, err := svc.Get(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestAdminOrderUpdateShipsWithTracking(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now := created.Add(48 * time.Hour)
	order := pendingOrder("ord_a", domain.PaymentMethodCard, created)
	order.Status = domain.OrderStatusConfirmed
	order.PaymentStatus = domain.PaymentStatusCompleted
	_, _, events, svc := newAdminFixture(t, now, false, order)

	status := domain.OrderStatusShipped
	tracking := "  LX123456789NO "
	updated, err := svc.Update(context.Background(), "ord_a", AdminOrderUpdate{
		Status:            &status,
		TrackingNumber:    &tracking,
		ExpectedUpdatedAt: &created,
		ActorID:           "admin-1",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped || updated.TrackingNumber != "LX123456789NO" {
		t.Fatalf("unexpected update %s %q", updated.Status, updated.TrackingNumber)
	}
	if updated.PaymentStatus != domain.PaymentStatusCompleted || !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected untouched payment and bumped timestamp, got %s %v", updated.PaymentStatus, updated.UpdatedAt)
	}
	if events.count("admin.order.updated") != 1 || events.count("admin.order.irregular_transition") != 0 {
		t.Fatalf("unexpected events %v", events.events)
	}

	if _, err := svc.Update(context.Background(), "ord_a", AdminOrderUpdate{Status: &status, ExpectedUpdatedAt: &created}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected stale precondition to conflict, got %v", err)
	}
}

func TestAdminOrderUpdateIrregularTransition(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	order := pendingOrder("ord_a", domain.PaymentMethodCard, now)
	order.Status = domain.OrderStatusCompleted
	back := domain.OrderStatusPending

	_, _, events, permissive := newAdminFixture(t, now, false, order)
	updated, err := permissive.Update(context.Background(), "ord_a", AdminOrderUpdate{Status: &back, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != domain.OrderStatusPending || events.count("admin.order.irregular_transition") != 1 {
		t.Fatalf("expected logged override, got %s", updated.Status)
	}

	repo, _, _, strict := newAdminFixture(t, now, true, order)
	if _, err := strict.Update(context.Background(), "ord_a", AdminOrderUpdate{Status: &back}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition in strict mode, got %v", err)
	}
	if repo.get("ord_a").Status != domain.OrderStatusCompleted {
		t.Fatalf("expected strict rejection to leave the order alone")
	}
}

func TestAdminOrderUpdateManualPaymentRedeemsPromo(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	order := pendingOrder("ord_a", domain.PaymentMethodWallet, now)
	order.PromoCode = "SPRING25"
	repo, promos, _, svc := newAdminFixture(t, now, false, order)

	completed := domain.PaymentStatusCompleted
	if _, err := svc.Update(context.Background(), "ord_a", AdminOrderUpdate{PaymentStatus: &completed}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := svc.Update(context.Background(), "ord_a", AdminOrderUpdate{PaymentStatus: &completed}); err != nil {
		t.Fatalf("repeat Update: %v", err)
	}
	if promos.redeemCount() != 1 || !repo.get("ord_a").PromoRedeemed {
		t.Fatalf("expected a single redemption, got %d", promos.redeemCount())
	}
	if repo.get("ord_a").Status != domain.OrderStatusPending {
		t.Fatalf("expected order status untouched by a payment patch")
	}
}

func TestAdminOrderUpdateValidation(t *testing.T) {
	now := time.Now()
	_, _, _, svc := newAdminFixture(t, now, false, pendingOrder("ord_a", domain.PaymentMethodCard, now))
	unknown := domain.OrderStatus("lost")
	long := string(make([]byte, 129))

	cases := map[string]AdminOrderUpdate{
		"empty":          {},
		"unknown status": {Status: &unknown},
		"long tracking":  {TrackingNumber: &long},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Update(context.Background(), "ord_a", cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}
}
