package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/auth"
	"github.com/storefront/orders-api/internal/services"
)

const testAdminToken = "admin-token"

func testAdminSession() services.AdminSession {
	return services.AdminSession{
		ID:        "sess-1",
		Token:     testAdminToken,
		AdminID:   "adm_1",
		Email:     "ops@example.com",
		Roles:     []string{"admin"},
		IssuedAt:  testNow,
		ExpiresAt: testNow.Add(8 * time.Hour),
	}
}

func newAdminRouter(sessions *stubAdminAuthService, orders services.AdminOrderService) chi.Router {
	if sessions.validateFn == nil {
		sessions.validateFn = func(_ context.Context, token string) (services.AdminSession, error) {
			if token != testAdminToken {
				return services.AdminSession{}, services.ErrUnauthorized
			}
			return testAdminSession(), nil
		}
	}
	guard := auth.NewAdminGuard(sessions, auth.WithUnavailableError(services.ErrAdminAuthUnavailable))
	handlers := NewAdminHandlers(sessions, orders, guard, WithAdminClock(func() time.Time { return testNow }))
	return NewRouter(WithAdminRoutes(handlers.Routes))
}

func authorised(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return req
}

func TestAdminHandlers_LoginSetsSessionCookie(t *testing.T) {
	sessions := &stubAdminAuthService{
		loginFn: func(_ context.Context, email, password string) (services.AdminSession, error) {
			if email != "ops@example.com" || password != "hunter22" {
				return services.AdminSession{}, services.ErrUnauthorized
			}
			return testAdminSession(), nil
		},
	}
	router := newAdminRouter(sessions, &stubAdminOrderService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sessions",
		bytes.NewBufferString(`{"email":"ops@example.com","password":"hunter22"}`)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != auth.AdminSessionCookie || cookie.Value != testAdminToken {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode || cookie.Path != "/api/v1/admin" {
		t.Fatalf("cookie attributes not hardened: %+v", cookie)
	}
	if cookie.MaxAge != int((8 * time.Hour).Seconds()) {
		t.Fatalf("unexpected max age %d", cookie.MaxAge)
	}

	var body struct {
		Session sessionPayload `json:"session"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session.Token != testAdminToken || body.Session.AdminID != "adm_1" {
		t.Fatalf("unexpected session %+v", body.Session)
	}
}

func TestAdminHandlers_LoginFailures(t *testing.T) {
	router := newAdminRouter(&stubAdminAuthService{}, &stubAdminOrderService{})

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"missing credentials", `{"email":"ops@example.com"}`, http.StatusBadRequest},
		{"wrong password", `{"email":"ops@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"rejected id token", `{"id_token":"firebase-token"}`, http.StatusUnauthorized},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sessions", bytes.NewBufferString(tc.body)))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if len(rr.Result().Cookies()) != 0 {
				t.Fatalf("no cookie expected on failure")
			}
		})
	}
}

func TestAdminHandlers_ProtectedRoutesRequireSession(t *testing.T) {
	router := newAdminRouter(&stubAdminAuthService{}, &stubAdminOrderService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	bad.Header.Set("Authorization", "Bearer forged")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, bad)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
}

func TestAdminHandlers_SessionCheckUnavailable(t *testing.T) {
	sessions := &stubAdminAuthService{
		validateFn: func(context.Context, string) (services.AdminSession, error) {
			return services.AdminSession{}, services.ErrAdminAuthUnavailable
		},
	}
	router := newAdminRouter(sessions, &stubAdminOrderService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authorised(httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAdminHandlers_CurrentSessionAndLogout(t *testing.T) {
	var loggedOut string
	sessions := &stubAdminAuthService{
		logoutFn: func(_ context.Context, token string) error {
			loggedOut = token
			return nil
		},
	}
	router := newAdminRouter(sessions, &stubAdminOrderService{})

	current := httptest.NewRecorder()
	router.ServeHTTP(current, authorised(httptest.NewRequest(http.MethodGet, "/api/v1/admin/sessions/current", nil)))
	var body struct {
		Session sessionPayload `json:"session"`
	}
	if err := json.Unmarshal(current.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session.Token != "" || body.Session.Email != "ops@example.com" {
		t.Fatalf("unexpected current session %+v", body.Session)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: auth.AdminSessionCookie, Value: testAdminToken})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if loggedOut != testAdminToken {
		t.Fatalf("expected cookie token to be revoked, got %q", loggedOut)
	}
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared, got %+v", cleared)
	}
}

func TestAdminHandlers_ListOrdersPassesQuery(t *testing.T) {
	var got services.AdminOrderQuery
	orders := &stubAdminOrderService{
		listFn: func(_ context.Context, query services.AdminOrderQuery) (services.AdminOrderPage, error) {
			got = query
			return services.AdminOrderPage{Items: []services.Order{sampleOrder()}, Total: 7, NextPageToken: "next"}, nil
		},
	}
	router := newAdminRouter(&stubAdminAuthService{}, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authorised(httptest.NewRequest(http.MethodGet,
		"/api/v1/admin/orders?q=genser&sort=total&order=asc&range=week&category=Tops&pageSize=10", nil)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := services.AdminOrderQuery{Query: "genser", Sort: "total", Order: "asc", Range: "week", Category: "Tops", PageSize: 10}
	if got != want {
		t.Fatalf("expected query %+v, got %+v", want, got)
	}

	var body adminOrderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 7 || body.NextPageToken != "next" || len(body.Items) != 1 {
		t.Fatalf("unexpected page %+v", body)
	}
	if body.Items[0].CommissionAmount == nil || *body.Items[0].CommissionAmount != 8980 {
		t.Fatalf("expected commission for operators")
	}
}

func TestAdminHandlers_GetOrderIncludesImage(t *testing.T) {
	orders := &stubAdminOrderService{
		getFn: func(_ context.Context, id string) (services.AdminOrderDetail, error) {
			if id != "ord_01" {
				return services.AdminOrderDetail{}, services.ErrOrderNotFound
			}
			return services.AdminOrderDetail{Order: sampleOrder(), ImageURL: "https://storage.example.com/p1.jpg?sig=abc"}, nil
		},
	}
	router := newAdminRouter(&stubAdminAuthService{}, orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authorised(httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/ord_01", nil)))

	var body adminOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ImageURL == "" || body.Order.ID != "ord_01" {
		t.Fatalf("unexpected detail %+v", body)
	}

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, authorised(httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/nope", nil)))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestAdminHandlers_UpdateOrderParsesPatch(t *testing.T) {
	var (
		gotID  string
		gotCmd services.AdminOrderUpdate
	)
	orders := &stubAdminOrderService{
		updateFn: func(_ context.Context, id string, cmd services.AdminOrderUpdate) (services.Order, error) {
			gotID, gotCmd = id, cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			order.TrackingNumber = "TRK-1"
			return order, nil
		},
	}
	router := newAdminRouter(&stubAdminAuthService{}, orders)

	body := `{"status":"Shipped","tracking_number":"TRK-1","expected_updated_at":"2025-03-03T10:00:00Z"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authorised(httptest.NewRequest(http.MethodPatch, "/api/v1/admin/orders/ord_01", bytes.NewBufferString(body))))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotID != "ord_01" || gotCmd.ActorID != "adm_1" {
		t.Fatalf("unexpected target %s / actor %s", gotID, gotCmd.ActorID)
	}
	if gotCmd.Status == nil || *gotCmd.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped status, got %v", gotCmd.Status)
	}
	if gotCmd.PaymentStatus != nil {
		t.Fatalf("payment status must stay untouched")
	}
	if gotCmd.TrackingNumber == nil || *gotCmd.TrackingNumber != "TRK-1" {
		t.Fatalf("expected tracking number")
	}
	if gotCmd.ExpectedUpdatedAt == nil || !gotCmd.ExpectedUpdatedAt.Equal(testNow) {
		t.Fatalf("expected precondition timestamp, got %v", gotCmd.ExpectedUpdatedAt)
	}
}

func TestAdminHandlers_UpdateOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"stale write", `{"status":"shipped"}`, services.ErrOrderConflict, http.StatusConflict},
		{"strict transition", `{"status":"pending"}`, services.ErrInvalidTransition, http.StatusConflict},
		{"unknown order", `{"status":"shipped"}`, services.ErrOrderNotFound, http.StatusNotFound},
		{"bad timestamp", `{"expected_updated_at":"yesterday"}`, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubAdminOrderService{
				updateFn: func(context.Context, string, services.AdminOrderUpdate) (services.Order, error) {
					if tc.err == nil {
						t.Fatal("service must not be called")
					}
					return services.Order{}, tc.err
				},
			}
			router := newAdminRouter(&stubAdminAuthService{}, orders)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, authorised(httptest.NewRequest(http.MethodPatch, "/api/v1/admin/orders/ord_01", bytes.NewBufferString(tc.body))))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestAdminHandlers_WithoutGuardDeniesConsole(t *testing.T) {
	router := NewRouter(WithAdminRoutes(NewAdminHandlers(&stubAdminAuthService{}, &stubAdminOrderService{}, nil).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authorised(httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
