package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/requestctx"
)

var errStoreDown = errors.New("revocations unavailable")

type stubValidator struct {
	validateFunc func(ctx context.Context, token string) (domain.AdminSession, error)
}

func (s *stubValidator) Validate(ctx context.Context, token string) (domain.AdminSession, error) {
	return s.validateFunc(ctx, token)
}

func newTestGuard() *AdminGuard {
	validator := &stubValidator{validateFunc: func(_ context.Context, token string) (domain.AdminSession, error) {
		switch token {
		case "good":
			return domain.AdminSession{ID: "sess_1", AdminID: "adm_1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		case "down":
			return domain.AdminSession{}, errStoreDown
		default:
			return domain.AdminSession{}, errors.New("unauthorized")
		}
	}}
	return NewAdminGuard(validator, WithUnavailableError(errStoreDown))
}

func TestRequireAdminAcceptsBearerAndCookie(t *testing.T) {
	guard := newTestGuard()
	handler := guard.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := AdminSessionFromContext(r.Context())
		if !ok || session.AdminID != "adm_1" {
			t.Fatalf("expected session on context, got %#v", session)
		}
		if actor := requestctx.ActorFrom(r.Context()); actor.String() != "operator:adm_1" {
			t.Fatalf("expected operator actor adm_1, got %q", actor)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	bearer := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	bearer.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearer)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for bearer, got %d", rr.Code)
	}

	cookie := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	cookie.AddCookie(&http.Cookie{Name: AdminSessionCookie, Value: "good"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, cookie)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for cookie, got %d", rr.Code)
	}
}

func TestRequireAdminRejections(t *testing.T) {
	guard := newTestGuard()
	handler := guard.RequireAdmin()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	}))

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":     {"", http.StatusUnauthorized},
		"not bearer":  {"Basic abc", http.StatusUnauthorized},
		"invalid":     {"Bearer forged", http.StatusUnauthorized},
		"store down":  {"Bearer down", http.StatusServiceUnavailable},
		"empty token": {"Bearer   ", http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestRequireAdminWithoutValidator(t *testing.T) {
	var guard *AdminGuard
	handler := guard.RequireAdmin()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
