package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/auth"
	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/platform/pagination"
	"github.com/storefront/orders-api/internal/services"
)

const (
	maxAdminBodySize     = 8 * 1024
	defaultAdminPageSize = 25
	maxAdminPageSize     = 100
)

// AdminHandlers serves the operator console: session management and the order list, detail and
// override endpoints.
type AdminHandlers struct {
	sessions     services.AdminAuthService
	orders       services.AdminOrderService
	guard        *auth.AdminGuard
	secureCookie bool
	clock        func() time.Time
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithAdminSecureCookie marks the session cookie Secure.
func WithAdminSecureCookie(secure bool) AdminOption {
	return func(h *AdminHandlers) {
		h.secureCookie = secure
	}
}

// WithAdminClock overrides the time source used for cookie expiry.
func WithAdminClock(clock func() time.Time) AdminOption {
	return func(h *AdminHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewAdminHandlers constructs the console handlers. Every route except login runs behind guard.
func NewAdminHandlers(sessions services.AdminAuthService, orders services.AdminOrderService, guard *auth.AdminGuard, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{
		sessions:     sessions,
		orders:       orders,
		guard:        guard,
		secureCookie: true,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sessions", h.createSession)

	r.Group(func(protected chi.Router) {
		if h.guard != nil {
			protected.Use(h.guard.RequireAdmin())
		} else {
			protected.Use(denyAll)
		}
		protected.Get("/sessions/current", h.currentSession)
		protected.Delete("/sessions/current", h.deleteSession)
		protected.Get("/orders", h.listOrders)
		protected.Get("/orders/{orderID}", h.getOrder)
		protected.Patch("/orders/{orderID}", h.updateOrder)
	})
}

type createSessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IDToken  string `json:"id_token"`
}

type sessionPayload struct {
	Token     string   `json:"token,omitempty"`
	AdminID   string   `json:"admin_id"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	IssuedAt  string   `json:"issued_at"`
	ExpiresAt string   `json:"expires_at"`
}

type updateAdminOrderRequest struct {
	Status            *string `json:"status"`
	PaymentStatus     *string `json:"payment_status"`
	TrackingNumber    *string `json:"tracking_number"`
	ExpectedUpdatedAt *string `json:"expected_updated_at"`
}

type adminOrderListResponse struct {
	Items         []orderPayload `json:"items"`
	Total         int            `json:"total"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type adminOrderResponse struct {
	Order    orderPayload `json:"order"`
	ImageURL string       `json:"image_url,omitempty"`
}

func (h *AdminHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeAuthUnavailable, "admin authentication unavailable"))
		return
	}
	var req createSessionRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, &req) {
		return
	}

	var (
		session domain.AdminSession
		err     error
	)
	switch {
	case strings.TrimSpace(req.IDToken) != "":
		session, err = h.sessions.LoginWithFirebase(ctx, req.IDToken)
	case strings.TrimSpace(req.Email) != "" && req.Password != "":
		session, err = h.sessions.Login(ctx, req.Email, req.Password)
	default:
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "email and password or id_token are required"))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.AdminSessionCookie,
		Value:    session.Token,
		Path:     "/api/v1/admin",
		Expires:  session.ExpiresAt.UTC(),
		MaxAge:   max(int(session.ExpiresAt.Sub(h.clock()).Seconds()), 1),
		Secure:   h.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"session": buildSessionPayload(session, true)})
}

func (h *AdminHandlers) currentSession(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.AdminSessionFromContext(r.Context())
	if !ok {
		httpx.Write(r.Context(), w, httpx.New(http.StatusUnauthorized, httpx.CodeUnauthenticated, "admin session required"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"session": buildSessionPayload(session, false)})
}

func (h *AdminHandlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeAuthUnavailable, "admin authentication unavailable"))
		return
	}
	if err := h.sessions.Logout(ctx, auth.SessionToken(r, auth.AdminSessionCookie)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AdminSessionCookie,
		Value:    "",
		Path:     "/api/v1/admin",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   h.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersReady(ctx, w) {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultAdminPageSize,
		MaxPageSize:     maxAdminPageSize,
	})
	if err != nil {
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error()))
		return
	}

	query := r.URL.Query()
	page, err := h.orders.List(ctx, services.AdminOrderQuery{
		Query:     strings.TrimSpace(query.Get("q")),
		Sort:      strings.TrimSpace(query.Get("sort")),
		Order:     strings.TrimSpace(query.Get("order")),
		Range:     strings.TrimSpace(query.Get("range")),
		Category:  strings.TrimSpace(query.Get("category")),
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	response := adminOrderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		Total:         page.Total,
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		response.Items = append(response.Items, buildOrderPayload(order, true))
	}
	httpx.WriteJSON(w, http.StatusOK, response)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersReady(ctx, w) {
		return
	}
	detail, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, adminOrderResponse{
		Order:    buildOrderPayload(detail.Order, true),
		ImageURL: detail.ImageURL,
	})
}

func (h *AdminHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersReady(ctx, w) {
		return
	}
	var req updateAdminOrderRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, &req) {
		return
	}

	cmd := services.AdminOrderUpdate{TrackingNumber: req.TrackingNumber}
	if req.Status != nil {
		status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(*req.PaymentStatus)))
		cmd.PaymentStatus = &status
	}
	if req.ExpectedUpdatedAt != nil {
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*req.ExpectedUpdatedAt))
		if err != nil {
			httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "expected_updated_at must be an RFC3339 timestamp"))
			return
		}
		cmd.ExpectedUpdatedAt = &ts
	}
	if session, ok := auth.AdminSessionFromContext(ctx); ok {
		cmd.ActorID = session.AdminID
	}

	order, err := h.orders.Update(ctx, chi.URLParam(r, "orderID"), cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, adminOrderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) ordersReady(ctx context.Context, w http.ResponseWriter) bool {
	if h.orders == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeAdminOrdersUnavailable, "admin order service unavailable"))
		return false
	}
	return true
}

func buildSessionPayload(session domain.AdminSession, includeToken bool) sessionPayload {
	payload := sessionPayload{
		AdminID:   session.AdminID,
		Email:     session.Email,
		Roles:     session.Roles,
		IssuedAt:  formatTime(session.IssuedAt),
		ExpiresAt: formatTime(session.ExpiresAt),
	}
	if payload.Roles == nil {
		payload.Roles = []string{}
	}
	if includeToken {
		payload.Token = session.Token
	}
	return payload
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.Write(r.Context(), w, httpx.New(http.StatusServiceUnavailable, httpx.CodeAuthUnavailable, "admin authentication unavailable"))
	})
}
