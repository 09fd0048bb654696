package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/services"
)

// InternalHandlers serves scheduler-triggered maintenance endpoints. Callers are authenticated by
// the OIDC middleware mounted on the /internal group.
type InternalHandlers struct {
	reconcile    services.ReconciliationService
	defaultLimit int
}

// NewInternalHandlers constructs the maintenance handlers.
func NewInternalHandlers(reconcile services.ReconciliationService, defaultLimit int) *InternalHandlers {
	return &InternalHandlers{reconcile: reconcile, defaultLimit: defaultLimit}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/crypto:sweep", h.sweepCrypto)
}

func (h *InternalHandlers) sweepCrypto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeReconciliationUnavailable, "crypto reconciliation unavailable"))
		return
	}

	limit := h.defaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	summary, err := h.reconcile.SweepPending(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{
		"scanned":      summary.Scanned,
		"transitioned": summary.Transitioned,
		"failed":       summary.Failed,
	})
}
