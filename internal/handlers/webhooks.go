package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/platform/observability"
	"github.com/storefront/orders-api/internal/services"
)

const (
	maxWebhookBodySize     = 64 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	cryptoSignatureHeader  = "x-nowpayments-sig"
	defaultWebhookRate     = 120
	defaultWebhookInterval = time.Minute
)

// WebhookHandlers receives provider callbacks. Each body is verified by the owning adapter before
// anything is applied.
type WebhookHandlers struct {
	checkout  services.CheckoutService
	reconcile services.ReconciliationService
	limiter   rateLimiter
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*webhookConfig)

type webhookConfig struct {
	limit  int
	window time.Duration
	clock  func() time.Time
}

// WithWebhookRateLimit caps callbacks per source address within the window. A zero limit disables it.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(cfg *webhookConfig) {
		cfg.limit = limit
		cfg.window = window
	}
}

// WithWebhookClock overrides the rate limiter time source.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(cfg *webhookConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// NewWebhookHandlers constructs provider webhook handlers.
func NewWebhookHandlers(checkout services.CheckoutService, reconcile services.ReconciliationService, opts ...WebhookOption) *WebhookHandlers {
	cfg := webhookConfig{limit: defaultWebhookRate, window: defaultWebhookInterval, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &WebhookHandlers{
		checkout:  checkout,
		reconcile: reconcile,
		limiter:   newWindowLimiter(cfg.limit, cfg.window, cfg.clock),
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(h.rateLimit)
	r.Post("/payments/stripe", h.stripeEvent)
	r.Post("/payments/crypto", h.cryptoNotification)
}

func (h *WebhookHandlers) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if ok, wait := h.limiter.Allow(clientAddress(r)); !ok {
			httpx.Write(r.Context(), w, httpx.New(http.StatusTooManyRequests, httpx.CodeRateLimited, "too many webhook deliveries").
				WithRetryAfter(max(wait, time.Second)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeCheckoutUnavailable, "checkout service unavailable"))
		return
	}
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	result, err := h.checkout.ApplyCardEvent(ctx, body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if acknowledgeUnknownOrder(ctx, err, "stripe") {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "applied": false})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	payload := map[string]any{
		"received": true,
		"event_id": result.EventID,
		"type":     result.Type,
		"applied":  result.Applied,
	}
	if result.Order != nil {
		payload["order_id"] = result.Order.ID
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *WebhookHandlers) cryptoNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeReconciliationUnavailable, "crypto reconciliation unavailable"))
		return
	}
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	result, err := h.reconcile.ApplyCryptoNotification(ctx, body, r.Header.Get(cryptoSignatureHeader))
	if err != nil {
		if acknowledgeUnknownOrder(ctx, err, "crypto") {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "applied": false})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received":        true,
		"order_id":        result.Order.ID,
		"payment_status":  string(result.Order.PaymentStatus),
		"provider_status": result.ProviderStatus,
		"applied":         result.Transitioned,
	})
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxWebhookBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.Write(ctx, w, httpx.New(http.StatusRequestEntityTooLarge, httpx.CodePayloadTooLarge, "webhook body too large"))
		return nil, false
	case err != nil:
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "webhook body is required"))
		return nil, false
	}
	return body, true
}

// acknowledgeUnknownOrder answers 200 for verified callbacks about orders this deployment does not
// hold, so the provider stops redelivering them.
func acknowledgeUnknownOrder(ctx context.Context, err error, provider string) bool {
	if !errors.Is(err, services.ErrOrderNotFound) {
		return false
	}
	observability.FromContext(ctx).Warn("webhook for unknown order",
		zap.String("provider", provider),
		zap.Error(err),
	)
	return true
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
