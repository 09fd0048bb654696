package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/orders-api/internal/cart"
	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/services"
)

const (
	maxCheckoutBodySize = 16 * 1024
	maxCryptoStatusWait = 60 * time.Second
)

// CheckoutHandlers serves the shopper checkout surface: promo lookup, order placement and the
// per-provider payment steps.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	reconcile   services.ReconciliationService
	promotions  services.PromotionService
	carts       cart.Backend
	cookies     *CartCookies
	idempotency func(http.Handler) http.Handler
	maxWait     time.Duration
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutReconciliation enables the crypto status endpoint.
func WithCheckoutReconciliation(svc services.ReconciliationService) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.reconcile = svc
	}
}

// WithCheckoutPromotions enables the promo lookup endpoint.
func WithCheckoutPromotions(svc services.PromotionService) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.promotions = svc
	}
}

// WithCheckoutCart sets where order placement reads the shopper's cart from.
func WithCheckoutCart(backend cart.Backend, cookies *CartCookies) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.carts = backend
		h.cookies = cookies
	}
}

// WithOrderIdempotency guards order placement with the given middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// WithCryptoStatusMaxWait caps the long-poll duration accepted by the crypto status endpoint.
func WithCryptoStatusMaxWait(d time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if d > 0 {
			h.maxWait = d
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout, maxWait: maxCryptoStatusWait}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoints relative to the API base path.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/payment-methods", h.listPaymentMethods)
	r.Get("/payments/crypto/estimate", h.estimateCrypto)
	r.Get("/promotions/{code}", h.resolvePromotion)

	r.Route("/orders", func(orders chi.Router) {
		place := http.Handler(http.HandlerFunc(h.placeOrder))
		if h.idempotency != nil {
			place = h.idempotency(place)
		}
		orders.Method(http.MethodPost, "/", place)
		orders.Get("/{orderID}", h.getOrder)
		orders.Post("/{orderID}/payments:initiate", h.initiatePayment)
		orders.Post("/{orderID}/payments/card:confirm", h.confirmCard)
		orders.Post("/{orderID}/payments/wallet:capture", h.captureWallet)
		orders.Get("/{orderID}/payments/crypto/status", h.cryptoStatus)
	})
}

type placeOrderRequest struct {
	CustomerName    string `json:"customer_name"`
	Email           string `json:"email"`
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	PromoCode       string `json:"promo_code"`
}

type placeOrderResponse struct {
	Order   orderPayload          `json:"order"`
	Payment *paymentHandlePayload `json:"payment"`
	Error   string                `json:"error,omitempty"`
	Message string                `json:"message,omitempty"`
	OrderID string                `json:"order_id,omitempty"`
}

type paymentResponse struct {
	Order   orderPayload          `json:"order"`
	Payment *paymentHandlePayload `json:"payment"`
}

type cryptoStatusResponse struct {
	Order          orderPayload `json:"order"`
	ProviderStatus string       `json:"provider_status,omitempty"`
	Transitioned   bool         `json:"transitioned"`
	Terminal       bool         `json:"terminal"`
}

func (h *CheckoutHandlers) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	if !h.ready(r.Context(), w) {
		return
	}
	methods := h.checkout.PaymentMethods()
	names := make([]string, 0, len(methods))
	for _, method := range methods {
		names = append(names, string(method))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"methods": names})
}

func (h *CheckoutHandlers) estimateCrypto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	query := r.URL.Query()
	req := payments.EstimateRequest{
		Amount:       strings.TrimSpace(query.Get("amount")),
		FromCurrency: strings.TrimSpace(query.Get("from")),
		ToCurrency:   strings.TrimSpace(query.Get("to")),
	}
	if req.Amount == "" || req.ToCurrency == "" {
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "amount and to are required"))
		return
	}
	estimate, err := h.checkout.EstimateCrypto(ctx, req)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"from_currency":    estimate.FromCurrency,
		"from_amount":      estimate.FromAmount,
		"to_currency":      estimate.ToCurrency,
		"estimated_amount": estimate.EstimatedAmount,
	})
}

func (h *CheckoutHandlers) resolvePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodePromotionUnavailable, "promotion service unavailable"))
		return
	}
	resolution, err := h.promotions.Resolve(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"code":            resolution.Code,
		"discount_amount": resolution.DiscountAmount,
	})
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if h.carts == nil || h.cookies == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeCartUnavailable, "cart service unavailable"))
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, &req) {
		return
	}

	cartID, ok := h.cookies.CartID(r)
	if !ok {
		writeServiceError(ctx, w, services.ErrEmptyCart)
		return
	}
	store, err := cart.Open(ctx, h.carts, cartID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		Items:           store.Items(),
		CustomerName:    req.CustomerName,
		Email:           req.Email,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		PromoCode:       req.PromoCode,
		ClearCart:       store.Clear,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	if result.InitiationErr != nil {
		// The order exists; answer 202 so the replay store keeps it and a retry never duplicates it.
		httpx.WriteJSON(w, http.StatusAccepted, placeOrderResponse{
			Order:   buildOrderPayload(result.Order, false),
			Error:   "payment_initiation_failed",
			Message: initiationFailureMessage(result.InitiationErr),
			OrderID: result.Order.ID,
		})
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	httpx.WriteJSON(w, http.StatusCreated, placeOrderResponse{
		Order:   buildOrderPayload(result.Order, false),
		Payment: buildHandlePayload(result.Handle),
	})
}

func (h *CheckoutHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	order, err := h.checkout.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, false)})
}

func (h *CheckoutHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	initiation, err := h.checkout.InitiatePayment(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentResponse{
		Order:   buildOrderPayload(initiation.Order, false),
		Payment: buildHandlePayload(&initiation.Handle),
	})
}

func (h *CheckoutHandlers) confirmCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	order, err := h.checkout.ConfirmCard(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, false)})
}

func (h *CheckoutHandlers) captureWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	order, err := h.checkout.CaptureWallet(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, false)})
}

func (h *CheckoutHandlers) cryptoStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeReconciliationUnavailable, "crypto reconciliation unavailable"))
		return
	}
	orderID := chi.URLParam(r, "orderID")

	var wait time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("wait")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "wait must be a positive duration such as 30s"))
			return
		}
		wait = min(parsed, h.maxWait)
	}

	var (
		result services.ReconcileResult
		err    error
	)
	if wait > 0 {
		result, err = h.reconcile.PollCrypto(ctx, orderID, services.PollOptions{Timeout: wait})
	} else {
		result, err = h.reconcile.ReconcileCrypto(ctx, orderID)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if result.Order.ID == "" {
		httpx.Write(ctx, w, httpx.New(http.StatusGatewayTimeout, httpx.CodeCryptoStatusTimeout, "payment status could not be read before the wait elapsed"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cryptoStatusResponse{
		Order:          buildOrderPayload(result.Order, false),
		ProviderStatus: result.ProviderStatus,
		Transitioned:   result.Transitioned,
		Terminal:       result.Terminal,
	})
}

func (h *CheckoutHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.checkout == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeCheckoutUnavailable, "checkout service unavailable"))
		return false
	}
	return true
}

func initiationFailureMessage(err error) string {
	switch {
	case errors.Is(err, payments.ErrProviderUnavailable):
		return "payment method is unavailable; retry initiation later"
	case errors.Is(err, payments.ErrProviderRequest):
		return "payment provider request failed; retry initiation"
	default:
		return "payment could not be initiated; retry initiation"
	}
}
