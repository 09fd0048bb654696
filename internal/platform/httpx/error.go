// Package httpx renders the orders API error envelope and JSON responses.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/orders-api/internal/platform/requestctx"
)

// Code is the machine readable error identifier clients switch on.
type Code string

const (
	CodeInvalidRequest   Code = "invalid_request"
	CodePayloadTooLarge  Code = "payload_too_large"
	CodeRouteNotFound    Code = "route_not_found"
	CodeMethodNotAllowed Code = "method_not_allowed"
	CodeNotImplemented   Code = "not_implemented"
	CodeRateLimited      Code = "rate_limited"
	CodeInternal         Code = "internal_error"
	CodeUnavailable      Code = "service_unavailable"

	CodeUnauthenticated         Code = "unauthenticated"
	CodeUnauthorized            Code = "unauthorized"
	CodeInvalidToken            Code = "invalid_token"
	CodeAuthUnavailable         Code = "auth_unavailable"
	CodeVerificationUnavailable Code = "verification_unavailable"

	CodeCartUnavailable      Code = "cart_unavailable"
	CodeCartCookie           Code = "cart_cookie_error"
	CodeCartItemNotFound     Code = "cart_item_not_found"
	CodeEmptyCart            Code = "empty_cart"
	CodePromoRejected        Code = "promo_rejected"
	CodePromotionUnavailable Code = "promotion_service_unavailable"

	CodeCheckoutUnavailable    Code = "checkout_unavailable"
	CodeOrderNotFound          Code = "order_not_found"
	CodeOrderConflict          Code = "order_conflict"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeAdminOrdersUnavailable Code = "admin_orders_unavailable"

	CodePaymentNotPending        Code = "payment_not_pending"
	CodePaymentMethodMismatch    Code = "payment_method_mismatch"
	CodePaymentNotInitiated      Code = "payment_not_initiated"
	CodePaymentNotApproved       Code = "payment_not_approved"
	CodeNoPaymentMethod          Code = "no_payment_method_available"
	CodePaymentMethodUnavailable Code = "payment_method_unavailable"
	CodePaymentProvider          Code = "payment_provider_error"
	CodeInvalidSignature         Code = "invalid_signature"

	CodeReconciliationUnavailable Code = "reconciliation_unavailable"
	CodeCryptoStatusTimeout       Code = "crypto_status_timeout"

	CodeIdempotencyKeyRequired Code = "idempotency_key_required"
	CodeIdempotencyKeyConflict Code = "idempotency_key_conflict"
	CodeIdempotencyInProgress  Code = "idempotency_in_progress"
	CodeIdempotencyStore       Code = "idempotency_store_error"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
)

// Error is a client-facing failure. It satisfies error so helpers can return it and let the
// handler decide where to write it.
type Error struct {
	Code       Code
	Message    string
	Status     int
	Details    map[string]any
	RetryAfter time.Duration
}

// New builds an Error; a zero status becomes 500.
func New(status int, code Code, message string) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    Code(clean(string(code), maxCodeLength)),
		Message: clean(message, maxMessageLength),
		Status:  status,
	}
}

// Newf is New with a formatted message.
func Newf(status int, code Code, format string, args ...any) Error {
	return New(status, code, fmt.Sprintf(format, args...))
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// With attaches one detail field to the envelope. Details never override the reserved keys.
func (e Error) With(key string, value any) Error {
	key = strings.TrimSpace(key)
	if key == "" {
		return e
	}
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}

// WithRetryAfter advertises when the client may try again; it is rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

var reservedKeys = map[string]struct{}{
	"error":      {},
	"message":    {},
	"status":     {},
	"request_id": {},
	"trace_id":   {},
}

// Write renders err as the JSON envelope, stamped with the request and trace identifiers.
func Write(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   string(err.Code),
		"message": err.Message,
		"status":  status,
	}
	if id := clean(middleware.GetReqID(ctx), maxIDLength); id != "" {
		payload["request_id"] = id
	}
	if id := clean(requestctx.TraceID(ctx), maxIDLength); id != "" {
		payload["trace_id"] = id
	}
	for k, v := range err.Details {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		payload[k] = v
	}

	w.Header().Set("Cache-Control", "no-store")
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(err.RetryAfter.Seconds()))))
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
