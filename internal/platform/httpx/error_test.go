package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/orders-api/internal/platform/requestctx"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteStampsRequestAndTrace(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.Trace{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	Write(ctx, rec, New(http.StatusNotFound, CodeOrderNotFound, "order not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := decode(t, rec)
	assert.Equal(t, "order_not_found", body["error"])
	assert.Equal(t, "order not found", body["message"])
	assert.EqualValues(t, http.StatusNotFound, body["status"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "trace-1", body["trace_id"])
}

func TestWriteDetailsCannotOverrideEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := New(http.StatusUnprocessableEntity, CodePromoRejected, "promo code cannot be applied").
		With("reason", "expired").
		With("error", "spoofed").
		With("  ", "ignored")

	Write(context.Background(), rec, err)

	body := decode(t, rec)
	assert.Equal(t, "promo_rejected", body["error"])
	assert.Equal(t, "expired", body["reason"])
	assert.NotContains(t, body, "request_id")
	assert.Len(t, err.Details, 2)
}

func TestWithDoesNotShareDetails(t *testing.T) {
	base := New(http.StatusBadRequest, CodeInvalidRequest, "bad").With("field", "a")
	derived := base.With("field", "b")
	assert.Equal(t, "a", base.Details["field"])
	assert.Equal(t, "b", derived.Details["field"])
}

func TestWriteRetryAfterRoundsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(context.Background(), rec, New(http.StatusTooManyRequests, CodeRateLimited, "slow down").
		WithRetryAfter(1500*time.Millisecond))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestNewCleansInput(t *testing.T) {
	err := New(0, Code("bad\ncode"), "line one\r\nline two"+strings.Repeat("x", 600))
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, Code("bad code"), err.Code)
	assert.NotContains(t, err.Message, "\n")
	assert.Len(t, err.Message, maxMessageLength)
	assert.Contains(t, err.Error(), "500 bad code")
}
