package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a bounded body into dst and writes the 400/413 response itself on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	data, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.Write(ctx, w, httpx.New(http.StatusRequestEntityTooLarge, httpx.CodePayloadTooLarge, "request body too large"))
		return false
	case errors.Is(err, errEmptyBody):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "request body is required"))
		return false
	case err != nil:
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "unable to read request body"))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "invalid JSON payload"))
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// writeServiceError maps service and provider failures onto the API error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validation *services.ValidationError
	var rejected *services.PromoRejectedError
	switch {
	case errors.As(err, &validation):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "request validation failed").
			With("fields", validation.Fields))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeEmptyCart, "cart is empty"))
	case errors.As(err, &rejected):
		httpx.Write(ctx, w, httpx.New(http.StatusUnprocessableEntity, httpx.CodePromoRejected, "promo code cannot be applied").
			With("code", rejected.Code).With("reason", string(rejected.Reason)))
	case errors.Is(err, services.ErrPromotionInvalidCode), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error()))
	case errors.Is(err, services.ErrUnauthorized):
		httpx.Write(ctx, w, httpx.New(http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required"))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.Write(ctx, w, httpx.New(http.StatusNotFound, httpx.CodeOrderNotFound, "order not found"))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodeOrderConflict, "order was modified concurrently"))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodeInvalidTransition, err.Error()))
	case errors.Is(err, services.ErrPaymentNotPending):
		httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodePaymentNotPending, "payment is no longer pending"))
	case errors.Is(err, services.ErrPaymentMethodMismatch):
		httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodePaymentMethodMismatch, "order uses a different payment method"))
	case errors.Is(err, services.ErrPaymentNotInitiated):
		httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodePaymentNotInitiated, "payment has not been initiated"))
	case errors.Is(err, payments.ErrPaymentNotApproved):
		httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodePaymentNotApproved, "payment has not been approved by the payer"))
	case errors.Is(err, payments.ErrInvalidSignature):
		httpx.Write(ctx, w, httpx.New(http.StatusUnauthorized, httpx.CodeInvalidSignature, "signature verification failed"))
	case errors.Is(err, payments.ErrInvalidReference):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error()))
	case errors.Is(err, payments.ErrNoPaymentMethodAvailable):
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeNoPaymentMethod, "no payment method is configured"))
	case errors.Is(err, payments.ErrProviderUnavailable):
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodePaymentMethodUnavailable, "payment method is unavailable"))
	case errors.Is(err, payments.ErrProviderRequest):
		httpx.Write(ctx, w, httpx.New(http.StatusBadGateway, httpx.CodePaymentProvider, "payment provider request failed"))
	case errors.Is(err, services.ErrAdminAuthUnavailable),
		errors.Is(err, services.ErrOrderRepositoryUnavailable),
		errors.Is(err, services.ErrPromotionUnavailable),
		errors.Is(err, services.ErrCatalogUnavailable):
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeUnavailable, "service temporarily unavailable"))
	default:
		httpx.Write(ctx, w, httpx.New(http.StatusInternalServerError, httpx.CodeInternal, "failed to process request"))
	}
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	Status           string                `json:"status"`
	PaymentStatus    string                `json:"payment_status"`
	PaymentMethod    string                `json:"payment_method"`
	Currency         string                `json:"currency"`
	Subtotal         int64                 `json:"subtotal"`
	DiscountAmount   int64                 `json:"discount_amount"`
	PromoCode        string                `json:"promo_code,omitempty"`
	TotalAmount      int64                 `json:"total_amount"`
	ProductID        string                `json:"product_id"`
	ProductTitle     string                `json:"product_title"`
	ProductCategory  string                `json:"product_category,omitempty"`
	SellerID         string                `json:"seller_id"`
	SellerName       string                `json:"seller_name,omitempty"`
	Items            []orderItemPayload    `json:"items"`
	CustomerName     string                `json:"customer_name,omitempty"`
	CustomerEmail    string                `json:"customer_email"`
	ShippingAddress  string                `json:"shipping_address"`
	TrackingNumber   string                `json:"tracking_number,omitempty"`
	CommissionRate   *float64              `json:"commission_rate,omitempty"`
	CommissionAmount *int64                `json:"commission_amount,omitempty"`
	Crypto           *cryptoPaymentPayload `json:"crypto,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Size      string `json:"size,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type cryptoPaymentPayload struct {
	PaymentID      string `json:"payment_id"`
	PayCurrency    string `json:"pay_currency"`
	PayAmount      string `json:"pay_amount"`
	PayAddress     string `json:"pay_address"`
	ExpiresAt      string `json:"expires_at"`
	ProviderStatus string `json:"provider_status,omitempty"`
}

// buildOrderPayload renders an order. Commission figures are internal and only shown to operators.
func buildOrderPayload(order domain.Order, includeCommission bool) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   string(order.PaymentMethod),
		Currency:        order.Currency,
		Subtotal:        order.Subtotal,
		DiscountAmount:  order.DiscountAmount,
		PromoCode:       order.PromoCode,
		TotalAmount:     order.TotalAmount,
		ProductID:       order.ProductID,
		ProductTitle:    order.ProductTitle,
		ProductCategory: order.ProductCategory,
		SellerID:        order.SellerID,
		SellerName:      order.SellerName,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		ShippingAddress: order.ShippingAddress,
		TrackingNumber:  order.TrackingNumber,
		Crypto:          buildCryptoPayload(order.Crypto),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	if includeCommission {
		rate := order.CommissionRate
		amount := order.CommissionAmount
		payload.CommissionRate = &rate
		payload.CommissionAmount = &amount
	}
	return payload
}

func buildCryptoPayload(crypto *domain.CryptoPayment) *cryptoPaymentPayload {
	if crypto == nil {
		return nil
	}
	return &cryptoPaymentPayload{
		PaymentID:      crypto.PaymentID,
		PayCurrency:    crypto.PayCurrency,
		PayAmount:      crypto.PayAmount,
		PayAddress:     crypto.PayAddress,
		ExpiresAt:      formatTime(crypto.ExpiresAt),
		ProviderStatus: crypto.ProviderStatus,
	}
}

type paymentHandlePayload struct {
	Method             string                `json:"method"`
	Provider           string                `json:"provider"`
	Reference          string                `json:"reference"`
	ClientSecret       string                `json:"client_secret,omitempty"`
	ApprovalURL        string                `json:"approval_url,omitempty"`
	SettlementAmount   int64                 `json:"settlement_amount,omitempty"`
	SettlementCurrency string                `json:"settlement_currency,omitempty"`
	Crypto             *cryptoPaymentPayload `json:"crypto,omitempty"`
}

func buildHandlePayload(handle *payments.Handle) *paymentHandlePayload {
	if handle == nil {
		return nil
	}
	return &paymentHandlePayload{
		Method:             string(handle.Method),
		Provider:           handle.Provider,
		Reference:          handle.Reference,
		ClientSecret:       handle.ClientSecret,
		ApprovalURL:        handle.ApprovalURL,
		SettlementAmount:   handle.SettlementAmount,
		SettlementCurrency: handle.SettlementCurrency,
		Crypto:             buildCryptoPayload(handle.Crypto),
	}
}
