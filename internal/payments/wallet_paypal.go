package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	domain "github.com/storefront/orders-api/internal/domain"
)

const (
	paypalProviderName   = "paypal"
	defaultPayPalBaseURL = "https://api-m.sandbox.paypal.com"
	maxProviderBody      = 1 << 20

	paypalInstrumentDeclined = "INSTRUMENT_DECLINED"
)

var errInstrumentDeclined = errors.New("paypal: instrument declined")

// WalletConfig configures the PayPal-backed wallet adapter.
type WalletConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	// Currency is the settlement currency the wallet charges in.
	Currency string
	// Rate converts one unit of the store currency into the settlement currency, e.g. "0.087".
	Rate       string
	ReturnURL  string
	CancelURL  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     Logger
}

// WalletAdapter creates PayPal orders in the settlement currency and captures them after approval.
type WalletAdapter struct {
	baseURL    string
	client     *http.Client
	currency   string
	rate       FixedRate
	scale      int
	returnURL  string
	cancelURL  string
	logger     Logger
	storeScale func(code string) (int, error)
}

// NewWalletAdapter returns ErrProviderUnavailable when credentials are missing.
func NewWalletAdapter(ctx context.Context, cfg WalletConfig) (*WalletAdapter, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, fmt.Errorf("%w: paypal client credentials are not configured", ErrProviderUnavailable)
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultPayPalBaseURL
	}
	settlement := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if settlement == "" {
		settlement = "EUR"
	}
	scale, err := CurrencyScale(settlement)
	if err != nil {
		return nil, err
	}
	rate, err := ParseFixedRate(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("paypal: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	oauthCfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := oauthCfg.Client(ctx)
	client.Timeout = timeout

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &WalletAdapter{
		baseURL:    base,
		client:     client,
		currency:   settlement,
		rate:       rate,
		scale:      scale,
		returnURL:  strings.TrimSpace(cfg.ReturnURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		logger:     logger,
		storeScale: CurrencyScale,
	}, nil
}

// Method implements Adapter.
func (a *WalletAdapter) Method() domain.PaymentMethod {
	return domain.PaymentMethodWallet
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string          `json:"reference_id,omitempty"`
	CustomID    string          `json:"custom_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      paypalAmount    `json:"amount"`
	Payments    *paypalPayments `json:"payments,omitempty"`
}

type paypalPayments struct {
	Captures []paypalCapture `json:"captures"`
}

type paypalCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalApplicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

type paypalCreateOrderRequest struct {
	Intent             string                    `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit      `json:"purchase_units"`
	ApplicationContext *paypalApplicationContext `json:"application_context,omitempty"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Links         []paypalLink         `json:"links"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e paypalErrorResponse) hasIssue(issue string) bool {
	for _, detail := range e.Details {
		if detail.Issue == issue {
			return true
		}
	}
	return false
}

// Initiate converts the order total into the settlement currency and creates a PayPal order.
func (a *WalletAdapter) Initiate(ctx context.Context, req InitiateRequest) (Handle, error) {
	if strings.TrimSpace(req.OrderID) == "" || req.Amount <= 0 {
		return Handle{}, errors.New("paypal: order id and positive amount are required")
	}
	fromScale, err := a.storeScale(req.Currency)
	if err != nil {
		return Handle{}, err
	}
	settlement := a.rate.Convert(req.Amount, fromScale, a.scale)
	if settlement <= 0 {
		return Handle{}, fmt.Errorf("paypal: converted amount for %d %s is zero", req.Amount, req.Currency)
	}

	body := paypalCreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			Description: truncate(req.Description, 127),
			Amount: paypalAmount{
				CurrencyCode: a.currency,
				Value:        domain.FormatMinor(settlement, a.scale),
			},
		}},
	}
	if a.returnURL != "" || a.cancelURL != "" {
		body.ApplicationContext = &paypalApplicationContext{
			ReturnURL:  a.returnURL,
			CancelURL:  a.cancelURL,
			UserAction: "PAY_NOW",
		}
	}

	var order paypalOrder
	if _, err := a.do(ctx, http.MethodPost, "/v2/checkout/orders", req.IdempotencyKey, body, &order); err != nil {
		return Handle{}, err
	}

	approval := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approval = link.Href
			break
		}
	}

	a.logger(ctx, "payments.wallet.order.created", map[string]any{
		"orderId":          req.OrderID,
		"paypalOrderId":    order.ID,
		"settlementAmount": settlement,
		"currency":         a.currency,
		"rate":             a.rate.String(),
	})

	return Handle{
		Method:             domain.PaymentMethodWallet,
		Provider:           paypalProviderName,
		Reference:          order.ID,
		ApprovalURL:        approval,
		SettlementAmount:   settlement,
		SettlementCurrency: a.currency,
	}, nil
}

// Capture finalises an approved PayPal order.
func (a *WalletAdapter) Capture(ctx context.Context, reference string) (Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Outcome{}, ErrInvalidReference
	}
	var order paypalOrder
	path := "/v2/checkout/orders/" + reference + "/capture"
	if _, err := a.do(ctx, http.MethodPost, path, "capture-"+reference, struct{}{}, &order); err != nil {
		if errors.Is(err, errInstrumentDeclined) {
			a.logger(ctx, "payments.wallet.capture.declined", map[string]any{"paypalOrderId": reference})
			return Outcome{Reference: reference, State: OutcomeFailed, RawStatus: paypalInstrumentDeclined}, nil
		}
		return Outcome{}, err
	}
	return paypalOutcome(order), nil
}

// ResolveOutcome reads the PayPal order status.
func (a *WalletAdapter) ResolveOutcome(ctx context.Context, reference string) (Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Outcome{}, ErrInvalidReference
	}
	var order paypalOrder
	if _, err := a.do(ctx, http.MethodGet, "/v2/checkout/orders/"+reference, "", nil, &order); err != nil {
		return Outcome{}, err
	}
	return paypalOutcome(order), nil
}

func paypalOutcome(order paypalOrder) Outcome {
	state := OutcomePending
	raw := order.Status
	switch strings.ToUpper(order.Status) {
	case "COMPLETED":
		var capture string
		state, capture = captureState(order)
		if capture != "" {
			raw = order.Status + "/" + capture
		}
	case "APPROVED":
		state = OutcomeProcessing
	case "VOIDED", "DECLINED":
		state = OutcomeFailed
	}
	orderID := ""
	if len(order.PurchaseUnits) > 0 {
		orderID = order.PurchaseUnits[0].CustomID
		if orderID == "" {
			orderID = order.PurchaseUnits[0].ReferenceID
		}
	}
	return Outcome{
		Reference: order.ID,
		State:     state,
		RawStatus: raw,
		OrderID:   orderID,
	}
}

// captureState maps the first capture with a known status. A completed order only counts as paid
// when its capture completed; without capture details it is still settling.
func captureState(order paypalOrder) (OutcomeState, string) {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			switch status := strings.ToUpper(capture.Status); status {
			case "COMPLETED":
				return OutcomeSucceeded, status
			case "DECLINED", "FAILED":
				return OutcomeFailed, status
			case "PENDING":
				return OutcomeProcessing, status
			}
		}
	}
	return OutcomeProcessing, ""
}

func (a *WalletAdapter) do(ctx context.Context, method, path, requestID string, payload any, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("paypal: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: paypal %s %s: %v", ErrProviderRequest, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: paypal read response: %v", ErrProviderRequest, err)
	}

	if resp.StatusCode >= 300 {
		var perr paypalErrorResponse
		_ = json.Unmarshal(data, &perr)
		switch {
		case perr.hasIssue("ORDER_NOT_APPROVED") || perr.hasIssue("PAYER_ACTION_REQUIRED"):
			return resp.StatusCode, ErrPaymentNotApproved
		case perr.hasIssue(paypalInstrumentDeclined):
			return resp.StatusCode, errInstrumentDeclined
		case resp.StatusCode == http.StatusNotFound || perr.Name == "RESOURCE_NOT_FOUND":
			return resp.StatusCode, fmt.Errorf("%w: paypal %s", ErrInvalidReference, path)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return resp.StatusCode, fmt.Errorf("%w: paypal status %d", ErrProviderRequest, resp.StatusCode)
		default:
			return resp.StatusCode, fmt.Errorf("paypal: %s %s: status %d %s", method, path, resp.StatusCode, strings.TrimSpace(perr.Name+" "+perr.Message))
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("paypal: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
