package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

const (
	nowPaymentsProviderName   = "nowpayments"
	defaultNowPaymentsBaseURL = "https://api.nowpayments.io"
	// DefaultCryptoPaymentWindow is how long a crypto payment may stay open.
	DefaultCryptoPaymentWindow = 2 * time.Hour
	// CryptoSignatureHeader carries the IPN HMAC.
	CryptoSignatureHeader = "x-nowpayments-sig"
)

// CryptoConfig configures the NOWPayments-backed crypto adapter.
type CryptoConfig struct {
	APIKey        string
	BaseURL       string
	IPNSecret     string
	PayCurrency   string
	CallbackURL   string
	PaymentWindow time.Duration
	HTTPClient    *http.Client
	Clock         func() time.Time
	Logger        Logger
}

// CryptoAdapter opens crypto payments and maps provider statuses onto outcomes.
type CryptoAdapter struct {
	apiKey      string
	baseURL     string
	ipnSecret   string
	payCurrency string
	callbackURL string
	window      time.Duration
	client      *http.Client
	clock       func() time.Time
	logger      Logger
}

// NewCryptoAdapter returns ErrProviderUnavailable when the API key is missing.
func NewCryptoAdapter(cfg CryptoConfig) (*CryptoAdapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: crypto api key is not configured", ErrProviderUnavailable)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultNowPaymentsBaseURL
	}
	payCurrency := strings.ToLower(strings.TrimSpace(cfg.PayCurrency))
	if payCurrency == "" {
		payCurrency = "btc"
	}
	window := cfg.PaymentWindow
	if window <= 0 {
		window = DefaultCryptoPaymentWindow
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CryptoAdapter{
		apiKey:      apiKey,
		baseURL:     base,
		ipnSecret:   strings.TrimSpace(cfg.IPNSecret),
		payCurrency: payCurrency,
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		window:      window,
		client:      client,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// Method implements Adapter.
func (a *CryptoAdapter) Method() domain.PaymentMethod {
	return domain.PaymentMethodCrypto
}

// PaymentWindow is the lifetime given to new crypto payments.
func (a *CryptoAdapter) PaymentWindow() time.Duration {
	return a.window
}

// flexString accepts JSON strings and numbers; the provider is inconsistent about ids and amounts.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type nowPaymentsCreateRequest struct {
	PriceAmount      string `json:"price_amount"`
	PriceCurrency    string `json:"price_currency"`
	PayCurrency      string `json:"pay_currency"`
	OrderID          string `json:"order_id"`
	OrderDescription string `json:"order_description,omitempty"`
	IPNCallbackURL   string `json:"ipn_callback_url,omitempty"`
}

type nowPaymentsPayment struct {
	PaymentID     flexString `json:"payment_id"`
	PaymentStatus string     `json:"payment_status"`
	PayAddress    string     `json:"pay_address"`
	PayAmount     flexString `json:"pay_amount"`
	PayCurrency   string     `json:"pay_currency"`
	OrderID       string     `json:"order_id"`
}

type nowPaymentsEstimate struct {
	CurrencyFrom    string     `json:"currency_from"`
	AmountFrom      flexString `json:"amount_from"`
	CurrencyTo      string     `json:"currency_to"`
	EstimatedAmount flexString `json:"estimated_amount"`
}

// Estimate returns an informational conversion preview. It never creates a payment.
func (a *CryptoAdapter) Estimate(ctx context.Context, req EstimateRequest) (Estimate, error) {
	amount := strings.TrimSpace(req.Amount)
	from := strings.ToLower(strings.TrimSpace(req.FromCurrency))
	to := strings.ToLower(strings.TrimSpace(req.ToCurrency))
	if to == "" {
		to = a.payCurrency
	}
	if amount == "" || from == "" {
		return Estimate{}, errors.New("nowpayments: amount and source currency are required")
	}
	query := url.Values{}
	query.Set("amount", amount)
	query.Set("currency_from", from)
	query.Set("currency_to", to)

	var est nowPaymentsEstimate
	if err := a.do(ctx, http.MethodGet, "/v1/estimate?"+query.Encode(), nil, &est); err != nil {
		return Estimate{}, err
	}
	return Estimate{
		FromCurrency:    strings.ToUpper(firstNonEmpty(est.CurrencyFrom, from)),
		FromAmount:      firstNonEmpty(string(est.AmountFrom), amount),
		ToCurrency:      strings.ToUpper(firstNonEmpty(est.CurrencyTo, to)),
		EstimatedAmount: string(est.EstimatedAmount),
	}, nil
}

// Initiate creates a provider payment and returns pay-to instructions valid for the payment window.
func (a *CryptoAdapter) Initiate(ctx context.Context, req InitiateRequest) (Handle, error) {
	if strings.TrimSpace(req.OrderID) == "" || req.Amount <= 0 {
		return Handle{}, errors.New("nowpayments: order id and positive amount are required")
	}
	scale, err := CurrencyScale(req.Currency)
	if err != nil {
		return Handle{}, err
	}
	body := nowPaymentsCreateRequest{
		PriceAmount:      domain.FormatMinor(req.Amount, scale),
		PriceCurrency:    strings.ToLower(req.Currency),
		PayCurrency:      a.payCurrency,
		OrderID:          req.OrderID,
		OrderDescription: req.Description,
		IPNCallbackURL:   a.callbackURL,
	}

	var payment nowPaymentsPayment
	if err := a.do(ctx, http.MethodPost, "/v1/payment", body, &payment); err != nil {
		return Handle{}, err
	}

	crypto := &domain.CryptoPayment{
		PaymentID:      string(payment.PaymentID),
		PayCurrency:    strings.ToUpper(firstNonEmpty(payment.PayCurrency, a.payCurrency)),
		PayAmount:      string(payment.PayAmount),
		PayAddress:     payment.PayAddress,
		ExpiresAt:      a.clock().Add(a.window),
		ProviderStatus: payment.PaymentStatus,
	}
	if !crypto.Complete() {
		return Handle{}, fmt.Errorf("%w: nowpayments returned incomplete payment instructions", ErrProviderRequest)
	}

	a.logger(ctx, "payments.crypto.payment.created", map[string]any{
		"orderId":   req.OrderID,
		"paymentId": crypto.PaymentID,
		"expiresAt": crypto.ExpiresAt,
	})

	return Handle{
		Method:    domain.PaymentMethodCrypto,
		Provider:  nowPaymentsProviderName,
		Reference: crypto.PaymentID,
		Crypto:    crypto,
	}, nil
}

// ResolveOutcome fetches the payment status from the provider.
func (a *CryptoAdapter) ResolveOutcome(ctx context.Context, reference string) (Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Outcome{}, ErrInvalidReference
	}
	var payment nowPaymentsPayment
	if err := a.do(ctx, http.MethodGet, "/v1/payment/"+url.PathEscape(reference), nil, &payment); err != nil {
		return Outcome{}, err
	}
	state, known := CryptoOutcomeState(payment.PaymentStatus)
	if !known {
		a.logger(ctx, "payments.crypto.status.unknown", map[string]any{
			"paymentId": reference,
			"status":    payment.PaymentStatus,
		})
	}
	return Outcome{
		Reference: firstNonEmpty(string(payment.PaymentID), reference),
		State:     state,
		RawStatus: payment.PaymentStatus,
		OrderID:   payment.OrderID,
	}, nil
}

// VerifyNotification checks the HMAC-SHA512 signature over the key-sorted JSON body.
func (a *CryptoAdapter) VerifyNotification(body []byte, signature string) (CryptoNotification, error) {
	if a.ipnSecret == "" {
		return CryptoNotification{}, fmt.Errorf("%w: crypto ipn secret is not configured", ErrProviderUnavailable)
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return CryptoNotification{}, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	canonical, err := canonicalJSON(body)
	if err != nil {
		return CryptoNotification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	expected := SignCryptoNotification(a.ipnSecret, canonical)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return CryptoNotification{}, ErrInvalidSignature
	}

	var payment nowPaymentsPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return CryptoNotification{}, fmt.Errorf("nowpayments: decode notification: %w", err)
	}
	state, _ := CryptoOutcomeState(payment.PaymentStatus)
	return CryptoNotification{
		PaymentID: string(payment.PaymentID),
		OrderID:   payment.OrderID,
		Outcome: Outcome{
			Reference: string(payment.PaymentID),
			State:     state,
			RawStatus: payment.PaymentStatus,
			OrderID:   payment.OrderID,
		},
		ReceivedAt: a.clock(),
	}, nil
}

// SignCryptoNotification computes the hex HMAC-SHA512 of a canonical notification body.
func SignCryptoNotification(secret string, canonical []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalJSON re-encodes a JSON document with object keys sorted at every level.
func canonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CryptoOutcomeState maps a provider status. Unknown statuses map to pending and report false.
func CryptoOutcomeState(status string) (OutcomeState, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "waiting":
		return OutcomePending, true
	case "confirming", "confirmed", "sending", "partially_paid":
		return OutcomeProcessing, true
	case "finished":
		return OutcomeSucceeded, true
	case "failed", "refunded":
		return OutcomeFailed, true
	case "expired":
		return OutcomeExpired, true
	default:
		return OutcomePending, false
	}
}

func (a *CryptoAdapter) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("nowpayments: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("nowpayments: build request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: nowpayments %s: %v", ErrProviderRequest, method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return fmt.Errorf("%w: nowpayments read response: %v", ErrProviderRequest, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: nowpayments %s", ErrInvalidReference, path)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: nowpayments status %d", ErrProviderRequest, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("nowpayments: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("nowpayments: decode response: %w", err)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
