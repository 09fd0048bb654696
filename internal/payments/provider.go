package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

var (
	// ErrProviderUnavailable is returned when a payment method has no configured provider,
	// usually because its credentials are absent.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrNoPaymentMethodAvailable is returned when no payment provider is configured at all.
	ErrNoPaymentMethodAvailable = errors.New("payments: no payment method available")
	// ErrProviderRequest wraps transient provider failures (network, timeouts, 5xx).
	ErrProviderRequest = errors.New("payments: provider request failed")
	// ErrPaymentNotApproved is returned when a wallet order is captured before the payer approved it.
	ErrPaymentNotApproved = errors.New("payments: payment not approved by payer")
	// ErrInvalidReference is returned when a provider reference is empty or unknown.
	ErrInvalidReference = errors.New("payments: invalid provider reference")
	// ErrInvalidSignature is returned when a provider callback fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid callback signature")
)

// OutcomeState normalises provider payment states.
type OutcomeState string

const (
	// OutcomePending means the payer has not acted yet.
	OutcomePending OutcomeState = "pending"
	// OutcomeProcessing means funds are moving but not settled.
	OutcomeProcessing OutcomeState = "processing"
	// OutcomeSucceeded means the provider settled the payment.
	OutcomeSucceeded OutcomeState = "succeeded"
	// OutcomeFailed means the provider declined or cancelled the payment; the payer may retry.
	OutcomeFailed OutcomeState = "failed"
	// OutcomeExpired means the payment window closed without settlement.
	OutcomeExpired OutcomeState = "expired"
)

// Terminal reports whether the provider will not move the payment any further.
func (s OutcomeState) Terminal() bool {
	return s == OutcomeSucceeded || s == OutcomeFailed || s == OutcomeExpired
}

// PaymentStatus maps a terminal outcome onto the order payment axis.
func (s OutcomeState) PaymentStatus() (domain.PaymentStatus, bool) {
	switch s {
	case OutcomeSucceeded:
		return domain.PaymentStatusCompleted, true
	case OutcomeFailed:
		return domain.PaymentStatusFailed, true
	case OutcomeExpired:
		return domain.PaymentStatusExpired, true
	default:
		return "", false
	}
}

// InitiateRequest carries what an adapter needs to open a provider-side payment for an order.
type InitiateRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Email          string
	Description    string
	IdempotencyKey string
}

// NewInitiateRequest builds an InitiateRequest from a persisted order.
func NewInitiateRequest(order domain.Order) InitiateRequest {
	description := order.ProductTitle
	if len(order.Items) > 1 {
		description = fmt.Sprintf("%s and %d more", order.ProductTitle, len(order.Items)-1)
	}
	return InitiateRequest{
		OrderID:        order.ID,
		Amount:         order.TotalAmount,
		Currency:       strings.ToUpper(order.Currency),
		Email:          order.CustomerEmail,
		Description:    description,
		IdempotencyKey: "initiate-" + order.ID,
	}
}

// Handle is what the client needs to complete payment. Exactly one of ClientSecret,
// ApprovalURL, or Crypto is populated depending on the method.
type Handle struct {
	Method             domain.PaymentMethod
	Provider           string
	Reference          string
	ClientSecret       string
	ApprovalURL        string
	SettlementAmount   int64
	SettlementCurrency string
	Crypto             *domain.CryptoPayment
}

// Outcome is the provider's view of a payment.
type Outcome struct {
	Reference string
	State     OutcomeState
	RawStatus string
	OrderID   string
}

// Adapter is the capability shared by every payment provider.
type Adapter interface {
	Method() domain.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (Handle, error)
	ResolveOutcome(ctx context.Context, reference string) (Outcome, error)
}

// CardGateway is the card adapter including webhook parsing.
type CardGateway interface {
	Adapter
	ParseWebhook(payload []byte, signatureHeader string) (CardEvent, error)
}

// WalletGateway is the wallet adapter including the explicit capture phase.
type WalletGateway interface {
	Adapter
	Capture(ctx context.Context, reference string) (Outcome, error)
}

// CryptoGateway is the crypto adapter including estimates and IPN verification.
type CryptoGateway interface {
	Adapter
	Estimate(ctx context.Context, req EstimateRequest) (Estimate, error)
	VerifyNotification(body []byte, signature string) (CryptoNotification, error)
}

// CardEvent is a verified card webhook event relevant to order settlement.
type CardEvent struct {
	ID       string
	Type     string
	OrderID  string
	Outcome  Outcome
	Relevant bool
}

// EstimateRequest asks for an informational conversion preview.
type EstimateRequest struct {
	Amount       string
	FromCurrency string
	ToCurrency   string
}

// Estimate is a non-authoritative conversion preview.
type Estimate struct {
	FromCurrency    string
	FromAmount      string
	ToCurrency      string
	EstimatedAmount string
}

// CryptoNotification is a verified provider-pushed status update.
type CryptoNotification struct {
	PaymentID  string
	OrderID    string
	Outcome    Outcome
	ReceivedAt time.Time
}
