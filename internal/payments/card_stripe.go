package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/storefront/orders-api/internal/domain"
)

const (
	stripeProviderName = "stripe"
	orderIDMetadataKey = "order_id"
)

// Logger is the structured logging hook used by adapters.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// CardConfig configures the Stripe-backed card adapter.
type CardConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        Logger

	intents stripePaymentIntentAPI
}

// CardAdapter creates Stripe PaymentIntents and resolves their outcome.
type CardAdapter struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	account       string
	logger        Logger
}

// NewCardAdapter returns ErrProviderUnavailable when no API key is configured.
func NewCardAdapter(cfg CardConfig) (*CardAdapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, fmt.Errorf("%w: stripe api key is not configured", ErrProviderUnavailable)
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CardAdapter{
		intents:       intents,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		logger:        logger,
	}, nil
}

// Method implements Adapter.
func (a *CardAdapter) Method() domain.PaymentMethod {
	return domain.PaymentMethodCard
}

// Initiate creates a PaymentIntent for the order total and returns its client secret.
func (a *CardAdapter) Initiate(ctx context.Context, req InitiateRequest) (Handle, error) {
	if strings.TrimSpace(req.OrderID) == "" || req.Amount <= 0 {
		return Handle{}, errors.New("stripe: order id and positive amount are required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.AddMetadata(orderIDMetadataKey, req.OrderID)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if a.account != "" {
		params.SetStripeAccount(a.account)
	}

	intent, err := a.intents.New(params)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: stripe create payment intent: %v", ErrProviderRequest, err)
	}

	a.logger(ctx, "payments.card.intent.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intent.ID,
		"amount":        req.Amount,
	})

	return Handle{
		Method:       domain.PaymentMethodCard,
		Provider:     stripeProviderName,
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// ResolveOutcome retrieves the PaymentIntent and normalises its status.
func (a *CardAdapter) ResolveOutcome(ctx context.Context, reference string) (Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Outcome{}, ErrInvalidReference
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if a.account != "" {
		params.SetStripeAccount(a.account)
	}
	intent, err := a.intents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return Outcome{}, fmt.Errorf("%w: %s", ErrInvalidReference, reference)
		}
		return Outcome{}, fmt.Errorf("%w: stripe get payment intent: %v", ErrProviderRequest, err)
	}
	return stripeOutcome(intent), nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts payment intent events.
func (a *CardAdapter) ParseWebhook(payload []byte, signatureHeader string) (CardEvent, error) {
	if a.webhookSecret == "" {
		return CardEvent{}, fmt.Errorf("%w: stripe webhook secret is not configured", ErrProviderUnavailable)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return CardEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := CardEvent{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "payment_intent.processing":
	default:
		return out, nil
	}
	if event.Data == nil {
		return out, errors.New("stripe: webhook event has no data")
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return out, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	out.Outcome = stripeOutcome(&intent)
	out.OrderID = out.Outcome.OrderID
	out.Relevant = out.OrderID != ""
	return out, nil
}

func stripeOutcome(intent *stripe.PaymentIntent) Outcome {
	if intent == nil {
		return Outcome{State: OutcomePending}
	}
	state := OutcomePending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		state = OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		state = OutcomeFailed
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		state = OutcomeProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// an intent returns here after a declined attempt
		if intent.LastPaymentError != nil {
			state = OutcomeFailed
		}
	}
	return Outcome{
		Reference: intent.ID,
		State:     state,
		RawStatus: string(intent.Status),
		OrderID:   intent.Metadata[orderIDMetadataKey],
	}
}
