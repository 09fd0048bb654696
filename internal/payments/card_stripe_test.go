package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type stubIntentAPI struct {
	newFn func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s *stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.newFn == nil {
		return nil, errors.New("unexpected New")
	}
	return s.newFn(params)
}

func (s *stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected Get")
	}
	return s.getFn(id, params)
}

func TestNewCardAdapter_MissingKeyIsUnavailable(t *testing.T) {
	_, err := NewCardAdapter(CardConfig{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestCardAdapter_InitiateCreatesIntent(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	api := &stubIntentAPI{
		newFn: func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = p
			return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
		},
	}
	adapter, err := NewCardAdapter(CardConfig{intents: api})
	if err != nil {
		t.Fatalf("NewCardAdapter: %v", err)
	}

	handle, err := adapter.Initiate(context.Background(), InitiateRequest{
		OrderID:        "ord_1",
		Amount:         44900,
		Currency:       "NOK",
		Email:          "kari@example.com",
		IdempotencyKey: "initiate-ord_1",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if handle.Reference != "pi_123" || handle.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if captured == nil || *captured.Amount != 44900 || *captured.Currency != "nok" {
		t.Fatalf("unexpected params %+v", captured)
	}
	if captured.Metadata[orderIDMetadataKey] != "ord_1" {
		t.Fatalf("expected order id metadata, got %v", captured.Metadata)
	}
	if captured.IdempotencyKey == nil || *captured.IdempotencyKey != "initiate-ord_1" {
		t.Fatalf("expected idempotency key to be set")
	}
	if captured.Context == nil {
		t.Fatalf("expected context to be propagated")
	}
}

func TestCardAdapter_InitiateWrapsProviderError(t *testing.T) {
	api := &stubIntentAPI{
		newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return nil, errors.New("connection reset")
		},
	}
	adapter, _ := NewCardAdapter(CardConfig{intents: api})
	_, err := adapter.Initiate(context.Background(), InitiateRequest{OrderID: "ord_1", Amount: 100, Currency: "NOK"})
	if !errors.Is(err, ErrProviderRequest) {
		t.Fatalf("expected ErrProviderRequest, got %v", err)
	}
}

func TestCardAdapter_ResolveOutcomeMapsStatuses(t *testing.T) {
	cases := []struct {
		name   string
		intent stripe.PaymentIntent
		want   OutcomeState
	}{
		{"succeeded", stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded}, OutcomeSucceeded},
		{"canceled", stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}, OutcomeFailed},
		{"declined", stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod, LastPaymentError: &stripe.Error{Msg: "card declined"}}, OutcomeFailed},
		{"fresh", stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, OutcomePending},
		{"processing", stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}, OutcomeProcessing},
		{"action", stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresAction}, OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := tc.intent
			api := &stubIntentAPI{
				getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
					intent.ID = id
					return &intent, nil
				},
			}
			adapter, _ := NewCardAdapter(CardConfig{intents: api})
			outcome, err := adapter.ResolveOutcome(context.Background(), "pi_9")
			if err != nil {
				t.Fatalf("ResolveOutcome: %v", err)
			}
			if outcome.State != tc.want || outcome.Reference != "pi_9" {
				t.Fatalf("expected %s, got %+v", tc.want, outcome)
			}
		})
	}
}

func TestCardAdapter_ParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	adapter, _ := NewCardAdapter(CardConfig{WebhookSecret: secret, intents: &stubIntentAPI{}})

	payload := []byte(`{
  "id": "evt_1",
  "object": "event",
  "type": "payment_intent.succeeded",
  "data": {"object": {"id": "pi_1", "object": "payment_intent", "status": "succeeded", "metadata": {"order_id": "ord_42"}}}
}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	event, err := adapter.ParseWebhook(payload, signed.Header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if !event.Relevant || event.OrderID != "ord_42" || event.Outcome.State != OutcomeSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := adapter.ParseWebhook(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCardAdapter_ParseWebhookIgnoresOtherEvents(t *testing.T) {
	const secret = "whsec_test"
	adapter, _ := NewCardAdapter(CardConfig{WebhookSecret: secret, intents: &stubIntentAPI{}})
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	event, err := adapter.ParseWebhook(payload, signed.Header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Relevant {
		t.Fatalf("expected irrelevant event, got %+v", event)
	}
}
