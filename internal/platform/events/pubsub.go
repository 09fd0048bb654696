package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/storefront/orders-api/internal/domain"
)

// PubSubNotifier publishes order confirmations to a Pub/Sub topic.
type PubSubNotifier struct {
	topic *pubsub.Topic
	clock func() time.Time
}

// NewPubSubNotifier constructs a Pub/Sub backed notifier.
func NewPubSubNotifier(topic *pubsub.Topic, clock func() time.Time) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	if clock == nil {
		clock = time.Now
	}
	// Confirmations for one order keep their publish order.
	topic.EnableMessageOrdering = true
	return &PubSubNotifier{topic: topic, clock: clock}, nil
}

// SendOrderConfirmation publishes the confirmation and waits for the server ack.
func (p *PubSubNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}
	data, err := encode(NewOrderConfirmation(order, p.clock()))
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes(order),
		OrderingKey: order.ID,
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(order.ID)
		return fmt.Errorf("publish order confirmation: %w", err)
	}
	return nil
}
