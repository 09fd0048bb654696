package events

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/observability"
	"github.com/storefront/orders-api/internal/platform/requestctx"
)

// LogNotifier records confirmations in the service log. It is the local-development transport.
type LogNotifier struct {
	fallback *zap.Logger
}

// NewLogNotifier returns a notifier that logs through the request logger, or fallback outside a request.
func NewLogNotifier(fallback *zap.Logger) *LogNotifier {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return &LogNotifier{fallback: fallback}
}

func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	logger := observability.FromContext(ctx)
	if logger == requestctx.NoopLogger() {
		logger = n.fallback
	}
	logger.Info("order confirmation",
		zap.String("order_id", order.ID),
		zap.String("customer_email", order.CustomerEmail),
		zap.String("currency", order.Currency),
		zap.Int64("total_amount", order.TotalAmount),
		zap.String("payment_method", string(order.PaymentMethod)),
	)
	return nil
}
