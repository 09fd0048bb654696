package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/repositories"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultSweepLimit   = 50
	maxSweepLimit       = 500
)

// ReconciliationServiceDeps wires the crypto reconciliation service.
type ReconciliationServiceDeps struct {
	Orders       repositories.OrderRepository
	Payments     *payments.Registry
	Promotions   PromotionService
	Notifier     Notifier
	PollInterval time.Duration
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders       repositories.OrderRepository
	payments     *payments.Registry
	settle       *settler
	pollInterval time.Duration
	now          func() time.Time
	logger       func(context.Context, string, map[string]any)
}

// NewReconciliationService constructs the service.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	now := func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
	return &reconciliationService{
		orders:   deps.Orders,
		payments: deps.Payments,
		settle: &settler{
			orders:     deps.Orders,
			promotions: deps.Promotions,
			notifier:   deps.Notifier,
			now:        now,
			logger:     logger,
		},
		pollInterval: interval,
		now:          now,
		logger:       logger,
	}, nil
}

// ReconcileCrypto performs one idempotent reconciliation step. Calling it repeatedly or
// concurrently yields at most one effective transition.
func (s *reconciliationService) ReconcileCrypto(ctx context.Context, orderID string) (ReconcileResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ReconcileResult{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, mapOrderRepositoryError(err)
	}
	return s.reconcile(ctx, order)
}

func (s *reconciliationService) reconcile(ctx context.Context, order Order) (ReconcileResult, error) {
	if order.PaymentMethod != domain.PaymentMethodCrypto {
		return resultFor(order, false), fmt.Errorf("%w: order uses %s", ErrPaymentMethodMismatch, order.PaymentMethod)
	}
	if order.PaymentStatus.Terminal() {
		return resultFor(order, false), nil
	}
	if order.Payment == nil || !order.Crypto.Complete() {
		return resultFor(order, false), ErrPaymentNotInitiated
	}

	gateway, err := s.payments.Crypto()
	if err != nil {
		return s.expireOrFail(ctx, order, err)
	}
	outcome, err := gateway.ResolveOutcome(ctx, order.Payment.Reference)
	if err != nil {
		return s.expireOrFail(ctx, order, err)
	}
	return s.applyCryptoOutcome(ctx, order, outcome)
}

// applyCryptoOutcome settles terminal outcomes and expires non-terminal ones past the window.
func (s *reconciliationService) applyCryptoOutcome(ctx context.Context, order Order, outcome payments.Outcome) (ReconcileResult, error) {
	var (
		result settlement
		err    error
	)
	switch {
	case outcome.State.Terminal():
		result, err = s.settle.applyOutcome(ctx, order, outcome, domain.ActorProvider)
	case s.pastWindow(order):
		result, err = s.settle.expire(ctx, order, outcome.RawStatus)
	default:
		result, err = s.settle.applyOutcome(ctx, order, outcome, domain.ActorProvider)
	}
	if err != nil {
		return resultFor(order, false), err
	}
	out := resultFor(result.order, result.transitioned)
	if outcome.RawStatus != "" {
		out.ProviderStatus = outcome.RawStatus
	}
	return out, nil
}

// expireOrFail turns a provider failure into expiry once the window has closed; before that the
// failure is transient and returned to the caller.
func (s *reconciliationService) expireOrFail(ctx context.Context, order Order, cause error) (ReconcileResult, error) {
	if !s.pastWindow(order) {
		return resultFor(order, false), cause
	}
	s.logger(ctx, "reconcile.crypto.expired_without_status", map[string]any{
		"orderID": order.ID,
		"error":   cause.Error(),
	})
	result, err := s.settle.expire(ctx, order, "")
	if err != nil {
		return resultFor(order, false), err
	}
	return resultFor(result.order, result.transitioned), nil
}

func (s *reconciliationService) pastWindow(order Order) bool {
	return order.Crypto != nil && !s.now().Before(order.Crypto.ExpiresAt)
}

// PollCrypto repeats ReconcileCrypto until the payment is terminal, the timeout elapses, or the
// caller goes away. Transient provider errors are logged and retried on the next tick.
func (s *reconciliationService) PollCrypto(ctx context.Context, orderID string, opts PollOptions) (ReconcileResult, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = s.pollInterval
	}
	pollCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last ReconcileResult
	for {
		result, err := s.ReconcileCrypto(pollCtx, orderID)
		switch {
		case err == nil:
			last = result
			if result.Terminal {
				return result, nil
			}
		case errors.Is(err, payments.ErrProviderRequest):
			last = result
			s.logger(ctx, "reconcile.crypto.poll_retry", map[string]any{"orderID": orderID, "error": err.Error()})
		case pollCtx.Err() != nil && ctx.Err() == nil:
			return last, nil
		default:
			return result, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-pollCtx.Done():
			return last, nil
		case <-ticker.C:
		}
	}
}

// ApplyCryptoNotification applies a verified provider push through the same transition path as polling.
func (s *reconciliationService) ApplyCryptoNotification(ctx context.Context, body []byte, signature string) (ReconcileResult, error) {
	gateway, err := s.payments.Crypto()
	if err != nil {
		return ReconcileResult{}, err
	}
	notification, err := gateway.VerifyNotification(body, signature)
	if err != nil {
		return ReconcileResult{}, err
	}
	if notification.OrderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: notification without order id", payments.ErrInvalidReference)
	}

	order, err := s.orders.FindByID(ctx, notification.OrderID)
	if err != nil {
		return ReconcileResult{}, mapOrderRepositoryError(err)
	}
	if order.PaymentMethod != domain.PaymentMethodCrypto || order.Payment == nil ||
		order.Payment.Reference != notification.PaymentID {
		s.logger(ctx, "reconcile.crypto.notification_mismatch", map[string]any{
			"orderID":   order.ID,
			"paymentID": notification.PaymentID,
		})
		return resultFor(order, false), fmt.Errorf("%w: payment %s does not belong to order %s", payments.ErrInvalidReference, notification.PaymentID, order.ID)
	}
	return s.applyCryptoOutcome(ctx, order, notification.Outcome)
}

// SweepPending reconciles the oldest in-flight crypto orders. Per-order failures are counted and
// logged; the sweep keeps going.
func (s *reconciliationService) SweepPending(ctx context.Context, limit int) (SweepSummary, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	limit = min(limit, maxSweepLimit)

	pending, err := s.orders.ListPendingCrypto(ctx, limit)
	if err != nil {
		return SweepSummary{}, mapOrderRepositoryError(err)
	}

	var summary SweepSummary
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++
		result, err := s.reconcile(ctx, order)
		if errors.Is(err, ErrPaymentNotInitiated) {
			continue
		}
		if err != nil {
			summary.Failed++
			s.logger(ctx, "reconcile.crypto.sweep_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
			continue
		}
		if result.Transitioned {
			summary.Transitioned++
		}
	}
	s.logger(ctx, "reconcile.crypto.sweep", map[string]any{
		"scanned":      summary.Scanned,
		"transitioned": summary.Transitioned,
		"failed":       summary.Failed,
	})
	return summary, nil
}

func resultFor(order Order, transitioned bool) ReconcileResult {
	out := ReconcileResult{
		Order:        order,
		Transitioned: transitioned,
		Terminal:     order.PaymentStatus.Terminal(),
	}
	if order.Crypto != nil {
		out.ProviderStatus = order.Crypto.ProviderStatus
	}
	return out
}
