package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/repositories"
)

// settler applies provider outcomes to orders. Card confirmation, wallet capture, webhooks,
// crypto polling, IPN and the admin console all funnel through it so the post-payment side
// effects run only for the writer that won the compare-and-set.
type settler struct {
	orders     repositories.OrderRepository
	promotions PromotionService
	notifier   Notifier
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

type settlement struct {
	order        Order
	transitioned bool
}

// applyOutcome moves a pending payment to the outcome's terminal status. Non-terminal outcomes
// only refresh the crypto provider status. Terminal orders are left untouched.
func (s *settler) applyOutcome(ctx context.Context, order Order, outcome payments.Outcome, actor domain.Actor) (settlement, error) {
	if order.PaymentStatus.Terminal() {
		if outcome.State == payments.OutcomeSucceeded && order.PaymentStatus != domain.PaymentStatusCompleted {
			s.logger(ctx, "late_crypto_payment", map[string]any{
				"orderID":        order.ID,
				"paymentStatus":  string(order.PaymentStatus),
				"providerStatus": outcome.RawStatus,
				"reference":      outcome.Reference,
			})
		}
		return settlement{order: order}, nil
	}

	target, terminal := outcome.State.PaymentStatus()
	if !terminal {
		return s.refreshProviderStatus(ctx, order, outcome.RawStatus)
	}
	return s.transition(ctx, order, target, actor, providerStatusFor(order, outcome.RawStatus))
}

// expire moves a pending payment to expired. The order status is left alone.
func (s *settler) expire(ctx context.Context, order Order, providerStatus string) (settlement, error) {
	if order.PaymentStatus.Terminal() {
		return settlement{order: order}, nil
	}
	return s.transition(ctx, order, domain.PaymentStatusExpired, domain.ActorSystem, providerStatusFor(order, providerStatus))
}

func (s *settler) transition(ctx context.Context, order Order, target PaymentStatus, actor domain.Actor, providerStatus string) (settlement, error) {
	decision := domain.CanTransitionPayment(order.PaymentStatus, target, actor)
	if !decision.Allowed {
		return settlement{order: order}, fmt.Errorf("%w: payment %s -> %s by %s", ErrInvalidTransition, order.PaymentStatus, target, actor)
	}
	confirm := target == domain.PaymentStatusCompleted &&
		domain.CanTransitionStatus(order.Status, domain.OrderStatusConfirmed, actor).Allowed

	updated, err := s.orders.TransitionPayment(ctx, repositories.PaymentTransition{
		OrderID:        order.ID,
		From:           order.PaymentStatus,
		To:             target,
		ConfirmOrder:   confirm,
		ProviderStatus: providerStatus,
		At:             s.now(),
	})
	if err != nil {
		if isRepoConflict(err) {
			// another writer settled it first; report the stored state
			current, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr != nil {
				return settlement{order: order}, mapOrderRepositoryError(findErr)
			}
			s.logger(ctx, "payment.transition.lost", map[string]any{
				"orderID":       order.ID,
				"target":        string(target),
				"paymentStatus": string(current.PaymentStatus),
			})
			return settlement{order: current}, nil
		}
		return settlement{order: order}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "payment.transitioned", map[string]any{
		"orderID": order.ID,
		"from":    string(order.PaymentStatus),
		"to":      string(target),
		"actor":   string(actor),
		"status":  string(updated.Status),
	})
	if target == domain.PaymentStatusCompleted {
		s.afterCompletion(ctx, updated)
	}
	return settlement{order: updated, transitioned: true}, nil
}

func (s *settler) refreshProviderStatus(ctx context.Context, order Order, providerStatus string) (settlement, error) {
	if order.Crypto == nil || providerStatus == "" || order.Crypto.ProviderStatus == providerStatus {
		return settlement{order: order}, nil
	}
	updated, err := s.orders.TransitionPayment(ctx, repositories.PaymentTransition{
		OrderID:        order.ID,
		From:           order.PaymentStatus,
		To:             order.PaymentStatus,
		ProviderStatus: providerStatus,
		At:             s.now(),
	})
	if err != nil {
		if isRepoConflict(err) {
			current, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr != nil {
				return settlement{order: order}, mapOrderRepositoryError(findErr)
			}
			return settlement{order: current}, nil
		}
		return settlement{order: order}, mapOrderRepositoryError(err)
	}
	return settlement{order: updated}, nil
}

// afterCompletion redeems the promo once and sends the confirmation. Failures are logged only.
func (s *settler) afterCompletion(ctx context.Context, order Order) {
	s.redeemPromo(ctx, order)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendOrderConfirmation(ctx, order); err != nil {
		s.logger(ctx, "order.notification_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *settler) redeemPromo(ctx context.Context, order Order) {
	if order.PromoCode == "" || order.PromoRedeemed || s.promotions == nil {
		return
	}
	flipped, err := s.orders.MarkPromoRedeemed(ctx, order.ID, s.now())
	if err != nil {
		s.logger(ctx, "promo.redeem_failed", map[string]any{"orderID": order.ID, "code": order.PromoCode, "error": err.Error()})
		return
	}
	if !flipped {
		return
	}
	if _, err := s.promotions.Redeem(ctx, order.PromoCode); err != nil {
		var rejected *PromoRejectedError
		if !errors.As(err, &rejected) {
			s.logger(ctx, "promo.redeem_failed", map[string]any{"orderID": order.ID, "code": order.PromoCode, "error": err.Error()})
			return
		}
		s.logger(ctx, "promo.redeem_skipped", map[string]any{"orderID": order.ID, "code": order.PromoCode, "reason": string(rejected.Reason)})
		return
	}
	s.logger(ctx, "promo.redeemed", map[string]any{"orderID": order.ID, "code": order.PromoCode})
}

func providerStatusFor(order Order, raw string) string {
	if order.Crypto == nil {
		return ""
	}
	return raw
}
