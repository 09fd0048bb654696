package domain

import "slices"

// Actor identifies who is requesting a transition.
type Actor string

const (
	// ActorProvider is a payment provider confirmation (synchronous confirm, capture, webhook).
	ActorProvider Actor = "provider"
	// ActorSystem is the reconciliation loop observing expiry.
	ActorSystem Actor = "system"
	// ActorAdmin is an authenticated console operator.
	ActorAdmin Actor = "admin"
)

// TransitionDecision is the outcome of a transition check. Irregular marks an admin override
// that is off the canonical workflow.
type TransitionDecision struct {
	Allowed   bool
	Irregular bool
}

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusReturned},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled, OrderStatusReturned},
	OrderStatusShipped:   {OrderStatusCompleted, OrderStatusCancelled, OrderStatusReturned},
}

var automaticStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusConfirmed},
}

var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusExpired},
}

// CanTransitionStatus checks a status-axis transition for the given actor.
func CanTransitionStatus(from, to OrderStatus, actor Actor) TransitionDecision {
	if !to.Valid() {
		return TransitionDecision{}
	}
	if from == to {
		return TransitionDecision{Allowed: true}
	}
	switch actor {
	case ActorAdmin:
		canonical := slices.Contains(orderStatusTransitions[from], to)
		return TransitionDecision{Allowed: true, Irregular: !canonical}
	case ActorProvider, ActorSystem:
		return TransitionDecision{Allowed: slices.Contains(automaticStatusTransitions[from], to)}
	default:
		return TransitionDecision{}
	}
}

// CanTransitionPayment checks a payment-axis transition for the given actor.
func CanTransitionPayment(from, to PaymentStatus, actor Actor) TransitionDecision {
	if !to.Valid() {
		return TransitionDecision{}
	}
	if from == to {
		return TransitionDecision{Allowed: true}
	}
	canonical := slices.Contains(paymentStatusTransitions[from], to)
	switch actor {
	case ActorAdmin:
		return TransitionDecision{Allowed: true, Irregular: !canonical}
	case ActorProvider:
		return TransitionDecision{Allowed: canonical}
	case ActorSystem:
		// expiry is the only outcome the system observes on its own
		return TransitionDecision{Allowed: canonical && to == PaymentStatusExpired}
	default:
		return TransitionDecision{}
	}
}
