package services

import (
	"errors"
	"fmt"
)

var (
	// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionInvalidCode signals the supplied promotion code is missing or malformed.
	ErrPromotionInvalidCode = errors.New("promotion service: invalid promotion code")
	// ErrPromotionRejected is the sentinel matched by every *PromoRejectedError.
	ErrPromotionRejected = errors.New("promotion service: promotion rejected")
	// ErrPromotionUnavailable indicates the promotion store cannot be reached.
	ErrPromotionUnavailable = errors.New("promotion service: repository unavailable")
)

// PromoRejectReason names the first failing promo constraint.
type PromoRejectReason string

const (
	PromoRejectNotFound  PromoRejectReason = "not_found"
	PromoRejectInactive  PromoRejectReason = "inactive"
	PromoRejectExpired   PromoRejectReason = "expired"
	PromoRejectExhausted PromoRejectReason = "exhausted"
)

// PromoRejectedError is returned by Resolve when a code cannot be applied.
type PromoRejectedError struct {
	Code   string
	Reason PromoRejectReason
}

func (e *PromoRejectedError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrPromotionRejected, e.Code, e.Reason)
}

func (e *PromoRejectedError) Unwrap() error { return ErrPromotionRejected }
