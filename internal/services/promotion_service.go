package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/orders-api/internal/repositories"
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Clock      func() time.Time
}

type promotionService struct {
	repo  repositories.PromotionRepository
	clock func() time.Time
}

// NewPromotionService wires a PromotionService backed by the provided repository.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promotionService{
		repo:  deps.Promotions,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Resolve applies the checks in order: existence, activity, validity window, usage. An inactive
// code that is also used up reports exhausted.
func (s *promotionService) Resolve(ctx context.Context, code string) (PromoResolution, error) {
	if s == nil || s.repo == nil {
		return PromoResolution{}, ErrPromotionRepositoryMissing
	}
	normalized := normalizePromoCode(code)
	if normalized == "" || len(normalized) > 64 {
		return PromoResolution{}, ErrPromotionInvalidCode
	}

	promo, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if isRepoNotFound(err) {
			return PromoResolution{}, &PromoRejectedError{Code: normalized, Reason: PromoRejectNotFound}
		}
		return PromoResolution{}, s.mapError(err)
	}

	exhausted := promo.MaxUsage != nil && promo.UsageCount >= *promo.MaxUsage
	if !promo.Active {
		reason := PromoRejectInactive
		if exhausted {
			reason = PromoRejectExhausted
		}
		return PromoResolution{}, &PromoRejectedError{Code: normalized, Reason: reason}
	}
	now := s.clock()
	if promo.ValidFrom != nil && now.Before(*promo.ValidFrom) {
		return PromoResolution{}, &PromoRejectedError{Code: normalized, Reason: PromoRejectExpired}
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return PromoResolution{}, &PromoRejectedError{Code: normalized, Reason: PromoRejectExpired}
	}
	if exhausted {
		return PromoResolution{}, &PromoRejectedError{Code: normalized, Reason: PromoRejectExhausted}
	}

	return PromoResolution{Code: normalized, DiscountAmount: max(promo.DiscountAmount, 0)}, nil
}

func (s *promotionService) Redeem(ctx context.Context, code string) (PromoCode, error) {
	if s == nil || s.repo == nil {
		return PromoCode{}, ErrPromotionRepositoryMissing
	}
	normalized := normalizePromoCode(code)
	if normalized == "" {
		return PromoCode{}, ErrPromotionInvalidCode
	}
	promo, err := s.repo.IncrementUsage(ctx, normalized, s.clock())
	if err != nil {
		if isRepoNotFound(err) {
			return PromoCode{}, &PromoRejectedError{Code: normalized, Reason: PromoRejectNotFound}
		}
		return PromoCode{}, s.mapError(err)
	}
	return promo, nil
}

func (s *promotionService) mapError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}
	return err
}

func normalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
