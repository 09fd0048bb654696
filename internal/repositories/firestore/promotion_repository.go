package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront/orders-api/internal/domain"
	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/repositories"
)

const promoCodesCollection = "promoCodes"

// PromotionRepository stores promo codes keyed by upper-case code.
type PromotionRepository struct {
	base *pfirestore.Collection[promoDocument]
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		base: pfirestore.NewCollection[promoDocument](provider, promoCodesCollection),
	}, nil
}

type promoDocument struct {
	DiscountAmount int64      `firestore:"discountAmount"`
	Active         bool       `firestore:"active"`
	UsageCount     int        `firestore:"usageCount"`
	MaxUsage       *int       `firestore:"maxUsage,omitempty"`
	ValidFrom      *time.Time `firestore:"validFrom,omitempty"`
	ValidUntil     *time.Time `firestore:"validUntil,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

// FindByCode looks a code up case-insensitively.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	key := normalizePromoCode(code)
	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.PromoCode{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert writes the full promo document.
func (r *PromotionRepository) Upsert(ctx context.Context, promo domain.PromoCode) error {
	key := normalizePromoCode(promo.Code)
	if key == "" {
		return errors.New("promotion repository: code is required")
	}
	_, err := r.base.Set(ctx, key, promoDocument{
		DiscountAmount: promo.DiscountAmount,
		Active:         promo.Active,
		UsageCount:     promo.UsageCount,
		MaxUsage:       promo.MaxUsage,
		ValidFrom:      promo.ValidFrom,
		ValidUntil:     promo.ValidUntil,
		CreatedAt:      promo.CreatedAt.UTC(),
		UpdatedAt:      promo.UpdatedAt.UTC(),
	})
	return err
}

// IncrementUsage atomically bumps usageCount.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, code string, at time.Time) (domain.PromoCode, error) {
	key := normalizePromoCode(code)
	if _, err := r.base.Update(ctx, key, []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: at.UTC()},
	}); err != nil {
		return domain.PromoCode{}, err
	}
	return r.FindByCode(ctx, key)
}

func (d promoDocument) toDomain(code string) domain.PromoCode {
	return domain.PromoCode{
		Code:           code,
		DiscountAmount: d.DiscountAmount,
		Active:         d.Active,
		UsageCount:     d.UsageCount,
		MaxUsage:       d.MaxUsage,
		ValidFrom:      d.ValidFrom,
		ValidUntil:     d.ValidUntil,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func normalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
