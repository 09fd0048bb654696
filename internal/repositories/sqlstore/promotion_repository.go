package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/repositories"
)

// PromotionRepository stores promo codes in the promo_codes table.
type PromotionRepository struct {
	db *gorm.DB
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

func NewPromotionRepository(db *gorm.DB) (*PromotionRepository, error) {
	if db == nil {
		return nil, errors.New("promotion repository requires database")
	}
	return &PromotionRepository{db: db}, nil
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	var model promoModel
	err := r.db.WithContext(ctx).Where("code = ?", normalizeCode(code)).Take(&model).Error
	if err != nil {
		return domain.PromoCode{}, wrapError("promo_codes.get", err)
	}
	return model.toDomain(), nil
}

func (r *PromotionRepository) Upsert(ctx context.Context, promo domain.PromoCode) error {
	code := normalizeCode(promo.Code)
	if code == "" {
		return errors.New("promotion repository: code is required")
	}
	model := promoModel{
		Code:           code,
		DiscountAmount: promo.DiscountAmount,
		Active:         promo.Active,
		UsageCount:     promo.UsageCount,
		MaxUsage:       promo.MaxUsage,
		ValidFrom:      utcPtr(promo.ValidFrom),
		ValidUntil:     utcPtr(promo.ValidUntil),
		CreatedAt:      promo.CreatedAt.UTC(),
		UpdatedAt:      promo.UpdatedAt.UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error
	return wrapError("promo_codes.upsert", err)
}

// IncrementUsage bumps usage_count in a single statement.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, code string, at time.Time) (domain.PromoCode, error) {
	code = normalizeCode(code)
	res := r.db.WithContext(ctx).Model(&promoModel{}).
		Where("code = ?", code).
		Updates(map[string]any{"usage_count": gorm.Expr("usage_count + 1"), "updated_at": at.UTC()})
	if res.Error != nil {
		return domain.PromoCode{}, wrapError("promo_codes.increment", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.PromoCode{}, notFoundError("promo_codes.increment", gorm.ErrRecordNotFound)
	}
	return r.FindByCode(ctx, code)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
