package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/repositories"
)

// OrderRepository persists orders with gorm. Compare-and-set writes are conditional UPDATEs whose
// affected row count decides the winner.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the gorm-backed order repository.
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database")
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	model := newOrderModel(order)
	return wrapError("orders.insert", r.db.WithContext(ctx).Create(&model).Error)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	model, err := r.load(ctx, r.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return model.toDomain(), nil
}

func (r *OrderRepository) AttachPayment(ctx context.Context, orderID string, ref domain.PaymentRef, crypto *domain.CryptoPayment, at time.Time) (domain.Order, error) {
	var patch orderModel
	patch.setPayment(ref)
	values := map[string]any{
		"payment_provider":     patch.PaymentProvider,
		"payment_reference":    patch.PaymentReference,
		"payment_initiated_at": patch.PaymentInitiatedAt,
		"updated_at":           at.UTC(),
		"version":              gorm.Expr("version + 1"),
	}
	if crypto != nil {
		patch.setCrypto(crypto)
		values["crypto_payment_id"] = patch.CryptoPaymentID
		values["crypto_pay_currency"] = patch.CryptoPayCurrency
		values["crypto_pay_amount"] = patch.CryptoPayAmount
		values["crypto_pay_address"] = patch.CryptoPayAddress
		values["crypto_expires_at"] = patch.CryptoExpiresAt
		values["crypto_provider_status"] = patch.CryptoProviderStatus
	}
	return r.conditionalUpdate(ctx, "orders.attach_payment", orderID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("payment_status = ?", string(domain.PaymentStatusPending))
	}, values)
}

func (r *OrderRepository) TransitionPayment(ctx context.Context, t repositories.PaymentTransition) (domain.Order, error) {
	values := map[string]any{
		"payment_status": string(t.To),
		"updated_at":     t.At.UTC(),
		"version":        gorm.Expr("version + 1"),
	}
	if t.ConfirmOrder {
		values["status"] = gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
			string(domain.OrderStatusPending), string(domain.OrderStatusConfirmed))
	}
	if t.ProviderStatus != "" {
		values["crypto_provider_status"] = gorm.Expr("CASE WHEN crypto_payment_id <> '' THEN ? ELSE crypto_provider_status END", t.ProviderStatus)
	}
	return r.conditionalUpdate(ctx, "orders.transition_payment", t.OrderID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("payment_status = ?", string(t.From))
	}, values)
}

// UpdateFields applies an admin patch. The row version guards the write only when the caller
// supplied ExpectedUpdatedAt; otherwise concurrent payment transitions do not reject it.
func (r *OrderRepository) UpdateFields(ctx context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	var out domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if patch.ExpectedUpdatedAt != nil && !current.UpdatedAt.Equal(patch.ExpectedUpdatedAt.UTC()) {
			return conflictError("orders.update_fields", fmt.Errorf("order changed at %s", current.UpdatedAt.UTC().Format(time.RFC3339Nano)))
		}
		values := map[string]any{
			"updated_at": patch.At.UTC(),
			"version":    gorm.Expr("version + 1"),
		}
		if patch.Status != nil {
			values["status"] = string(*patch.Status)
		}
		if patch.PaymentStatus != nil {
			values["payment_status"] = string(*patch.PaymentStatus)
		}
		if patch.TrackingNumber != nil {
			values["tracking_number"] = strings.TrimSpace(*patch.TrackingNumber)
		}
		query := tx.Model(&orderModel{}).Where("id = ?", current.ID)
		if patch.ExpectedUpdatedAt != nil {
			query = query.Where("version = ?", current.Version)
		}
		res := query.Updates(values)
		if res.Error != nil {
			return wrapError("orders.update_fields", res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictError("orders.update_fields", errors.New("concurrent modification"))
		}
		updated, err := r.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		out = updated.toDomain()
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapError("orders.update_fields", err)
	}
	return out, nil
}

func (r *OrderRepository) MarkPromoRedeemed(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND promo_redeemed = ?", strings.TrimSpace(orderID), false).
		Updates(map[string]any{"promo_redeemed": true, "version": gorm.Expr("version + 1")})
	if res.Error != nil {
		return false, wrapError("orders.mark_promo_redeemed", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.load(ctx, r.db, orderID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	q := r.db.WithContext(ctx).Model(&orderModel{})
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		q = q.Where("product_category = ?", category)
	}
	q = q.Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []orderModel
	if err := q.Find(&models).Error; err != nil {
		return nil, wrapError("orders.list", err)
	}
	return toDomainOrders(models), nil
}

// ListPendingCrypto returns initiated crypto orders still awaiting payment, oldest first. Orders
// whose initiation failed carry no reference and are left out.
func (r *OrderRepository) ListPendingCrypto(ctx context.Context, limit int) ([]domain.Order, error) {
	q := r.db.WithContext(ctx).Model(&orderModel{}).
		Where("payment_method = ? AND payment_status = ?", string(domain.PaymentMethodCrypto), string(domain.PaymentStatusPending)).
		Where("COALESCE(payment_reference, '') <> ''").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []orderModel
	if err := q.Find(&models).Error; err != nil {
		return nil, wrapError("orders.list_pending_crypto", err)
	}
	return toDomainOrders(models), nil
}

// conditionalUpdate runs UPDATE ... WHERE id = ? AND <cond>. Zero affected rows is a conflict when
// the row exists and not-found otherwise.
func (r *OrderRepository) conditionalUpdate(ctx context.Context, op, orderID string, cond func(*gorm.DB) *gorm.DB, values map[string]any) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	res := cond(r.db.WithContext(ctx).Model(&orderModel{}).Where("id = ?", orderID)).Updates(values)
	if res.Error != nil {
		return domain.Order{}, wrapError(op, res.Error)
	}
	current, err := r.load(ctx, r.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if res.RowsAffected == 0 {
		return domain.Order{}, conflictError(op, fmt.Errorf("precondition failed, payment status is %s", current.PaymentStatus))
	}
	return current.toDomain(), nil
}

func (r *OrderRepository) load(ctx context.Context, db *gorm.DB, orderID string) (orderModel, error) {
	var model orderModel
	err := db.WithContext(ctx).Where("id = ?", strings.TrimSpace(orderID)).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orderModel{}, notFoundError("orders.get", err)
	}
	if err != nil {
		return orderModel{}, wrapError("orders.get", err)
	}
	return model, nil
}

func toDomainOrders(models []orderModel) []domain.Order {
	out := make([]domain.Order, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out
}
