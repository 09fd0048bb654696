package sqlstore

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/repositories"
)

// AdminUserRepository stores operator accounts with a unique lower-case email.
type AdminUserRepository struct {
	db *gorm.DB
}

var _ repositories.AdminUserRepository = (*AdminUserRepository)(nil)

func NewAdminUserRepository(db *gorm.DB) (*AdminUserRepository, error) {
	if db == nil {
		return nil, errors.New("admin user repository requires database")
	}
	return &AdminUserRepository{db: db}, nil
}

func (r *AdminUserRepository) FindByEmail(ctx context.Context, email string) (domain.AdminUser, error) {
	var m adminUserModel
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&m).Error
	if err != nil {
		return domain.AdminUser{}, wrapError("admin_users.get", err)
	}
	return domain.AdminUser{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Roles:        append([]string(nil), m.Roles...),
		Active:       m.Active,
		CreatedAt:    m.CreatedAt.UTC(),
	}, nil
}

func (r *AdminUserRepository) Upsert(ctx context.Context, user domain.AdminUser) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || strings.TrimSpace(user.ID) == "" {
		return errors.New("admin user repository: id and email are required")
	}
	m := adminUserModel{
		ID:           strings.TrimSpace(user.ID),
		Email:        email,
		PasswordHash: user.PasswordHash,
		Roles:        append([]string(nil), user.Roles...),
		Active:       user.Active,
		CreatedAt:    user.CreatedAt.UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash", "roles", "active"}),
	}).Create(&m).Error
	return wrapError("admin_users.upsert", err)
}
