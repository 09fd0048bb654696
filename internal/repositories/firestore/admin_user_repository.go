package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/repositories"
)

const adminUsersCollection = "adminUsers"

// AdminUserRepository stores operator accounts keyed by lower-case email.
type AdminUserRepository struct {
	base *pfirestore.Collection[adminUserDocument]
}

var _ repositories.AdminUserRepository = (*AdminUserRepository)(nil)

// NewAdminUserRepository constructs a Firestore-backed admin user repository.
func NewAdminUserRepository(provider *pfirestore.Provider) (*AdminUserRepository, error) {
	if provider == nil {
		return nil, errors.New("admin user repository requires firestore provider")
	}
	return &AdminUserRepository{
		base: pfirestore.NewCollection[adminUserDocument](provider, adminUsersCollection),
	}, nil
}

type adminUserDocument struct {
	UserID       string    `firestore:"userId"`
	PasswordHash string    `firestore:"passwordHash"`
	Roles        []string  `firestore:"roles"`
	Active       bool      `firestore:"active"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func (r *AdminUserRepository) FindByEmail(ctx context.Context, email string) (domain.AdminUser, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.AdminUser{}, err
	}
	return domain.AdminUser{
		ID:           doc.Data.UserID,
		Email:        doc.ID,
		PasswordHash: doc.Data.PasswordHash,
		Roles:        append([]string(nil), doc.Data.Roles...),
		Active:       doc.Data.Active,
		CreatedAt:    doc.Data.CreatedAt,
	}, nil
}

func (r *AdminUserRepository) Upsert(ctx context.Context, user domain.AdminUser) error {
	key := strings.ToLower(strings.TrimSpace(user.Email))
	if key == "" {
		return errors.New("admin user repository: email is required")
	}
	_, err := r.base.Set(ctx, key, adminUserDocument{
		UserID:       user.ID,
		PasswordHash: user.PasswordHash,
		Roles:        append([]string(nil), user.Roles...),
		Active:       user.Active,
		CreatedAt:    user.CreatedAt.UTC(),
	})
	return err
}
