package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/orders-api/internal/repositories"
)

const (
	adminRole              = "admin"
	defaultAdminSessionTTL = 12 * time.Hour
	minAdminPasswordLength = 12
)

var (
	// ErrUnauthorized is returned for any missing, invalid, expired or revoked credential.
	ErrUnauthorized = errors.New("admin auth: unauthorized")
	// ErrAdminAuthUnavailable indicates a dependency needed to decide on a credential is down or absent.
	ErrAdminAuthUnavailable = errors.New("admin auth: unavailable")
)

// dummyHash keeps the unknown-user path as slow as a real comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storefront-admin-placeholder"), bcrypt.DefaultCost)

// SessionCodec signs and parses session tokens. Parse rejects bad signatures; expiry is checked here.
type SessionCodec interface {
	Issue(session AdminSession) (string, error)
	Parse(token string) (AdminSession, error)
}

// RevocationStore is the deny list consulted on every validation.
type RevocationStore interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// FirebaseAdminVerifier verifies a Firebase ID token and returns the caller's identity.
type FirebaseAdminVerifier interface {
	VerifyAdmin(ctx context.Context, idToken string) (uid, email string, roles []string, err error)
}

// AdminAuthServiceDeps wires the operator authentication service.
type AdminAuthServiceDeps struct {
	Admins      repositories.AdminUserRepository
	Sessions    SessionCodec
	Revocations RevocationStore
	Firebase    FirebaseAdminVerifier
	SessionTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type adminAuthService struct {
	admins      repositories.AdminUserRepository
	sessions    SessionCodec
	revocations RevocationStore
	firebase    FirebaseAdminVerifier
	ttl         time.Duration
	now         func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewAdminAuthService validates dependencies and returns the service.
func NewAdminAuthService(deps AdminAuthServiceDeps) (AdminAuthService, error) {
	if deps.Admins == nil {
		return nil, errors.New("admin auth service: admin user repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("admin auth service: session codec is required")
	}
	if deps.Revocations == nil {
		return nil, errors.New("admin auth service: revocation store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultAdminSessionTTL
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &adminAuthService{
		admins:      deps.Admins,
		sessions:    deps.Sessions,
		revocations: deps.Revocations,
		firebase:    deps.Firebase,
		ttl:         ttl,
		now:         func() time.Time { return clock().UTC().Truncate(time.Second) },
		newID:       newID,
		logger:      logger,
	}, nil
}

func (s *adminAuthService) Login(ctx context.Context, email, password string) (AdminSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return AdminSession{}, ErrUnauthorized
	}

	user, err := s.admins.FindByEmail(ctx, email)
	if err != nil {
		if isRepoNotFound(err) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.logger(ctx, "admin.login.rejected", map[string]any{"email": email, "reason": "unknown"})
			return AdminSession{}, ErrUnauthorized
		}
		return AdminSession{}, fmt.Errorf("%w: %v", ErrAdminAuthUnavailable, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger(ctx, "admin.login.rejected", map[string]any{"email": email, "reason": "password"})
		return AdminSession{}, ErrUnauthorized
	}
	if !user.Active || !hasRole(user.Roles, adminRole) {
		s.logger(ctx, "admin.login.rejected", map[string]any{"email": email, "reason": "inactive"})
		return AdminSession{}, ErrUnauthorized
	}

	session, err := s.issue(user.ID, user.Email, user.Roles)
	if err != nil {
		return AdminSession{}, err
	}
	s.logger(ctx, "admin.login", map[string]any{"adminID": user.ID, "sessionID": session.ID})
	return session, nil
}

func (s *adminAuthService) LoginWithFirebase(ctx context.Context, idToken string) (AdminSession, error) {
	if s.firebase == nil {
		return AdminSession{}, fmt.Errorf("%w: firebase login is not configured", ErrAdminAuthUnavailable)
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return AdminSession{}, ErrUnauthorized
	}
	uid, email, roles, err := s.firebase.VerifyAdmin(ctx, idToken)
	if err != nil {
		s.logger(ctx, "admin.login.rejected", map[string]any{"reason": "firebase", "error": err.Error()})
		return AdminSession{}, ErrUnauthorized
	}
	if !hasRole(roles, adminRole) {
		s.logger(ctx, "admin.login.rejected", map[string]any{"uid": uid, "reason": "role"})
		return AdminSession{}, ErrUnauthorized
	}
	session, err := s.issue("firebase:"+uid, strings.ToLower(email), roles)
	if err != nil {
		return AdminSession{}, err
	}
	s.logger(ctx, "admin.login", map[string]any{"adminID": session.AdminID, "sessionID": session.ID})
	return session, nil
}

func (s *adminAuthService) Validate(ctx context.Context, token string) (AdminSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AdminSession{}, ErrUnauthorized
	}
	session, err := s.sessions.Parse(token)
	if err != nil {
		return AdminSession{}, ErrUnauthorized
	}
	if session.ID == "" || !s.now().Before(session.ExpiresAt) || !hasRole(session.Roles, adminRole) {
		return AdminSession{}, ErrUnauthorized
	}
	revoked, err := s.revocations.IsRevoked(ctx, session.ID)
	if err != nil {
		return AdminSession{}, fmt.Errorf("%w: %v", ErrAdminAuthUnavailable, err)
	}
	if revoked {
		return AdminSession{}, ErrUnauthorized
	}
	session.Token = token
	return session, nil
}

func (s *adminAuthService) Logout(ctx context.Context, token string) error {
	session, err := s.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.revocations.Revoke(ctx, session.ID, session.ExpiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrAdminAuthUnavailable, err)
	}
	s.logger(ctx, "admin.logout", map[string]any{"adminID": session.AdminID, "sessionID": session.ID})
	return nil
}

func (s *adminAuthService) issue(adminID, email string, roles []string) (AdminSession, error) {
	now := s.now()
	session := AdminSession{
		ID:        s.newID(),
		AdminID:   adminID,
		Email:     email,
		Roles:     slices.Clone(roles),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	token, err := s.sessions.Issue(session)
	if err != nil {
		return AdminSession{}, fmt.Errorf("admin auth: issue session: %w", err)
	}
	session.Token = token
	return session, nil
}

// HashAdminPassword returns the bcrypt hash stored for an operator.
func HashAdminPassword(password string) (string, error) {
	if len(password) < minAdminPasswordLength {
		return "", fmt.Errorf("admin auth: password must be at least %d characters", minAdminPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func hasRole(roles []string, role string) bool {
	return slices.ContainsFunc(roles, func(r string) bool { return strings.EqualFold(strings.TrimSpace(r), role) })
}
