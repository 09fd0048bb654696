package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/storefront/orders-api/internal/domain"
)

const (
	defaultSessionIssuer = "orders-api/admin"
	minSessionSecretLen  = 32
)

var (
	// ErrSessionTokenInvalid covers malformed, forged and foreign tokens.
	ErrSessionTokenInvalid = errors.New("auth: admin session token invalid")
)

// SessionIssuer signs console sessions as HS256 JWTs. Expiry is carried in the token but enforced by
// the caller's clock, so Parse accepts expired tokens.
type SessionIssuer struct {
	secret []byte
	issuer string
}

// SessionIssuerOption customises SessionIssuer.
type SessionIssuerOption func(*SessionIssuer)

// WithSessionIssuerName overrides the iss claim written and required.
func WithSessionIssuerName(name string) SessionIssuerOption {
	return func(s *SessionIssuer) {
		if name = strings.TrimSpace(name); name != "" {
			s.issuer = name
		}
	}
}

// NewSessionIssuer requires a secret of at least 32 bytes.
func NewSessionIssuer(secret string, opts ...SessionIssuerOption) (*SessionIssuer, error) {
	if len(secret) < minSessionSecretLen {
		return nil, fmt.Errorf("auth: session secret must be at least %d bytes", minSessionSecretLen)
	}
	issuer := &SessionIssuer{secret: []byte(secret), issuer: defaultSessionIssuer}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

type adminClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`

	expectedIssuer string
}

// Valid replaces the registered-claims time checks with structural ones.
func (c *adminClaims) Valid() error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Subject) == "" {
		return ErrSessionTokenInvalid
	}
	if c.ExpiresAt == nil || c.IssuedAt == nil {
		return ErrSessionTokenInvalid
	}
	if c.expectedIssuer != "" && c.Issuer != c.expectedIssuer {
		return ErrSessionTokenInvalid
	}
	return nil
}

// Issue signs the session.
func (s *SessionIssuer) Issue(session domain.AdminSession) (string, error) {
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.AdminID) == "" {
		return "", errors.New("auth: session id and admin id are required")
	}
	claims := &adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.AdminID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Email: session.Email,
		Roles: session.Roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and returns the session without Token set.
func (s *SessionIssuer) Parse(token string) (domain.AdminSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.AdminSession{}, ErrSessionTokenInvalid
	}
	claims := &adminClaims{expectedIssuer: s.issuer}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return domain.AdminSession{}, fmt.Errorf("%w: %v", ErrSessionTokenInvalid, err)
	}
	return domain.AdminSession{
		ID:        claims.ID,
		AdminID:   claims.Subject,
		Email:     claims.Email,
		Roles:     append([]string(nil), claims.Roles...),
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Ensure the claim type keeps satisfying jwt.Claims.
var _ jwt.Claims = (*adminClaims)(nil)

// sessionTTL is the remaining lifetime of a session at now, never negative.
func sessionTTL(until, now time.Time) time.Duration {
	if d := until.Sub(now); d > 0 {
		return d
	}
	return 0
}
