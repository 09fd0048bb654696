package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/storefront/orders-api/internal/platform/config"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultRoleClaim     = "role"
	rolesClaim           = "roles"
	adminFlagClaim       = "admin"
	emailClaim           = "email"
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier exchanges Firebase ID tokens for operator identities.
type FirebaseVerifier struct {
	verifier  TokenVerifier
	timeout   time.Duration
	roleClaim string
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithFirebaseRoleClaim overrides the custom claim holding the operator role.
func WithFirebaseRoleClaim(claim string) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if claim = strings.TrimSpace(claim); claim != "" {
			v.roleClaim = claim
		}
	}
}

// NewFirebaseVerifier constructs a FirebaseVerifier backed by the Admin SDK.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	return NewFirebaseVerifierWithClient(authClient, opts...), nil
}

// NewFirebaseVerifierWithClient wraps an existing token verifier.
func NewFirebaseVerifierWithClient(verifier TokenVerifier, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{
		verifier:  verifier,
		timeout:   defaultVerifyTimeout,
		roleClaim: defaultRoleClaim,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyAdmin verifies the ID token and returns the uid, email and roles it carries. Roles come from
// the role claim (string, list or map of flags), the roles list, or a boolean admin flag.
func (v *FirebaseVerifier) VerifyAdmin(ctx context.Context, idToken string) (string, string, []string, error) {
	if v == nil || v.verifier == nil {
		return "", "", nil, errors.New("firebase verifier not initialised")
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return "", "", nil, ErrTokenInvalid
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	token, err := v.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		switch {
		case firebaseauth.IsIDTokenExpired(err):
			return "", "", nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return "", "", nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}

	roles := rolesFromClaims(token.Claims, v.roleClaim)
	roles = appendUnique(roles, rolesFromClaims(token.Claims, rolesClaim)...)
	if flag, ok := token.Claims[adminFlagClaim].(bool); ok && flag {
		roles = appendUnique(roles, "admin")
	}
	return token.UID, claimAsString(token.Claims, emailClaim), roles, nil
}

func rolesFromClaims(claims map[string]any, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case string:
		return appendUnique(nil, v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = appendUnique(out, str)
			}
		}
		return out
	case []string:
		return appendUnique(nil, v...)
	case map[string]any:
		out := make([]string, 0, len(v))
		for role, value := range v {
			if enabled, ok := value.(bool); ok && enabled {
				out = appendUnique(out, role)
			}
		}
		return out
	default:
		return nil
	}
}

func appendUnique(dst []string, roles ...string) []string {
	for _, role := range roles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == role {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, role)
		}
	}
	return dst
}

func claimAsString(claims map[string]any, key string) string {
	if value, ok := claims[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
