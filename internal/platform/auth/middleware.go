package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/platform/requestctx"
)

// AdminSessionCookie is the cookie the console stores its session token in.
const AdminSessionCookie = "admin_session"

// SessionValidator checks a console session token.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (domain.AdminSession, error)
}

// AdminGuard protects console routes with a validated admin session.
type AdminGuard struct {
	validator   SessionValidator
	cookieName  string
	unavailable error
}

// GuardOption customises AdminGuard.
type GuardOption func(*AdminGuard)

// WithSessionCookie overrides the cookie consulted when no bearer token is sent.
func WithSessionCookie(name string) GuardOption {
	return func(g *AdminGuard) {
		if name = strings.TrimSpace(name); name != "" {
			g.cookieName = name
		}
	}
}

// WithUnavailableError names the validator error that means "cannot decide" and maps to 503.
func WithUnavailableError(err error) GuardOption {
	return func(g *AdminGuard) {
		g.unavailable = err
	}
}

// NewAdminGuard constructs the guard.
func NewAdminGuard(validator SessionValidator, opts ...GuardOption) *AdminGuard {
	g := &AdminGuard{validator: validator, cookieName: AdminSessionCookie}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// RequireAdmin rejects requests without a valid session and stores the session on the context.
func (g *AdminGuard) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if g == nil || g.validator == nil {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, httpx.CodeAuthUnavailable, "admin authentication unavailable")
				return
			}
			token := SessionToken(r, g.cookieName)
			if token == "" {
				respondAuthError(ctx, w, http.StatusUnauthorized, httpx.CodeUnauthenticated, "admin session required")
				return
			}

			session, err := g.validator.Validate(ctx, token)
			if err != nil {
				if g.unavailable != nil && errors.Is(err, g.unavailable) {
					requestctx.Logger(ctx).Warn("admin session check unavailable", zap.Error(err))
					respondAuthError(ctx, w, http.StatusServiceUnavailable, httpx.CodeAuthUnavailable, "admin authentication unavailable")
					return
				}
				respondAuthError(ctx, w, http.StatusUnauthorized, httpx.CodeUnauthenticated, "admin session invalid or expired")
				return
			}

			ctx = WithAdminSession(ctx, session)
			actor := requestctx.Actor{Kind: requestctx.ActorOperator, ID: session.AdminID}
			ctx = requestctx.WithActor(ctx, actor)
			requestctx.Annotate(ctx, "actor", actor.String())
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("admin_id", session.AdminID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type adminSessionContextKey struct{}

// WithAdminSession attaches the validated session to the context.
func WithAdminSession(ctx context.Context, session domain.AdminSession) context.Context {
	return context.WithValue(ctx, adminSessionContextKey{}, session)
}

// AdminSessionFromContext returns the session stored by RequireAdmin.
func AdminSessionFromContext(ctx context.Context) (domain.AdminSession, bool) {
	session, ok := ctx.Value(adminSessionContextKey{}).(domain.AdminSession)
	return session, ok
}

// SessionToken reads the bearer token, falling back to the named cookie.
func SessionToken(r *http.Request, cookieName string) string {
	if r == nil {
		return ""
	}
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if cookieName == "" {
		cookieName = AdminSessionCookie
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code httpx.Code, message string) {
	httpx.Write(ctx, w, httpx.New(status, code, message))
}
