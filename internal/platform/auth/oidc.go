package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/platform/requestctx"
)

// ErrSigningKeysUnavailable means Google's signing keys could not be fetched, so a token
// could not be checked either way.
var ErrSigningKeysUnavailable = errors.New("auth: signing keys unavailable")

const (
	defaultKeysTTL       = time.Hour
	minForcedRefreshGap  = time.Minute
	signingKeysFetchTime = 5 * time.Second
)

// SigningKeys caches the RS256 keys published at a JWKS URL. Keys live for the response's
// Cache-Control max-age; an unknown kid forces a refetch at most once a minute so forged
// kids cannot drive traffic at the key endpoint.
type SigningKeys struct {
	url    string
	client *http.Client
	now    func() time.Time

	refreshMu   sync.Mutex
	mu          sync.RWMutex
	keys        map[string]any
	expires     time.Time
	lastFetched time.Time
}

// NewSigningKeys returns a lazily populated key cache; client may be nil.
func NewSigningKeys(url string, client *http.Client) *SigningKeys {
	if client == nil {
		client = &http.Client{Timeout: signingKeysFetchTime}
	}
	return &SigningKeys{url: url, client: client, now: time.Now}
}

func (k *SigningKeys) lookup(ctx context.Context, kid string) (any, error) {
	if key, fresh, ok := k.cached(kid); ok && fresh {
		return key, nil
	}
	if err := k.refresh(ctx, kid); err != nil {
		// A stale key still verifies while Google's endpoint is unreachable.
		if key, _, ok := k.cached(kid); ok {
			return key, nil
		}
		return nil, err
	}
	if key, _, ok := k.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("auth: unknown signing key %q", kid)
}

func (k *SigningKeys) cached(kid string) (key any, fresh bool, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok = k.keys[kid]
	return key, k.now().Before(k.expires), ok
}

func (k *SigningKeys) refresh(ctx context.Context, kid string) error {
	k.refreshMu.Lock()
	defer k.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	if _, fresh, ok := k.cached(kid); ok && fresh {
		return nil
	}
	now := k.now()
	k.mu.RLock()
	throttled := len(k.keys) > 0 && now.Before(k.expires) && now.Sub(k.lastFetched) < minForcedRefreshGap
	k.mu.RUnlock()
	if throttled {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, signingKeysFetchTime)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningKeysUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningKeysUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrSigningKeysUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrSigningKeysUnavailable, err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk.Key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrSigningKeysUnavailable)
	}

	now = k.now()
	k.mu.Lock()
	k.keys = keys
	k.expires = now.Add(maxAge(resp.Header.Get("Cache-Control")))
	k.lastFetched = now
	k.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		if !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultKeysTTL
}

// SchedulerAuth admits requests carrying a Google-signed OIDC token minted for this
// service's audience. Cloud Scheduler attaches such a token to the reconcile and sweep
// calls on /internal.
type SchedulerAuth struct {
	keys            *SigningKeys
	audience        string
	issuers         map[string]struct{}
	serviceAccounts map[string]struct{}
	logger          *zap.Logger
}

// SchedulerAuthOption customises SchedulerAuth.
type SchedulerAuthOption func(*SchedulerAuth)

// WithSchedulerIssuers replaces the accepted token issuers.
func WithSchedulerIssuers(issuers []string) SchedulerAuthOption {
	return func(a *SchedulerAuth) {
		a.issuers = toSet(issuers)
	}
}

// WithSchedulerServiceAccounts restricts callers to the listed service account emails.
// An empty list admits any account holding a token for the audience.
func WithSchedulerServiceAccounts(emails []string) SchedulerAuthOption {
	return func(a *SchedulerAuth) {
		a.serviceAccounts = toSet(emails)
	}
}

// WithSchedulerLogger sets the logger used for rejected tokens.
func WithSchedulerLogger(logger *zap.Logger) SchedulerAuthOption {
	return func(a *SchedulerAuth) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewSchedulerAuth builds the verifier. Google's two issuer spellings are accepted unless
// WithSchedulerIssuers says otherwise.
func NewSchedulerAuth(keys *SigningKeys, audience string, opts ...SchedulerAuthOption) *SchedulerAuth {
	a := &SchedulerAuth{
		keys:     keys,
		audience: strings.TrimSpace(audience),
		issuers:  toSet([]string{"https://accounts.google.com", "accounts.google.com"}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

type schedulerClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Verify checks signature, expiry, issuer, audience and, when configured, the caller's
// service account. The returned error is ErrSigningKeysUnavailable when keys could not be
// loaded; any other error means the token is not acceptable.
func (a *SchedulerAuth) Verify(ctx context.Context, raw string) (requestctx.Actor, error) {
	claims := &schedulerClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return a.keys.lookup(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrSigningKeysUnavailable) {
			return requestctx.Actor{}, ErrSigningKeysUnavailable
		}
		return requestctx.Actor{}, err
	}
	if _, ok := a.issuers[strings.ToLower(claims.Issuer)]; !ok {
		return requestctx.Actor{}, fmt.Errorf("auth: issuer %q not accepted", claims.Issuer)
	}
	if !claims.VerifyAudience(a.audience, true) {
		return requestctx.Actor{}, errors.New("auth: token minted for another audience")
	}
	if len(a.serviceAccounts) > 0 {
		if _, ok := a.serviceAccounts[strings.ToLower(claims.Email)]; !ok || !claims.EmailVerified {
			return requestctx.Actor{}, fmt.Errorf("auth: service account %q not allowed", claims.Email)
		}
	}
	id := claims.Email
	if id == "" {
		id = claims.Subject
	}
	return requestctx.Actor{Kind: requestctx.ActorService, ID: id}, nil
}

// Middleware rejects /internal calls without an acceptable token. A missing audience fails
// closed with 503 so a misconfigured deployment never runs sweeps for anonymous callers.
func (a *SchedulerAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if a == nil || a.keys == nil || a.audience == "" {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, httpx.CodeVerificationUnavailable, "scheduler authentication not configured")
				return
			}
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, httpx.CodeUnauthenticated, "bearer token required")
				return
			}
			actor, err := a.Verify(ctx, token)
			switch {
			case errors.Is(err, ErrSigningKeysUnavailable):
				a.logger.Warn("scheduler token check unavailable", zap.Error(err))
				respondAuthError(ctx, w, http.StatusServiceUnavailable, httpx.CodeVerificationUnavailable, "token verification unavailable")
				return
			case err != nil:
				a.logger.Info("scheduler token rejected", zap.Error(err))
				respondAuthError(ctx, w, http.StatusUnauthorized, httpx.CodeInvalidToken, "token rejected")
				return
			}
			ctx = requestctx.WithActor(ctx, actor)
			requestctx.Annotate(ctx, "actor", actor.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
			set[value] = struct{}{}
		}
	}
	return set
}
