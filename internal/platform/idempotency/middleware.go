package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/orders-api/internal/platform/httpx"
	"github.com/storefront/orders-api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
	maxFingerprinted  = 1 << 20
)

type options struct {
	header string
	ttl    time.Duration
	lease  time.Duration
	scope  func(*http.Request) string
	logger *zap.Logger
	now    func() time.Time
	lax    bool
}

// Option configures Middleware.
type Option func(*options)

// WithHeader names the request header that carries the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long a completed response is replayed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLease sets how long an unfinished request holds its key.
func WithLease(lease time.Duration) Option {
	return func(o *options) {
		if lease > 0 {
			o.lease = lease
		}
	}
}

// WithScope binds keys to the caller. Shoppers are anonymous, so order placement scopes by
// cart; the default is the authenticated actor.
func WithScope(fn func(*http.Request) string) Option {
	return func(o *options) {
		if fn != nil {
			o.scope = fn
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOptionalKey lets requests without a key through unguarded.
func WithOptionalKey() Option {
	return func(o *options) { o.lax = true }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Middleware guards unsafe methods with an Idempotency-Key. A retry with the same key and body
// gets the first response back; a different body under the same key is rejected; a retry that
// races the first request gets 409 until the first finishes or its lease runs out. Server
// errors are not stored, so the client can retry them.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		lease:  DefaultLease,
		scope:  func(r *http.Request) string { return requestctx.ActorFrom(r.Context()).String() },
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !unsafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(o.header))
			switch {
			case key == "" && o.lax:
				next.ServeHTTP(w, r)
				return
			case key == "":
				httpx.Write(ctx, w, httpx.Newf(http.StatusBadRequest, httpx.CodeIdempotencyKeyRequired, "%s header is required", o.header))
				return
			case !validKey(key):
				httpx.Write(ctx, w, httpx.Newf(http.StatusBadRequest, httpx.CodeInvalidRequest, "%s must be printable ASCII up to %d characters", o.header, maxKeyLength))
				return
			}

			bodyHash, err := hashBody(r)
			if err != nil {
				httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "request body could not be read"))
				return
			}
			scope := strings.TrimSpace(o.scope(r))
			storeKey := storageKey(scope, key)
			fingerprint := r.Method + " " + r.URL.Path + " " + bodyHash

			claim, err := store.Claim(ctx, storeKey, fingerprint, o.lease, o.now().UTC())
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				requestctx.Annotate(ctx, "idempotency", "mismatch")
				httpx.Write(ctx, w, httpx.New(http.StatusUnprocessableEntity, httpx.CodeIdempotencyKeyConflict, "idempotency key was already used for a different request"))
				return
			case err != nil:
				o.logger.Error("idempotency claim failed", zap.Error(err))
				httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeIdempotencyStore, "idempotency keys are unavailable").WithRetryAfter(time.Second))
				return
			}

			switch claim.Outcome {
			case Replay:
				requestctx.Annotate(ctx, "idempotency", "replay")
				replay(w, claim.Stored)
				return
			case InFlight:
				requestctx.Annotate(ctx, "idempotency", "in_flight")
				httpx.Write(ctx, w, httpx.New(http.StatusConflict, httpx.CodeIdempotencyInProgress, "a request with this idempotency key is still being processed").WithRetryAfter(time.Second))
				return
			}

			rec := &bufferedResponse{header: make(http.Header)}
			next.ServeHTTP(rec, r)
			o.settle(ctx, store, storeKey, fingerprint, rec)
			if err := rec.flush(w); err != nil {
				o.logger.Warn("idempotent response write failed", zap.Error(err))
			}
		})
	}
}

// settle stores the handler's response, or releases the key when it should not be replayed.
// The handler has already run either way, so failures here are logged and the response goes
// out regardless.
func (o options) settle(ctx context.Context, store Store, key, fingerprint string, rec *bufferedResponse) {
	// The claim outlives a cancelled client connection.
	ctx = context.WithoutCancel(ctx)
	if rec.statusCode() >= http.StatusInternalServerError {
		if err := store.Abandon(ctx, key, fingerprint); err != nil {
			o.logger.Warn("idempotency release failed", zap.Error(err))
		}
		return
	}
	stored := StoredResponse{
		Status: rec.statusCode(),
		Header: replayableHeader(rec.header),
		Body:   append([]byte(nil), rec.body.Bytes()...),
	}
	err := store.Complete(ctx, key, fingerprint, stored, o.ttl, o.now().UTC())
	switch {
	case errors.Is(err, ErrClaimLost):
		o.logger.Warn("idempotency claim expired before the response was stored")
	case err != nil:
		o.logger.Error("idempotency store failed", zap.Error(err))
		if err := store.Abandon(ctx, key, fingerprint); err != nil {
			o.logger.Warn("idempotency release failed", zap.Error(err))
		}
	}
}

func unsafeMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func validKey(key string) bool {
	if len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return false
		}
	}
	return true
}

// hashBody digests the body and leaves it readable for the handler. Bodies beyond the
// fingerprint limit are hashed over the prefix; handlers enforce their own size limits.
func hashBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	prefix, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprinted))
	if err != nil {
		return "", err
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), r.Body), r.Body}
	sum := sha256.Sum256(prefix)
	return hex.EncodeToString(sum[:]), nil
}

func replay(w http.ResponseWriter, stored StoredResponse) {
	header := w.Header()
	for name, values := range stored.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")
	status := stored.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(stored.Body)
}

// bufferedResponse holds the handler's response until it has been stored.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flush(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
