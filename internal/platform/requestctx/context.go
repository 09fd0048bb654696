// Package requestctx carries per-request values shared by the HTTP middleware stack and the
// services: the scoped logger, trace identifiers, the acting principal and log annotations.
package requestctx

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	actorKey
	annotationsKey
)

var noopLogger = zap.NewNop()

// WithLogger stores logger on ctx; nil stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(orBackground(ctx), loggerKey, logger)
}

// Logger returns the request logger, or the shared no-op logger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the sentinel Logger returns for contexts without a logger.
func NoopLogger() *zap.Logger { return noopLogger }

// Trace identifies the server span handling the request.
type Trace struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithTrace(ctx context.Context, trace Trace) context.Context {
	return context.WithValue(orBackground(ctx), traceKey, trace)
}

func TraceFrom(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	trace, ok := ctx.Value(traceKey).(Trace)
	return trace, ok
}

// TraceID returns the trace identifier or "".
func TraceID(ctx context.Context) string {
	trace, _ := TraceFrom(ctx)
	return trace.TraceID
}

// ActorKind distinguishes back-office operators from internal callers such as the scheduler.
type ActorKind string

const (
	ActorOperator ActorKind = "operator"
	ActorService  ActorKind = "service"
)

// Actor is the authenticated principal behind a request. Storefront shoppers are anonymous
// and carry the zero Actor.
type Actor struct {
	Kind ActorKind
	ID   string
}

// String renders "kind:id", the form used for idempotency scoping and audit fields.
func (a Actor) String() string {
	if a.ID == "" {
		return ""
	}
	if a.Kind == "" {
		return a.ID
	}
	return string(a.Kind) + ":" + a.ID
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(orBackground(ctx), actorKey, actor)
}

// ActorFrom returns the actor stored by the auth middleware, or the zero Actor.
func ActorFrom(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	actor, _ := ctx.Value(actorKey).(Actor)
	return actor
}

// Annotations collects key/value pairs discovered while a request is handled (the order id,
// the payment method) so the access log written by an outer middleware can include them.
type Annotations struct {
	mu     sync.Mutex
	values map[string]string
}

// WithAnnotations installs an empty annotation set and returns it to the caller that will
// read it once the handler chain returns.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{values: make(map[string]string)}
	return context.WithValue(orBackground(ctx), annotationsKey, a), a
}

// Annotate records key=value on the request's annotation set. It is a no-op when the
// context has none or value is empty; later values for the same key win.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	a, ok := ctx.Value(annotationsKey).(*Annotations)
	if !ok || a == nil {
		return
	}
	a.mu.Lock()
	a.values[key] = value
	a.mu.Unlock()
}

// Each visits the annotations in key order.
func (a *Annotations) Each(fn func(key, value string)) {
	if a == nil {
		return
	}
	a.mu.Lock()
	keys := make([]string, 0, len(a.values))
	for key := range a.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([][2]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]string{key, a.values[key]})
	}
	a.mu.Unlock()
	for _, pair := range pairs {
		fn(pair[0], pair[1])
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
