package rawhttp

import (
	"context"
	"reflect"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyCorrelationID
)

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFrom reports the request ID installed by the server.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID).(string)
	return id, ok
}

// WithCorrelationID returns a context carrying the correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFrom reports the correlation ID, when one was set.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyCorrelationID).(string)
	return id, ok
}

type stateKey struct{ t reflect.Type }

// WithState returns a context carrying each value keyed by its dynamic
// type, one value per type. Handlers and extractors read them back with
// StateFrom. Install shared state once, in Server.BaseContext.
func WithState(ctx context.Context, values ...any) context.Context {
	for _, v := range values {
		ctx = context.WithValue(ctx, stateKey{reflect.TypeOf(v)}, v)
	}
	return ctx
}

// StateFrom returns the shared value of type T installed with WithState.
func StateFrom[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(stateKey{reflect.TypeOf((*T)(nil)).Elem()}).(T)
	return v, ok
}
