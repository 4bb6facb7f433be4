package rawhttp

import (
	"context"
	"testing"
)

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "r-1")
	id, ok := RequestIDFrom(ctx)
	if !ok || id != "r-1" {
		t.Fatalf("id=%q ok=%v", id, ok)
	}
	if _, ok := RequestIDFrom(context.Background()); ok {
		t.Fatal("found request id on empty context")
	}
}

func TestCorrelationIDContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "c-1")
	id, ok := CorrelationIDFrom(ctx)
	if !ok || id != "c-1" {
		t.Fatalf("id=%q ok=%v", id, ok)
	}
}

func TestStateByType(t *testing.T) {
	type db struct{ DSN string }
	type cache struct{ Addr string }
	ctx := WithState(context.Background(), db{DSN: "postgres://x"}, cache{Addr: "127.0.0.1:6379"})

	d, ok := StateFrom[db](ctx)
	if !ok || d.DSN != "postgres://x" {
		t.Fatalf("db=%+v ok=%v", d, ok)
	}
	c, ok := StateFrom[cache](ctx)
	if !ok || c.Addr != "127.0.0.1:6379" {
		t.Fatalf("cache=%+v ok=%v", c, ok)
	}
	type missing struct{}
	if _, ok := StateFrom[missing](ctx); ok {
		t.Fatal("found state that was never installed")
	}
}

func TestStateOverwriteSameType(t *testing.T) {
	type cfg struct{ N int }
	ctx := WithState(context.Background(), cfg{N: 1})
	ctx = WithState(ctx, cfg{N: 2})
	c, ok := StateFrom[cfg](ctx)
	if !ok || c.N != 2 {
		t.Fatalf("cfg=%+v ok=%v", c, ok)
	}
}

func TestRequestContextNeverNil(t *testing.T) {
	r := &Request{}
	if r.Context() == nil {
		t.Fatal("nil context")
	}
	r2 := r.WithContext(WithRequestID(context.Background(), "x"))
	if id, _ := RequestIDFrom(r2.Context()); id != "x" {
		t.Fatalf("id=%q", id)
	}
	// The original is untouched.
	if _, ok := RequestIDFrom(r.Context()); ok {
		t.Fatal("WithContext mutated the receiver")
	}
}
