package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/colloquy/middleware"
	"github.com/xraph/colloquy/scope"
)

func newTestTurn() *middleware.TurnInfo {
	return &middleware.TurnInfo{
		SessionID: "sess_test123",
		Owner:     "u1",
		Tenant:    "acme",
		Turn:      3,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *middleware.TurnInfo, next middleware.Handler) (string, error) {
		order = append(order, "mw1-before")
		reply, err := next(ctx)
		order = append(order, "mw1-after")
		return reply, err
	}

	mw2 := func(ctx context.Context, _ *middleware.TurnInfo, next middleware.Handler) (string, error) {
		order = append(order, "mw2-before")
		reply, err := next(ctx)
		order = append(order, "mw2-after")
		return reply, err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) (string, error) {
		order = append(order, "handler")
		return "ok", nil
	}

	reply, err := chain(context.Background(), newTestTurn(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "ok" {
		t.Fatalf("reply = %q", reply)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) (string, error) {
		called = true
		return "reply", nil
	}

	reply, err := chain(context.Background(), newTestTurn(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
	if reply != "reply" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *middleware.TurnInfo, next middleware.Handler) (string, error) {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	_, err := chain(context.Background(), newTestTurn(), func(_ context.Context) (string, error) {
		return "", want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := middleware.Recover(logger)

	reply, err := mw(context.Background(), newTestTurn(), func(_ context.Context) (string, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if reply != "" {
		t.Fatalf("reply after panic = %q", reply)
	}
	if got := err.Error(); got != "panic in turn 3 of session sess_test123: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := middleware.Recover(logger)

	called := false
	_, err := mw(context.Background(), newTestTurn(), func(_ context.Context) (string, error) {
		called = true
		return "fine", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := middleware.Logging(logger)

	called := false
	_, err := mw(context.Background(), newTestTurn(), func(_ context.Context) (string, error) {
		called = true
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := middleware.Logging(logger)
	want := errors.New("fail")

	_, err := mw(context.Background(), newTestTurn(), func(_ context.Context) (string, error) {
		return "", want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_EnforcesDeadline(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := middleware.Timeout(logger)

	turn := newTestTurn()
	turn.Timeout = 20 * time.Millisecond

	_, err := mw(context.Background(), turn, func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsNoOp(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := middleware.Timeout(logger)

	_, err := mw(context.Background(), newTestTurn(), func(ctx context.Context) (string, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("unexpected deadline on context")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_RestoresFromTurn(t *testing.T) {
	mw := middleware.Scope()

	_, err := mw(context.Background(), newTestTurn(), func(ctx context.Context) (string, error) {
		if got := scope.Owner(ctx); got != "u1" {
			t.Errorf("Owner = %q, want %q", got, "u1")
		}
		if got := scope.Tenant(ctx); got != "acme" {
			t.Errorf("Tenant = %q, want %q", got, "acme")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Scope()
	turn := &middleware.TurnInfo{SessionID: "sess_unscoped"}

	_, err := mw(context.Background(), turn, func(ctx context.Context) (string, error) {
		if scope.Owner(ctx) != "" || scope.Tenant(ctx) != "" {
			t.Fatal("expected no scope in context for unscoped turn")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
