// Package middleware provides composable middleware for turn execution.
// Middleware wraps responder calls synchronously and can modify
// execution (recover from panics, inject scope, log, add tracing, etc.).
package middleware

import (
	"context"
	"time"
)

// TurnInfo describes the turn being executed, decoupled from the
// session package so middleware stays dependency-light.
type TurnInfo struct {
	SessionID    string
	Owner        string
	Tenant       string
	Turn         int
	Intervention bool
	Timeout      time.Duration
}

// Handler is the terminal function that produces the turn's reply.
type Handler func(ctx context.Context) (string, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the turn being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, t *TurnInfo, next Handler) (string, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *TurnInfo, next Handler) (string, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (string, error) {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}
