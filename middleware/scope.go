package middleware

import (
	"context"

	"github.com/xraph/colloquy/scope"
)

// Scope returns middleware that restores the session's owner and
// tenant into the context, so responders and hooks see the same
// identity as the caller who created the session.
func Scope() Middleware {
	return func(ctx context.Context, t *TurnInfo, next Handler) (string, error) {
		ctx = scope.Restore(ctx, t.Owner, t.Tenant)
		return next(ctx)
	}
}
