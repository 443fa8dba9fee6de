package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces a per-turn responder
// deadline. If the turn has a non-zero Timeout, a context.WithTimeout
// wraps the handler call; when the deadline is exceeded the context is
// cancelled and the responder should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *TurnInfo, next Handler) (string, error) {
		if t.Timeout > 0 {
			logger.Debug("turn timeout set",
				slog.String("session_id", t.SessionID),
				slog.Int("turn", t.Turn),
				slog.Duration("timeout", t.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
