package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *TurnInfo, next Handler) (reply string, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("turn handler panicked",
					slog.String("session_id", t.SessionID),
					slog.Int("turn", t.Turn),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				reply = ""
				retErr = fmt.Errorf("panic in turn %d of session %s: %v", t.Turn, t.SessionID, r)
			}
		}()
		return next(ctx)
	}
}
