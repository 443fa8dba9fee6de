package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs turn start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *TurnInfo, next Handler) (string, error) {
		logger.Info("turn started",
			slog.String("session_id", t.SessionID),
			slog.Int("turn", t.Turn),
			slog.Bool("intervention", t.Intervention),
		)

		start := time.Now()
		reply, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("turn failed",
				slog.String("session_id", t.SessionID),
				slog.Int("turn", t.Turn),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("turn completed",
				slog.String("session_id", t.SessionID),
				slog.Int("turn", t.Turn),
				slog.Duration("elapsed", elapsed),
			)
		}

		return reply, err
	}
}
