// Package builtin carries the compiled-in hook catalog: low-priority
// observational handlers that log the session lifecycle. The engine
// loads it at startup so every runtime gets baseline visibility without
// registering anything.
package builtin

import (
	"context"
	"log/slog"

	"github.com/xraph/colloquy/hook"
)

// Source is the catalog source name the engine loads this package under.
const Source = "builtin"

// Catalog returns the compiled-in handlers, logging through the given
// logger. Handlers run early (priority 100) so their log lines reflect
// the data before behavioral handlers touch it.
func Catalog(logger *slog.Logger) hook.Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	return hook.Catalog{
		string(hook.SessionStart): {
			{
				Name:        "log-session-start",
				Priority:    100,
				Description: "logs session creation",
				Handler: func(_ context.Context, hc *hook.Context) (*hook.Context, error) {
					logger.Info("session started",
						slog.String("session_id", hc.SessionID),
						slog.String("owner", hc.String("owner")),
					)
					return nil, nil
				},
			},
		},
		string(hook.SessionEnd): {
			{
				Name:        "log-session-end",
				Priority:    100,
				Description: "logs session close",
				Handler: func(_ context.Context, hc *hook.Context) (*hook.Context, error) {
					logger.Info("session ended",
						slog.String("session_id", hc.SessionID),
						slog.Any("turns", hc.Data["turns"]),
					)
					return nil, nil
				},
			},
		},
		string(hook.MessageAfter): {
			{
				Name:        "log-turn",
				Priority:    100,
				Description: "logs each completed turn",
				Handler: func(_ context.Context, hc *hook.Context) (*hook.Context, error) {
					logger.Debug("turn completed",
						slog.String("session_id", hc.SessionID),
						slog.Any("turn", hc.Data["turn"]),
						slog.String("role", hc.String("role")),
					)
					return nil, nil
				},
			},
		},
		string(hook.PersistAfter): {
			{
				Name:        "log-persist-failure",
				Priority:    100,
				Description: "logs durable store failures",
				Handler: func(_ context.Context, hc *hook.Context) (*hook.Context, error) {
					if errMsg := hc.String("error"); errMsg != "" {
						logger.Warn("persist failed",
							slog.String("session_id", hc.SessionID),
							slog.String("record", hc.String("record")),
							slog.String("error", errMsg),
						)
					}
					return nil, nil
				},
			},
		},
	}
}
