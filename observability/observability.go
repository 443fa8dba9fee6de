// Package observability exports a hook catalog that records runtime
// metrics through OpenTelemetry. The engine loads it alongside the
// builtin logging catalog; swap the meter via the option to point the
// instruments at a test reader or a custom provider.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/colloquy/hook"
)

// Source is the catalog source name the engine loads this package under.
const Source = "observability"

const meterName = "github.com/xraph/colloquy"

// instruments holds the counters shared by the catalog's handlers.
type instruments struct {
	sessionsStarted metric.Int64Counter
	sessionsEnded   metric.Int64Counter
	turnsCompleted  metric.Int64Counter
	persistFailures metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		ins instruments
		err error
	)
	if ins.sessionsStarted, err = meter.Int64Counter(
		"colloquy.sessions.started",
		metric.WithDescription("Sessions created"),
	); err != nil {
		return nil, err
	}
	if ins.sessionsEnded, err = meter.Int64Counter(
		"colloquy.sessions.ended",
		metric.WithDescription("Sessions closed"),
	); err != nil {
		return nil, err
	}
	if ins.turnsCompleted, err = meter.Int64Counter(
		"colloquy.turns.completed",
		metric.WithDescription("Turns that produced a recorded reply"),
	); err != nil {
		return nil, err
	}
	if ins.persistFailures, err = meter.Int64Counter(
		"colloquy.persist.failures",
		metric.WithDescription("Durable store writes that failed and were absorbed"),
	); err != nil {
		return nil, err
	}
	return &ins, nil
}

// Catalog returns the metrics handlers bound to the given meter. A nil
// meter falls back to the global provider.
func Catalog(meter metric.Meter) (hook.Catalog, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	ins, err := newInstruments(meter)
	if err != nil {
		return nil, err
	}

	return hook.Catalog{
		string(hook.SessionStart): {
			{
				Name:        "count-sessions-started",
				Priority:    200,
				Description: "counts session creations",
				Handler: func(ctx context.Context, hc *hook.Context) (*hook.Context, error) {
					ins.sessionsStarted.Add(ctx, 1, metric.WithAttributes(
						attribute.String("owner", hc.String("owner")),
					))
					return nil, nil
				},
			},
		},
		string(hook.SessionEnd): {
			{
				Name:        "count-sessions-ended",
				Priority:    200,
				Description: "counts session closes",
				Handler: func(ctx context.Context, hc *hook.Context) (*hook.Context, error) {
					ins.sessionsEnded.Add(ctx, 1, metric.WithAttributes(
						attribute.String("owner", hc.String("owner")),
					))
					return nil, nil
				},
			},
		},
		string(hook.MessageAfter): {
			{
				Name:        "count-turns",
				Priority:    200,
				Description: "counts completed turns",
				Handler: func(ctx context.Context, hc *hook.Context) (*hook.Context, error) {
					intervention, _ := hc.Data["intervention"].(bool)
					ins.turnsCompleted.Add(ctx, 1, metric.WithAttributes(
						attribute.Bool("intervention", intervention),
					))
					return nil, nil
				},
			},
		},
		string(hook.PersistAfter): {
			{
				Name:        "count-persist-failures",
				Priority:    200,
				Description: "counts absorbed store failures",
				Handler: func(ctx context.Context, hc *hook.Context) (*hook.Context, error) {
					if hc.String("error") == "" {
						return nil, nil
					}
					ins.persistFailures.Add(ctx, 1, metric.WithAttributes(
						attribute.String("record", hc.String("record")),
					))
					return nil, nil
				},
			},
		},
	}, nil
}
