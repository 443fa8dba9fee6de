package hook

import (
	"log/slog"
)

// Spec describes one handler inside a Catalog. Priority zero means
// DefaultPriority.
type Spec struct {
	Name        string
	Priority    int
	Behavioral  bool
	Description string
	Handler     Func
}

// Catalog is a described set of handlers organized by hook-point name.
// It is the compiled-in replacement for on-disk handler discovery:
// packages export a Catalog and the engine loads it at startup under a
// source name.
type Catalog map[string][]Spec

// LoadCatalog bulk-registers a catalog under a source name. Sources
// already loaded are skipped on reload. Specs naming an unknown hook
// point, carrying an empty name, or missing a handler are skipped with
// a warning; a malformed entry is never fatal to the load pass.
// Returns the number of handlers registered.
func (d *Dispatcher) LoadCatalog(source string, cat Catalog) int {
	d.mu.Lock()
	if d.sources[source] {
		d.mu.Unlock()
		d.logger.Debug("hook catalog already loaded, skipping",
			slog.String("source", source),
		)
		return 0
	}
	d.sources[source] = true
	d.mu.Unlock()

	registered := 0
	for pointName, specs := range cat {
		point := Point(pointName)
		if !Known(point) {
			d.logger.Warn("hook catalog names unknown point, skipping",
				slog.String("source", source),
				slog.String("point", pointName),
			)
			continue
		}

		for _, spec := range specs {
			if spec.Name == "" || spec.Handler == nil {
				d.logger.Warn("hook catalog entry malformed, skipping",
					slog.String("source", source),
					slog.String("point", pointName),
					slog.String("name", spec.Name),
				)
				continue
			}

			opts := []RegOption{WithSource(source)}
			if spec.Priority != 0 {
				opts = append(opts, WithPriority(spec.Priority))
			}
			if spec.Behavioral {
				opts = append(opts, Behavioral())
			}
			if spec.Description != "" {
				opts = append(opts, WithDescription(spec.Description))
			}

			if _, err := d.Register(point, spec.Name, spec.Handler, opts...); err != nil {
				d.logger.Warn("hook catalog entry rejected, skipping",
					slog.String("source", source),
					slog.String("point", pointName),
					slog.String("name", spec.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			registered++
		}
	}

	d.logger.Info("hook catalog loaded",
		slog.String("source", source),
		slog.Int("handlers", registered),
	)
	return registered
}

// SourceLoaded reports whether a catalog source has been loaded.
func (d *Dispatcher) SourceLoaded(source string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sources[source]
}
