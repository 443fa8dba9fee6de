package hook

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/xraph/colloquy"
)

// Func is the handler contract: it receives the current chain context
// and returns either nil (observational, or no change) or a replacement
// context. The replacement is honored only if the handler is registered
// as behavioral and the returned context is structurally valid.
type Func func(ctx context.Context, hc *Context) (*Context, error)

// Registration describes one handler installed at a hook point.
// Registrations are immutable except for the enabled flag.
type Registration struct {
	Name        string `json:"name"`
	Point       Point  `json:"point"`
	Priority    int    `json:"priority"`
	Behavioral  bool   `json:"behavioral"`
	Enabled     bool   `json:"enabled"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`

	fn  Func
	seq uint64 // registration order, ties broken ascending
}

// DefaultPriority is used when no priority option is given.
// Lower priorities run earlier.
const DefaultPriority = 500

// DefaultBudget is the wall-clock budget for a whole dispatch call.
const DefaultBudget = 5 * time.Second

// RegOption configures a Registration.
type RegOption func(*Registration)

// WithPriority sets the handler priority (lower runs earlier).
func WithPriority(p int) RegOption {
	return func(r *Registration) { r.Priority = p }
}

// Behavioral marks the handler's return value as honored: a valid
// returned context replaces the chain context.
func Behavioral() RegOption {
	return func(r *Registration) { r.Behavioral = true }
}

// WithSource records where the handler came from (catalog source name).
func WithSource(source string) RegOption {
	return func(r *Registration) { r.Source = source }
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) RegOption {
	return func(r *Registration) { r.Description = desc }
}

// Dispatcher maintains the hook point catalog and, per point, a
// priority-ordered handler list. Dispatch executes a point's chain
// strictly sequentially, isolating handler failures and enforcing a
// wall-clock budget across the whole chain. It is safe for concurrent
// use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Point][]*Registration
	sources  map[string]bool
	seq      uint64
	budget   time.Duration
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBudget sets the wall-clock budget for one dispatch call.
func WithBudget(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.budget = d }
}

// NewDispatcher creates a Dispatcher with the given logger.
func NewDispatcher(logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers: make(map[Point][]*Registration),
		sources:  make(map[string]bool),
		budget:   DefaultBudget,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs a handler at a hook point. Handler names are unique
// per point; the list is kept sorted by (priority ascending,
// registration order).
func (d *Dispatcher) Register(point Point, name string, fn Func, opts ...RegOption) (*Registration, error) {
	if !Known(point) {
		return nil, fmt.Errorf("hook: register %q at %q: %w", name, point, colloquy.ErrUnknownPoint)
	}
	if name == "" {
		return nil, fmt.Errorf("hook: register at %q: empty handler name", point)
	}
	if fn == nil {
		return nil, fmt.Errorf("hook: register %q at %q: nil handler", name, point)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.handlers[point] {
		if r.Name == name {
			return nil, fmt.Errorf("hook: register %q at %q: %w", name, point, colloquy.ErrDuplicateHandler)
		}
	}

	d.seq++
	reg := &Registration{
		Name:     name,
		Point:    point,
		Priority: DefaultPriority,
		Enabled:  true,
		fn:       fn,
		seq:      d.seq,
	}
	for _, opt := range opts {
		opt(reg)
	}

	list := append(d.handlers[point], reg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].seq < list[j].seq
	})
	d.handlers[point] = list

	return reg, nil
}

// Unregister removes a handler by name. Returns whether it was found.
func (d *Dispatcher) Unregister(point Point, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[point]
	for i, r := range list {
		if r.Name == name {
			d.handlers[point] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a handler without removing it. Returns whether the
// handler was found.
func (d *Dispatcher) SetEnabled(point Point, name string, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.handlers[point] {
		if r.Name == name {
			r.Enabled = enabled
			return true
		}
	}
	return false
}

// Dispatch runs the point's handler chain over a copy of the input
// context and returns the resulting context. Disabled handlers are
// skipped; once the wall-clock budget for the whole call is exhausted,
// remaining handlers are skipped and the best-effort context is
// returned. A handler error or panic is logged and the chain continues.
// Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, point Point, hc *Context) *Context {
	if hc == nil {
		hc = NewContext(point, "", nil)
	}
	current := hc.Clone()

	d.mu.RLock()
	chain := make([]*Registration, len(d.handlers[point]))
	copy(chain, d.handlers[point])
	budget := d.budget
	d.mu.RUnlock()

	start := time.Now()
	for _, reg := range chain {
		if !reg.Enabled {
			continue
		}
		if budget > 0 && time.Since(start) > budget {
			d.logger.Warn("hook dispatch budget exhausted, skipping remaining handlers",
				slog.String("point", string(point)),
				slog.String("next_handler", reg.Name),
				slog.Duration("budget", budget),
			)
			break
		}

		result, err := d.invoke(ctx, reg, current)
		if err != nil {
			d.logger.Warn("hook handler error",
				slog.String("point", string(point)),
				slog.String("handler", reg.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if reg.Behavioral && result.Valid(point) {
			current = result
		}
	}

	return current
}

// DispatchAsync is the fire-and-forget variant for observational call
// sites that do not need the resulting context.
func (d *Dispatcher) DispatchAsync(ctx context.Context, point Point, hc *Context) {
	go d.Dispatch(ctx, point, hc)
}

// invoke calls one handler, converting panics to errors so a failing
// handler can never take down the dispatching worker.
func (d *Dispatcher) invoke(ctx context.Context, reg *Registration, hc *Context) (result *Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("hook handler panicked",
				slog.String("point", string(reg.Point)),
				slog.String("handler", reg.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("panic in handler %s: %v", reg.Name, r)
		}
	}()
	return reg.fn(ctx, hc)
}

// Handlers returns copies of the registrations at a point, in execution
// order.
func (d *Dispatcher) Handlers(point Point) []Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Registration, 0, len(d.handlers[point]))
	for _, r := range d.handlers[point] {
		out = append(out, *r)
	}
	return out
}

// AllHandlers returns every registration grouped by point.
func (d *Dispatcher) AllHandlers() map[Point][]Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[Point][]Registration, len(d.handlers))
	for p, list := range d.handlers {
		regs := make([]Registration, 0, len(list))
		for _, r := range list {
			regs = append(regs, *r)
		}
		out[p] = regs
	}
	return out
}

// Count returns the number of handlers at a point.
func (d *Dispatcher) Count(point Point) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[point])
}

// TotalCount returns the number of handlers across all points.
func (d *Dispatcher) TotalCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, list := range d.handlers {
		n += len(list)
	}
	return n
}
