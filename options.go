package colloquy

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime.
// It covers lifecycle operations only. The full collaborator interface
// (session.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy session.Store as well.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// sessionStopper is an internal interface for session worker shutdown.
type sessionStopper interface {
	StopAll(ctx context.Context) error
}

// trackerCloser is an internal interface for change-tracker shutdown.
type trackerCloser interface {
	Close()
}

// Runtime is the central coordinator for session processing, hook
// dispatch, and change tracking.
//
// Create one with New() and functional options. The Runtime holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build() to wire everything together.
type Runtime struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	manager sessionStopper
	tracker trackerCloser

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Store returns the runtime's store.
func (rt *Runtime) Store() Storer { return rt.store }

// Config returns a copy of the runtime's configuration.
func (rt *Runtime) Config() Config { return rt.config }

// SetManager sets the session worker manager (called by the engine).
func (rt *Runtime) SetManager(m sessionStopper) { rt.manager = m }

// SetTracker sets the change tracker (called by the engine).
func (rt *Runtime) SetTracker(t trackerCloser) { rt.tracker = t }

// Start marks the runtime as running. Session workers are spawned on
// demand by the manager; Start exists to gate Stop and to verify wiring.
func (rt *Runtime) Start(_ context.Context) error {
	if rt.store == nil {
		return ErrNoStore
	}
	rt.started = true
	return nil
}

// Stop gracefully shuts down the runtime: session workers finish their
// current item, tracker timers are cancelled, and the store is closed.
func (rt *Runtime) Stop(ctx context.Context) error {
	if rt.manager != nil && rt.started {
		if err := rt.manager.StopAll(ctx); err != nil {
			rt.logger.Error("manager stop error", "error", err)
		}
	}
	if rt.tracker != nil {
		rt.tracker.Close()
	}
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

// WithOwnerSessionCap sets the per-owner active session cap.
func WithOwnerSessionCap(n int) Option {
	return func(rt *Runtime) error {
		rt.config.OwnerSessionCap = n
		return nil
	}
}

// WithHookBudget sets the wall-clock budget for a whole hook dispatch.
func WithHookBudget(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.HookBudget = d
		return nil
	}
}

// WithDebounceInterval sets the change tracker's push debounce window.
func WithDebounceInterval(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.DebounceInterval = d
		return nil
	}
}

// WithMaxChangesBuffer bounds the per-entity change ring buffer.
func WithMaxChangesBuffer(n int) Option {
	return func(rt *Runtime) error {
		rt.config.MaxChangesBuffer = n
		return nil
	}
}

// WithResponderTimeout sets the per-turn responder deadline.
func WithResponderTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.ResponderTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the runtime.
// The store must implement Storer at minimum; typically it will be a
// session.Store so the worker layer can delegate persistence to it.
func WithStore(s Storer) Option {
	return func(rt *Runtime) error {
		rt.store = s
		return nil
	}
}
