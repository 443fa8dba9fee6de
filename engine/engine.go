// Package engine wires the runtime's subsystems together: the hook
// dispatcher, change tracker, stream broker, quota manager, and session
// worker manager. Build assembles them from a Runtime's configuration
// and hands back one facade carrying the caller-facing API.
package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/backoff"
	"github.com/xraph/colloquy/hook"
	"github.com/xraph/colloquy/hook/builtin"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/middleware"
	"github.com/xraph/colloquy/observability"
	"github.com/xraph/colloquy/quota"
	"github.com/xraph/colloquy/responder"
	"github.com/xraph/colloquy/session"
	"github.com/xraph/colloquy/stream"
	"github.com/xraph/colloquy/track"
	"github.com/xraph/colloquy/worker"
)

// Engine is the assembled runtime: one facade over session processing,
// hook dispatch, change tracking, and the stream transport.
type Engine struct {
	rt      *colloquy.Runtime
	logger  *slog.Logger
	manager *worker.Manager
	hooks   *hook.Dispatcher
	tracker *track.Tracker
	broker  *stream.Broker
	quotas  *quota.Manager
}

type catalogEntry struct {
	source string
	cat    hook.Catalog
}

type buildConfig struct {
	responder    responder.Responder
	middlewares  []middleware.Middleware
	catalogs     []catalogEntry
	ownerConfigs []quota.OwnerConfig
	meter        metric.Meter
	idle         backoff.Strategy
}

// Option configures Build.
type Option func(*buildConfig)

// WithResponder sets the responder collaborator. Omitted, turns are
// answered by the echo fallback.
func WithResponder(r responder.Responder) Option {
	return func(bc *buildConfig) { bc.responder = r }
}

// WithMiddleware replaces the default turn middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(bc *buildConfig) { bc.middlewares = mws }
}

// WithHookCatalog loads an extra hook catalog at build time.
func WithHookCatalog(source string, cat hook.Catalog) Option {
	return func(bc *buildConfig) {
		bc.catalogs = append(bc.catalogs, catalogEntry{source: source, cat: cat})
	}
}

// WithOwnerConfig installs a per-owner quota override.
func WithOwnerConfig(cfg quota.OwnerConfig) Option {
	return func(bc *buildConfig) { bc.ownerConfigs = append(bc.ownerConfigs, cfg) }
}

// WithMeter points the observability catalog at a specific meter
// instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(bc *buildConfig) { bc.meter = m }
}

// WithIdleBackoff replaces the idle polling strategy derived from the
// runtime config.
func WithIdleBackoff(s backoff.Strategy) Option {
	return func(bc *buildConfig) { bc.idle = s }
}

// Build assembles an Engine from the runtime's configuration and
// registers the manager and tracker back on the runtime so Stop can
// shut them down.
func Build(rt *colloquy.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	cfg := rt.Config()

	var bc buildConfig
	for _, opt := range opts {
		opt(&bc)
	}

	// The runtime holds the store through its lifecycle interface; the
	// worker layer needs the full collaborator surface. A store that
	// implements only Storer leaves the core running in-memory.
	var store session.Store
	if s, ok := rt.Store().(session.Store); ok {
		store = s
	}

	hooks := hook.NewDispatcher(logger, hook.WithBudget(cfg.HookBudget))
	hooks.LoadCatalog(builtin.Source, builtin.Catalog(logger))
	obsCat, err := observability.Catalog(bc.meter)
	if err != nil {
		return nil, err
	}
	hooks.LoadCatalog(observability.Source, obsCat)
	for _, entry := range bc.catalogs {
		hooks.LoadCatalog(entry.source, entry.cat)
	}

	broker := stream.NewBroker(logger)
	tracker := track.NewTracker(logger,
		track.WithDebounce(cfg.DebounceInterval),
		track.WithBufferSize(cfg.MaxChangesBuffer),
		track.WithBroadcaster(broker),
	)

	quotas := quota.NewManager(quota.Config{MaxSessions: cfg.OwnerSessionCap})
	for _, oc := range bc.ownerConfigs {
		quotas.SetOwnerConfig(oc)
	}

	idle := bc.idle
	if idle == nil {
		idle = backoff.NewExponential(cfg.IdleInterval, cfg.MaxIdleInterval)
	}

	mws := bc.middlewares
	if mws == nil {
		mws = []middleware.Middleware{
			middleware.Recover(logger),
			middleware.Logging(logger),
			middleware.Scope(),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Timeout(logger),
		}
	}
	exec := worker.NewExecutor(bc.responder, middleware.Chain(mws...), cfg.ResponderTimeout, logger)

	manager := worker.NewManager(logger,
		worker.WithStore(store),
		worker.WithHooks(hooks),
		worker.WithTracker(tracker),
		worker.WithQuota(quotas),
		worker.WithExecutor(exec),
		worker.WithEvents(broker),
		worker.WithIdleBackoff(idle),
	)

	rt.SetManager(manager)
	rt.SetTracker(tracker)

	return &Engine{
		rt:      rt,
		logger:  logger,
		manager: manager,
		hooks:   hooks,
		tracker: tracker,
		broker:  broker,
		quotas:  quotas,
	}, nil
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// CreateSession creates a session for an owner and starts its worker.
func (e *Engine) CreateSession(ctx context.Context, owner, tenant, title string, cfg session.Config) (session.Snapshot, error) {
	return e.manager.CreateSession(ctx, owner, tenant, title, cfg)
}

// CloseSession drains and closes a session.
func (e *Engine) CloseSession(ctx context.Context, sessionID id.SessionID) error {
	return e.manager.CloseSession(ctx, sessionID)
}

// GetSession returns a snapshot of a live session.
func (e *Engine) GetSession(sessionID id.SessionID) (session.Snapshot, error) {
	return e.manager.Get(sessionID)
}

// ListSessions returns snapshots of all live sessions.
func (e *Engine) ListSessions() []session.Snapshot {
	return e.manager.List()
}

// Send queues user input on a session and returns its turn number.
func (e *Engine) Send(ctx context.Context, sessionID id.SessionID, content string) (int, error) {
	return e.manager.Send(ctx, sessionID, content)
}

// Intervene injects a steering message ahead of the session's queue.
func (e *Engine) Intervene(ctx context.Context, sessionID id.SessionID, content string) (int, error) {
	return e.manager.Intervene(ctx, sessionID, content)
}

// Messages returns the session transcript after sinceTurn.
func (e *Engine) Messages(ctx context.Context, sessionID id.SessionID, sinceTurn, limit int) ([]*session.Message, error) {
	return e.manager.Messages(ctx, sessionID, sinceTurn, limit)
}

// Diagnostics returns current manager load.
func (e *Engine) Diagnostics() worker.Diagnostics {
	return e.manager.Diagnostics()
}

// ──────────────────────────────────────────────────
// Change tracking and streaming
// ──────────────────────────────────────────────────

// RegisterClient registers a change-tracking client.
func (e *Engine) RegisterClient(clientID string, mode track.TransportMode) *track.Client {
	return e.tracker.RegisterClient(clientID, mode)
}

// UnregisterClient removes a change-tracking client.
func (e *Engine) UnregisterClient(clientID string) bool {
	return e.tracker.UnregisterClient(clientID)
}

// SetViewing points a client at a session for push delivery.
func (e *Engine) SetViewing(clientID, sessionID string) error {
	return e.tracker.SetViewing(clientID, sessionID)
}

// Updates returns changes for an entity after sinceVersion (pull mode).
func (e *Engine) Updates(clientID, sessionID string, sinceVersion int64) (*track.UpdateBatch, error) {
	return e.tracker.Updates(clientID, sessionID, sinceVersion)
}

// Acknowledge records the version a push client has applied.
func (e *Engine) Acknowledge(clientID string, version int64) error {
	return e.tracker.Acknowledge(clientID, version)
}

// Subscribe attaches a stream subscriber to the given topics.
func (e *Engine) Subscribe(subscriberID string, topics ...string) *stream.Subscriber {
	return e.broker.Subscribe(subscriberID, topics...)
}

// ──────────────────────────────────────────────────
// Components
// ──────────────────────────────────────────────────

// Hooks exposes the dispatcher for extension registration and
// introspection.
func (e *Engine) Hooks() *hook.Dispatcher { return e.hooks }

// Tracker exposes the change tracker.
func (e *Engine) Tracker() *track.Tracker { return e.tracker }

// Broker exposes the stream broker.
func (e *Engine) Broker() *stream.Broker { return e.broker }

// Quota exposes the per-owner limits manager.
func (e *Engine) Quota() *quota.Manager { return e.quotas }

// Close shuts the engine down directly: workers finish their current
// item, tracker timers stop, and the broker closes its subscribers.
// Runtimes started through colloquy.Runtime should call rt.Stop instead,
// which drives the same components.
func (e *Engine) Close(ctx context.Context) error {
	err := e.manager.StopAll(ctx)
	e.tracker.Close()
	e.broker.Close()
	return err
}
