package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/backoff"
	"github.com/xraph/colloquy/hook"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/quota"
	"github.com/xraph/colloquy/session"
	"github.com/xraph/colloquy/track"
)

// EventSink receives session lifecycle notifications for the stream
// transport. The broker satisfies it; a nil sink disables publication.
type EventSink interface {
	PublishSessionCreated(sessionID, owner string)
	PublishSessionClosed(sessionID string, turns int)
}

// managed pairs a session with its running worker.
type managed struct {
	sess   *session.Session
	worker *Worker
}

// Manager owns every live session and its worker goroutine. It enforces
// the per-owner concurrency cap on creation and the send rate limit on
// input, and routes all caller-facing operations to the right session.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*managed

	quota   *quota.Manager
	hooks   *hook.Dispatcher
	tracker *track.Tracker
	store   session.Store
	exec    *Executor
	events  EventSink
	idle    backoff.Strategy
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the durable store collaborator.
func WithStore(s session.Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithHooks sets the hook dispatcher.
func WithHooks(d *hook.Dispatcher) ManagerOption {
	return func(m *Manager) { m.hooks = d }
}

// WithTracker sets the change tracker.
func WithTracker(t *track.Tracker) ManagerOption {
	return func(m *Manager) { m.tracker = t }
}

// WithQuota sets the per-owner limits manager.
func WithQuota(q *quota.Manager) ManagerOption {
	return func(m *Manager) { m.quota = q }
}

// WithExecutor sets the turn executor.
func WithExecutor(e *Executor) ManagerOption {
	return func(m *Manager) { m.exec = e }
}

// WithEvents sets the session lifecycle event sink.
func WithEvents(sink EventSink) ManagerOption {
	return func(m *Manager) { m.events = sink }
}

// WithIdleBackoff sets the worker idle polling strategy.
func WithIdleBackoff(s backoff.Strategy) ManagerOption {
	return func(m *Manager) { m.idle = s }
}

// NewManager creates a Manager. Omitted collaborators default to safe
// no-ops: no store, no hooks, echo responder, unlimited quota.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*managed),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.quota == nil {
		m.quota = quota.NewManager(quota.Config{})
	}
	if m.exec == nil {
		m.exec = NewExecutor(nil, nil, 0, logger)
	}
	return m
}

// ──────────────────────────────────────────────────
// Session lifecycle
// ──────────────────────────────────────────────────

// CreateSession creates a session for an owner, enforcing the owner's
// concurrency cap, and spawns its worker. The cap check and slot claim
// are atomic: concurrent creates at the cap boundary cannot both pass.
func (m *Manager) CreateSession(ctx context.Context, owner, tenant, title string, cfg session.Config) (session.Snapshot, error) {
	ok, active := m.quota.AcquireSession(owner)
	if !ok {
		return session.Snapshot{}, &session.OverCapacityError{
			Owner:  owner,
			Active: active,
			Cap:    m.quota.Cap(owner),
		}
	}

	sess := session.New(owner, tenant, title, cfg)
	w := newWorker(sess, m.exec, m.hooks, m.tracker, m.store, m.idle, m.logger)

	m.mu.Lock()
	m.sessions[sess.ID.String()] = &managed{sess: sess, worker: w}
	m.mu.Unlock()

	snap := sess.Snapshot()
	if m.store != nil {
		if err := m.store.InsertSession(ctx, &snap); err != nil {
			m.logger.Warn("persist session failed",
				slog.String("session_id", snap.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	m.markDirty(sess, changeStatus, map[string]any{"status": string(snap.Status)})
	if m.hooks != nil {
		m.hooks.Dispatch(ctx, hook.SessionStart, hook.NewContext(hook.SessionStart, snap.ID.String(), map[string]any{
			"owner":  owner,
			"tenant": tenant,
		}))
	}
	if m.events != nil {
		m.events.PublishSessionCreated(snap.ID.String(), owner)
	}

	w.start()
	m.logger.Info("session created",
		slog.String("session_id", snap.ID.String()),
		slog.String("owner", owner),
		slog.Int("owner_active", active),
	)
	return snap, nil
}

// CloseSession stops the session's worker after its current item,
// transitions the session to completed, and releases the owner's slot.
func (m *Manager) CloseSession(ctx context.Context, sessionID id.SessionID) error {
	key := sessionID.String()

	m.mu.Lock()
	mg, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return colloquy.ErrSessionNotFound
	}
	delete(m.sessions, key)
	m.mu.Unlock()

	mg.worker.stop()
	select {
	case <-mg.worker.done():
	case <-ctx.Done():
		m.logger.Warn("close timed out waiting for worker",
			slog.String("session_id", key),
		)
	}

	mg.sess.SetStatus(session.StatusCompleted)
	if m.store != nil {
		if err := m.store.UpdateSessionStatus(ctx, sessionID, session.StatusCompleted); err != nil {
			m.logger.Warn("persist session status failed",
				slog.String("session_id", key),
				slog.String("error", err.Error()),
			)
		}
	}

	turns := mg.sess.Turn()
	m.markDirty(mg.sess, changeStatus, map[string]any{"status": string(session.StatusCompleted)})
	if m.hooks != nil {
		m.hooks.Dispatch(ctx, hook.SessionEnd, hook.NewContext(hook.SessionEnd, key, map[string]any{
			"owner": mg.sess.Owner,
			"turns": turns,
		}))
	}
	if m.events != nil {
		m.events.PublishSessionClosed(key, turns)
	}

	m.quota.ReleaseSession(mg.sess.Owner)
	m.logger.Info("session closed",
		slog.String("session_id", key),
		slog.Int("turns", turns),
	)
	return nil
}

// Get returns a point-in-time snapshot of a live session.
func (m *Manager) Get(sessionID id.SessionID) (session.Snapshot, error) {
	m.mu.RLock()
	mg, ok := m.sessions[sessionID.String()]
	m.mu.RUnlock()
	if !ok {
		return session.Snapshot{}, colloquy.ErrSessionNotFound
	}
	return mg.sess.Snapshot(), nil
}

// List returns snapshots of all live sessions.
func (m *Manager) List() []session.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]session.Snapshot, 0, len(m.sessions))
	for _, mg := range m.sessions {
		out = append(out, mg.sess.Snapshot())
	}
	return out
}

// ──────────────────────────────────────────────────
// Input
// ──────────────────────────────────────────────────

// Send records user input as a new turn and queues it for the session's
// worker. Enforces the owner's send rate limit.
func (m *Manager) Send(ctx context.Context, sessionID id.SessionID, content string) (int, error) {
	m.mu.RLock()
	mg, ok := m.sessions[sessionID.String()]
	m.mu.RUnlock()
	if !ok {
		return 0, colloquy.ErrSessionNotFound
	}

	if !m.quota.AllowSend(mg.sess.Owner) {
		return 0, fmt.Errorf("send to %s: %w", sessionID, colloquy.ErrRateLimited)
	}

	msg, err := mg.sess.EnqueueInput(session.RoleUser, content)
	if err != nil {
		return 0, err
	}

	m.persistMessage(ctx, mg.sess, msg)
	m.markDirty(mg.sess, changeInput, map[string]any{"turn": msg.Turn})
	return msg.Turn, nil
}

// Intervene injects a steering message ahead of the session's queue.
// The session holds at most one unread intervention; a second call
// before the worker consumes the first overwrites it.
func (m *Manager) Intervene(ctx context.Context, sessionID id.SessionID, content string) (int, error) {
	m.mu.RLock()
	mg, ok := m.sessions[sessionID.String()]
	m.mu.RUnlock()
	if !ok {
		return 0, colloquy.ErrSessionNotFound
	}

	msg := mg.sess.Intervene(content)
	m.persistMessage(ctx, mg.sess, msg)
	return msg.Turn, nil
}

// Messages returns the session transcript with turn greater than
// sinceTurn. Served from the durable store when one is wired, from the
// in-memory transcript otherwise.
func (m *Manager) Messages(ctx context.Context, sessionID id.SessionID, sinceTurn, limit int) ([]*session.Message, error) {
	if m.store != nil {
		return m.store.ListMessages(ctx, sessionID, sinceTurn, limit)
	}

	m.mu.RLock()
	mg, ok := m.sessions[sessionID.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, colloquy.ErrSessionNotFound
	}

	var out []*session.Message
	for _, msg := range mg.sess.History() {
		if msg.Turn <= sinceTurn {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Diagnostics and shutdown
// ──────────────────────────────────────────────────

// Diagnostics is a point-in-time view of manager load.
type Diagnostics struct {
	TotalSessions      int `json:"total_sessions"`
	ActiveSessions     int `json:"active_sessions"`
	ProcessingSessions int `json:"processing_sessions"`
	TotalQueued        int `json:"total_queued"`
}

// Diagnostics returns current manager load.
func (m *Manager) Diagnostics() Diagnostics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d := Diagnostics{TotalSessions: len(m.sessions)}
	for _, mg := range m.sessions {
		snap := mg.sess.Snapshot()
		if snap.Status == session.StatusActive {
			d.ActiveSessions++
		}
		if snap.Processing {
			d.ProcessingSessions++
		}
		d.TotalQueued += snap.QueueLen
	}
	return d
}

// StopAll stops every worker, letting each finish its current item, and
// waits for them up to the context deadline.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.sessions))
	for _, mg := range m.sessions {
		mg.worker.stop()
		workers = append(workers, mg.worker)
	}
	m.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.done():
		case <-ctx.Done():
			return fmt.Errorf("worker shutdown: %w", ctx.Err())
		}
	}
	m.logger.Info("all session workers stopped", slog.Int("workers", len(workers)))
	return nil
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// persistMessage hands one record to the durable store, wrapped in the
// persistence hooks. Store failures are logged and absorbed.
func (m *Manager) persistMessage(ctx context.Context, sess *session.Session, msg *session.Message) {
	if m.store == nil {
		return
	}
	sessionID := sess.ID.String()

	if m.hooks != nil {
		m.hooks.Dispatch(ctx, hook.PersistBefore, hook.NewContext(hook.PersistBefore, sessionID, map[string]any{
			"record": "message",
			"turn":   msg.Turn,
		}))
	}

	err := m.store.InsertMessage(ctx, msg)
	if err != nil {
		m.logger.Warn("persist message failed",
			slog.String("session_id", sessionID),
			slog.Int("turn", msg.Turn),
			slog.String("error", err.Error()),
		)
	}

	if m.hooks != nil {
		data := map[string]any{
			"record": "message",
			"turn":   msg.Turn,
		}
		if err != nil {
			data["error"] = err.Error()
		}
		m.hooks.Dispatch(ctx, hook.PersistAfter, hook.NewContext(hook.PersistAfter, sessionID, data))
	}
}

func (m *Manager) markDirty(sess *session.Session, changeType string, payload map[string]any) {
	if m.tracker == nil {
		return
	}
	data, _ := json.Marshal(payload)
	m.tracker.MarkDirty(sess.ID.String(), changeType, data)
}
