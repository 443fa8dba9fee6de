// Package memory provides a fully in-memory session.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/session"
)

// Compile-time interface checks.
var (
	_ session.Store   = (*Store)(nil)
	_ colloquy.Storer = (*Store)(nil)
)

// Store holds all durable records in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	sessions map[string]*session.Snapshot
	messages map[string][]*session.Message // sessionID → ordered by turn
	tasks    map[string]*session.Task

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*session.Snapshot),
		messages: make(map[string][]*session.Message),
		tasks:    make(map[string]*session.Task),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return colloquy.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// InsertSession persists a new session snapshot.
func (m *Store) InsertSession(_ context.Context, snap *session.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return colloquy.ErrStoreClosed
	}

	key := snap.ID.String()
	if _, exists := m.sessions[key]; exists {
		return colloquy.ErrSessionAlreadyExists
	}
	cp := *snap
	m.sessions[key] = &cp
	return nil
}

// UpdateSessionStatus persists a status transition.
func (m *Store) UpdateSessionStatus(_ context.Context, sessionID id.SessionID, status session.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return colloquy.ErrStoreClosed
	}

	snap, ok := m.sessions[sessionID.String()]
	if !ok {
		return colloquy.ErrSessionNotFound
	}
	snap.Status = status
	snap.UpdatedAt = time.Now().UTC()
	return nil
}

// GetSession returns a copy of a persisted snapshot.
func (m *Store) GetSession(_ context.Context, sessionID id.SessionID) (*session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.sessions[sessionID.String()]
	if !ok {
		return nil, colloquy.ErrSessionNotFound
	}
	cp := *snap
	return &cp, nil
}

// ListSessions returns copies of all persisted snapshots, newest first.
func (m *Store) ListSessions(_ context.Context) ([]*session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*session.Snapshot, 0, len(m.sessions))
	for _, snap := range m.sessions {
		cp := *snap
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// InsertMessage appends one turn record.
func (m *Store) InsertMessage(_ context.Context, msg *session.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return colloquy.ErrStoreClosed
	}

	cp := *msg
	key := msg.SessionID.String()
	m.messages[key] = append(m.messages[key], &cp)
	// Inserts arrive in turn order from the worker, but an explicit sort
	// keeps ListMessages correct if a retried insert lands late.
	sort.Slice(m.messages[key], func(i, j int) bool {
		return m.messages[key][i].Turn < m.messages[key][j].Turn
	})
	return nil
}

// ListMessages returns messages with turn greater than sinceTurn,
// ordered by turn ascending. limit <= 0 means no limit.
func (m *Store) ListMessages(_ context.Context, sessionID id.SessionID, sinceTurn, limit int) ([]*session.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*session.Message
	for _, msg := range m.messages[sessionID.String()] {
		if msg.Turn <= sinceTurn {
			continue
		}
		cp := *msg
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

// CreateTask records the start of a processing attempt.
func (m *Store) CreateTask(_ context.Context, task *session.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return colloquy.ErrStoreClosed
	}

	cp := *task
	m.tasks[task.ID.String()] = &cp
	return nil
}

// CompleteTask marks a task completed.
func (m *Store) CompleteTask(_ context.Context, taskID id.TaskID) error {
	return m.resolveTask(taskID, session.TaskCompleted, "")
}

// FailTask marks a task failed (or preempted) with a reason.
func (m *Store) FailTask(_ context.Context, taskID id.TaskID, reason string) error {
	return m.resolveTask(taskID, session.TaskFailed, reason)
}

func (m *Store) resolveTask(taskID id.TaskID, state session.TaskState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return colloquy.ErrStoreClosed
	}

	task, ok := m.tasks[taskID.String()]
	if !ok {
		return fmt.Errorf("memory: resolve task %s: %w", taskID, colloquy.ErrTaskNotFound)
	}
	now := time.Now().UTC()
	task.State = state
	task.Error = reason
	task.FinishedAt = &now
	task.UpdatedAt = now
	return nil
}

// GetTask returns a copy of a task record.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*session.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, colloquy.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// ListTasks returns copies of all tasks for a session, oldest first.
func (m *Store) ListTasks(_ context.Context, sessionID id.SessionID) ([]*session.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*session.Task
	for _, task := range m.tasks {
		if task.SessionID.String() == sessionID.String() {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
