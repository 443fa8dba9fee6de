package session

import (
	"context"

	"github.com/xraph/colloquy/id"
)

// Store is the durable-store collaborator consumed by the worker layer.
// The in-memory workflow never depends on it succeeding: callers log
// and absorb all Store failures and continue.
//
// Backends additionally implement colloquy.Storer (Migrate/Ping/Close).
type Store interface {
	// InsertSession persists a newly created session snapshot.
	InsertSession(ctx context.Context, snap *Snapshot) error

	// UpdateSessionStatus persists a session status transition.
	UpdateSessionStatus(ctx context.Context, sessionID id.SessionID, status Status) error

	// InsertMessage persists one appended turn record.
	InsertMessage(ctx context.Context, msg *Message) error

	// ListMessages returns messages with turn number greater than
	// sinceTurn, ordered by turn ascending. limit <= 0 means no limit.
	ListMessages(ctx context.Context, sessionID id.SessionID, sinceTurn, limit int) ([]*Message, error)

	// CreateTask records the start of one processing attempt.
	CreateTask(ctx context.Context, task *Task) error

	// CompleteTask marks a task completed.
	CompleteTask(ctx context.Context, taskID id.TaskID) error

	// FailTask marks a task failed (or preempted) with a reason.
	FailTask(ctx context.Context, taskID id.TaskID, reason string) error
}
