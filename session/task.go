package session

import (
	"time"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
)

// TaskState represents the lifecycle state of a processing task.
type TaskState string

const (
	// TaskRunning means a worker is processing the associated item.
	TaskRunning TaskState = "running"
	// TaskCompleted means the item finished successfully.
	TaskCompleted TaskState = "completed"
	// TaskFailed means the item failed or was preempted.
	TaskFailed TaskState = "failed"
)

// Task records one worker processing attempt for a queued item. Tasks are
// created when a worker picks an item up and resolved when it completes,
// fails, or is preempted by an intervention.
type Task struct {
	colloquy.Entity

	ID         id.TaskID    `json:"id"`
	SessionID  id.SessionID `json:"session_id"`
	Turn       int          `json:"turn"`
	State      TaskState    `json:"state"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
