package colloquy

import "time"

// Config holds configuration for the Runtime.
type Config struct {
	// OwnerSessionCap is the maximum number of concurrently active
	// sessions a single owner may hold. Session creation beyond the cap
	// is rejected with an over-capacity error.
	OwnerSessionCap int

	// IdleInterval is the base delay a session worker sleeps when its
	// queue is empty. Workers back off exponentially from this value
	// while idle and reset on activity.
	IdleInterval time.Duration

	// MaxIdleInterval caps the idle backoff.
	MaxIdleInterval time.Duration

	// HookBudget is the wall-clock budget for a whole dispatch call
	// across one hook point's handler chain. Handlers that have not run
	// when the budget is exhausted are skipped.
	HookBudget time.Duration

	// DebounceInterval is how long the change tracker coalesces
	// mark-dirty bursts before pushing one broadcast per entity.
	DebounceInterval time.Duration

	// MaxChangesBuffer bounds the per-entity change ring buffer.
	// The oldest record is evicted once capacity is exceeded.
	MaxChangesBuffer int

	// ResponderTimeout is the per-turn deadline for responder calls.
	// Zero means no deadline.
	ResponderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OwnerSessionCap:  5,
		IdleInterval:     50 * time.Millisecond,
		MaxIdleInterval:  time.Second,
		HookBudget:       5 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		MaxChangesBuffer: 100,
		ResponderTimeout: 2 * time.Minute,
		ShutdownTimeout:  30 * time.Second,
	}
}
