package session

import (
	"fmt"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
)

// OverCapacityError rejects session creation when the owner is at the
// concurrency cap. It carries the active count so callers can surface
// an informative rejection. Matches colloquy.ErrOverCapacity.
type OverCapacityError struct {
	Owner  string
	Active int
	Cap    int
}

func (e *OverCapacityError) Error() string {
	return fmt.Sprintf("colloquy: owner %q at session cap (%d active, cap %d)", e.Owner, e.Active, e.Cap)
}

// Unwrap lets errors.Is match colloquy.ErrOverCapacity.
func (e *OverCapacityError) Unwrap() error { return colloquy.ErrOverCapacity }

// InvalidStateError rejects an operation the session's status does not
// permit. Matches colloquy.ErrInvalidState.
type InvalidStateError struct {
	SessionID id.SessionID
	Status    Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("colloquy: session %s in status %q does not accept this operation", e.SessionID, e.Status)
}

// Unwrap lets errors.Is match colloquy.ErrInvalidState.
func (e *InvalidStateError) Unwrap() error { return colloquy.ErrInvalidState }
