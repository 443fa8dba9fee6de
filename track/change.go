// Package track maintains per-entity change state: a monotonic version
// counter and a bounded ring buffer of change records, plus per-client
// subscription state. Observers either pull changes since a version or
// register for debounced push delivery through a Broadcaster.
package track

import (
	"encoding/json"
	"time"
)

// Change is one recorded state mutation for an entity. Versions are
// contiguous per entity starting at 1; version 0 means untouched.
// Versions are never reused or skipped, even after buffer eviction.
type Change struct {
	EntityID string          `json:"entity_id"`
	Version  int64           `json:"version"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
}

// entityState holds the version counter and ring buffer for one entity.
// The buffer keeps the most recent changes up to capacity; eviction
// drops the oldest first. Access is guarded by the tracker lock.
type entityState struct {
	version int64
	buffer  []Change // oldest first
	cap     int

	// debounce bookkeeping: generation increments on every reschedule
	// so a stale fired timer can detect it was superseded.
	timer      *time.Timer
	generation uint64
}

func newEntityState(capacity int) *entityState {
	return &entityState{cap: capacity}
}

// record appends a change under a freshly incremented version and
// evicts the oldest entry if over capacity.
func (es *entityState) record(entityID, changeType string, payload json.RawMessage) Change {
	es.version++
	c := Change{
		EntityID: entityID,
		Version:  es.version,
		Type:     changeType,
		Payload:  payload,
		At:       time.Now().UTC(),
	}
	es.buffer = append(es.buffer, c)
	if es.cap > 0 && len(es.buffer) > es.cap {
		over := len(es.buffer) - es.cap
		es.buffer = append(es.buffer[:0], es.buffer[over:]...)
	}
	return c
}

// since returns copies of all buffered changes with version greater
// than the given one, oldest first.
func (es *entityState) since(version int64) []Change {
	if len(es.buffer) == 0 || version >= es.version {
		return nil
	}
	// Versions in the buffer are contiguous, so binary placement is
	// just arithmetic off the first retained version.
	first := es.buffer[0].Version
	start := 0
	if version >= first {
		start = int(version - first + 1)
	}
	if start >= len(es.buffer) {
		return nil
	}
	out := make([]Change, len(es.buffer)-start)
	copy(out, es.buffer[start:])
	return out
}
