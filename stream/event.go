// Package stream fans state-change batches and session lifecycle
// events out to connected observers via topic-based pub/sub. The
// broker is the push transport behind the change tracker.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event on a topic channel.
type EventType string

const (
	// EventSessionCreated fires when a session is created.
	EventSessionCreated EventType = "session.created"
	// EventSessionClosed fires when a session is closed.
	EventSessionClosed EventType = "session.closed"
	// EventSessionChanged carries a debounced change batch.
	EventSessionChanged EventType = "session.changed"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	// Type identifies the event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// ChangeEventData is the payload of a session.changed event: the
// entity's current version plus the coalesced changes since the
// observers' last delivery.
type ChangeEventData struct {
	EntityID string          `json:"entity_id"`
	Version  int64           `json:"version"`
	Changes  json.RawMessage `json:"changes"`
}

// SessionEventData is the payload for session lifecycle events.
type SessionEventData struct {
	SessionID string `json:"session_id"`
	Owner     string `json:"owner,omitempty"`
	Turns     int    `json:"turns,omitempty"`
}
