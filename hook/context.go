package hook

import (
	"maps"
	"time"
)

// Context is the payload flowing through a handler chain. Handlers
// receive the current context; a behavioral handler's returned context
// replaces it for the rest of the chain, while an observational
// handler's return value is discarded.
type Context struct {
	// Point is the hook point being dispatched.
	Point Point `json:"point"`

	// SessionID identifies the session the event belongs to, if any.
	SessionID string `json:"session_id,omitempty"`

	// Data is the mutable payload. Behavioral handlers replace the
	// whole context, so original keys survive unless overwritten.
	Data map[string]any `json:"data"`

	// At is when the dispatch began.
	At time.Time `json:"at"`
}

// NewContext creates a dispatch payload for the given point.
func NewContext(point Point, sessionID string, data map[string]any) *Context {
	if data == nil {
		data = make(map[string]any)
	}
	return &Context{
		Point:     point,
		SessionID: sessionID,
		Data:      data,
		At:        time.Now().UTC(),
	}
}

// Clone returns a shallow-keyed copy: the Data map is copied so handler
// mutations of a discarded return value never leak into the chain.
func (c *Context) Clone() *Context {
	cp := *c
	cp.Data = make(map[string]any, len(c.Data))
	maps.Copy(cp.Data, c.Data)
	return &cp
}

// Valid reports whether a handler-returned context is structurally
// acceptable as a replacement: non-nil, carrying a data map, and still
// addressed to the same point.
func (c *Context) Valid(point Point) bool {
	return c != nil && c.Data != nil && c.Point == point
}

// String returns Data[key] if it is a string, else the empty string.
func (c *Context) String(key string) string {
	if v, ok := c.Data[key].(string); ok {
		return v
	}
	return ""
}
