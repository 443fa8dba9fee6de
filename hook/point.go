// Package hook provides the lifecycle hook dispatcher. A fixed,
// versioned catalog of named points lets extensions observe or modify
// in-flight data; per point, registered handlers run in a stable
// priority order, isolated from one another and bounded by a wall-clock
// budget for the whole chain.
package hook

// CatalogVersion identifies the hook point catalog. Adding a point is a
// deliberate catalog change and bumps this version.
const CatalogVersion = 1

// Point names a lifecycle extensibility point.
type Point string

// The fixed hook point catalog. Exactly these ten points exist.
const (
	// SessionStart fires after a session is created, before its worker
	// processes anything.
	SessionStart Point = "session.start"
	// SessionEnd fires when a session is closed.
	SessionEnd Point = "session.end"
	// MessageBefore fires before the responder is invoked for an item.
	// Behavioral handlers may rewrite the outgoing content.
	MessageBefore Point = "message.before"
	// MessageAfter fires after a response message is appended.
	MessageAfter Point = "message.after"
	// ToolBefore fires before a tool execution requested by a turn.
	ToolBefore Point = "tool.before"
	// ToolAfter fires after a tool execution returns.
	ToolAfter Point = "tool.after"
	// PersistBefore fires before a record is handed to the durable store.
	PersistBefore Point = "persist.before"
	// PersistAfter fires after the durable store call returns.
	PersistAfter Point = "persist.after"
	// CheckBefore fires before a domain-specific check runs.
	CheckBefore Point = "check.before"
	// CheckAfter fires after a domain-specific check completes.
	CheckAfter Point = "check.after"
)

// Points returns the full catalog in declaration order.
func Points() []Point {
	return []Point{
		SessionStart, SessionEnd,
		MessageBefore, MessageAfter,
		ToolBefore, ToolAfter,
		PersistBefore, PersistAfter,
		CheckBefore, CheckAfter,
	}
}

// Known reports whether the name is a catalog point.
func Known(p Point) bool {
	switch p {
	case SessionStart, SessionEnd,
		MessageBefore, MessageAfter,
		ToolBefore, ToolAfter,
		PersistBefore, PersistAfter,
		CheckBefore, CheckAfter:
		return true
	}
	return false
}
