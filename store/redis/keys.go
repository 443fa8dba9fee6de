package redis

// Redis key naming conventions for colloquy data.
// All keys are prefixed with "colloquy:" to avoid collisions.

const keyPrefix = "colloquy:"

// ── Session keys ──

// sessionKey returns the key for a session entity: colloquy:session:{id}
func sessionKey(id string) string { return keyPrefix + "session:" + id }

// sessionIDsKey is the Set tracking all session IDs for enumeration.
const sessionIDsKey = keyPrefix + "session_ids"

// ── Message keys ──

// messagesKey returns the Sorted Set key holding a session's transcript,
// scored by turn number: colloquy:messages:{sessionID}
func messagesKey(sessionID string) string { return keyPrefix + "messages:" + sessionID }

// ── Task keys ──

// taskKey returns the key for a task entity: colloquy:task:{id}
func taskKey(id string) string { return keyPrefix + "task:" + id }
