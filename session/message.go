package session

import (
	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
)

// Role identifies who produced a message.
type Role string

const (
	// RoleUser is input sent by the session owner.
	RoleUser Role = "user"
	// RoleAssistant is output produced by the responder.
	RoleAssistant Role = "assistant"
	// RoleSystem is runtime-generated content, including recorded errors.
	RoleSystem Role = "system"
)

// DefaultContentType is used when no content type is given.
const DefaultContentType = "text/plain"

// Message is one numbered turn record within a session. Messages are
// append-only: the core never mutates or deletes them once appended.
type Message struct {
	colloquy.Entity

	ID          id.MessageID `json:"id"`
	SessionID   id.SessionID `json:"session_id"`
	Turn        int          `json:"turn"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ContentType string       `json:"content_type"`
}
