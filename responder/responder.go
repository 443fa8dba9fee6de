// Package responder defines the response-generation collaborator. The
// worker hands it the session transcript for a turn and records
// whatever it returns; a responder failure is recoverable and produces
// an error turn, never a dead worker.
package responder

import "context"

// Role mirrors message roles without importing the session package so
// responder implementations stay dependency-light.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry handed to the responder.
type Message struct {
	Role    Role
	Content string
}

// Request carries everything a responder needs for one turn. History is
// ordered oldest first and ends with the input being responded to.
type Request struct {
	SessionID string
	ModelHint string
	History   []Message
}

// Responder generates the reply for one turn.
type Responder interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Responder interface.
type Func func(ctx context.Context, req Request) (string, error)

// Reply implements Responder.
func (f Func) Reply(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Echo is the fallback when no responder is wired: it reflects the last
// user input back. Useful in tests and for wiring checks.
type Echo struct{}

// Reply implements Responder.
func (Echo) Reply(_ context.Context, req Request) (string, error) {
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == RoleUser {
			return "echo: " + req.History[i].Content, nil
		}
	}
	return "echo:", nil
}

var (
	_ Responder = Func(nil)
	_ Responder = Echo{}
)
