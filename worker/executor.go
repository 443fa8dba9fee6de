package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/colloquy/middleware"
	"github.com/xraph/colloquy/responder"
	"github.com/xraph/colloquy/session"
)

// DefaultResponderTimeout bounds one responder call when neither the
// session nor the runtime overrides it.
const DefaultResponderTimeout = 2 * time.Minute

// Executor produces the reply for one turn: it assembles the transcript,
// runs the middleware chain, and calls the responder at the end of it.
// A nil responder falls back to Echo so the pipeline stays exercisable
// without an external collaborator.
type Executor struct {
	responder responder.Responder
	chain     middleware.Middleware
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExecutor creates an Executor. A nil chain gets the panic-recovery
// middleware alone, so a panicking responder is always converted to an
// error at the item boundary rather than taking down the worker.
func NewExecutor(r responder.Responder, chain middleware.Middleware, timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		r = responder.Echo{}
	}
	if chain == nil {
		chain = middleware.Chain(middleware.Recover(logger))
	}
	if timeout <= 0 {
		timeout = DefaultResponderTimeout
	}
	return &Executor{responder: r, chain: chain, timeout: timeout, logger: logger}
}

// Execute runs one turn for the given input. content may differ from
// the recorded message when a behavioral hook rewrote it; the transcript
// handed to the responder carries the rewritten form.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, item session.QueueItem, content string, intervention bool) (string, error) {
	timeout := sess.Config.ResponderTimeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	info := &middleware.TurnInfo{
		SessionID:    sess.ID.String(),
		Owner:        sess.Owner,
		Tenant:       sess.Tenant,
		Turn:         item.Turn,
		Intervention: intervention,
		Timeout:      timeout,
	}

	req := responder.Request{
		SessionID: sess.ID.String(),
		ModelHint: sess.Config.ModelHint,
		History:   e.buildHistory(sess, item.Turn, content),
	}

	return e.chain(ctx, info, func(ctx context.Context) (string, error) {
		return e.responder.Reply(ctx, req)
	})
}

// buildHistory converts the in-memory transcript for the responder,
// substituting the rewritten content for the turn being executed.
func (e *Executor) buildHistory(sess *session.Session, turn int, content string) []responder.Message {
	history := sess.History()
	out := make([]responder.Message, 0, len(history))
	for _, msg := range history {
		c := msg.Content
		if msg.Turn == turn {
			c = content
		}
		out = append(out, responder.Message{
			Role:    responder.Role(msg.Role),
			Content: c,
		})
	}
	return out
}
