// Package worker runs the per-session background loops and the manager
// that owns them. Each session gets exactly one worker goroutine that
// dequeues input, consults the hook dispatcher, calls the responder,
// and records the outcome. Interventions preempt queued work at three
// checkpoints: before dequeue, after dequeue before the responder call,
// and after the responder returns before the reply is recorded.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/backoff"
	"github.com/xraph/colloquy/hook"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/session"
	"github.com/xraph/colloquy/track"
)

// Change-type tags recorded in the tracker.
const (
	changeInput        = "input"
	changeMessage      = "message"
	changeError        = "error"
	changeIntervention = "intervention"
	changeStatus       = "status"
)

// Worker owns one session's processing loop. It is created and started
// by the Manager; callers interact with the session through the Manager.
type Worker struct {
	sess    *session.Session
	exec    *Executor
	hooks   *hook.Dispatcher
	tracker *track.Tracker
	store   session.Store // nil means no durable store
	idle    backoff.Strategy
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newWorker(sess *session.Session, exec *Executor, hooks *hook.Dispatcher, tracker *track.Tracker, store session.Store, idle backoff.Strategy, logger *slog.Logger) *Worker {
	if idle == nil {
		idle = backoff.DefaultIdle()
	}
	return &Worker{
		sess:    sess,
		exec:    exec,
		hooks:   hooks,
		tracker: tracker,
		store:   store,
		idle:    idle,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// start spawns the loop goroutine.
func (w *Worker) start() {
	go w.loop()
}

// stop signals the loop to exit after its current item. It never
// abandons an in-flight turn.
func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// done is closed when the loop has fully exited.
func (w *Worker) done() <-chan struct{} { return w.doneCh }

func (w *Worker) loop() {
	defer close(w.doneCh)
	ctx := context.Background()

	idleCount := 0
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if w.sess.Status() == session.StatusPaused {
			if !w.sleep(w.idle.Delay(1)) {
				return
			}
			continue
		}

		// Checkpoint 1: an intervention takes priority over the queue.
		if iv := w.sess.TakeIntervention(); iv != nil {
			w.handleIntervention(ctx, iv)
			idleCount = 0
			continue
		}

		item, ok := w.sess.PopQueue()
		if !ok {
			idleCount++
			if !w.sleep(w.idle.Delay(idleCount)) {
				return
			}
			continue
		}
		idleCount = 0

		w.process(ctx, item)
	}
}

// sleep waits for d or the stop signal. Returns false on stop.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// process runs one dequeued item through the turn pipeline.
func (w *Worker) process(ctx context.Context, item session.QueueItem) {
	w.sess.SetProcessing(true)
	defer w.sess.SetProcessing(false)

	// Checkpoint 2: a steering message that arrived between dequeue and
	// the responder call wins. The item goes back to the queue front and
	// is checkpointed so nothing is lost.
	if iv := w.sess.TakeIntervention(); iv != nil {
		w.sess.PushFront(item)
		w.sess.SaveCheckpoint(item, "")
		w.handleIntervention(ctx, iv)
		return
	}

	w.runTurn(ctx, item, false)
}

// handleIntervention processes a steering message to completion as its
// own turn. Interventions are never themselves preempted.
func (w *Worker) handleIntervention(ctx context.Context, iv *session.Intervention) {
	w.sess.SetProcessing(true)
	defer w.sess.SetProcessing(false)

	w.markDirty(changeIntervention, map[string]any{"turn": iv.Turn})
	w.runTurn(ctx, session.QueueItem{
		MessageID: iv.MessageID,
		Turn:      iv.Turn,
		Role:      session.RoleUser,
		Content:   iv.Content,
	}, true)
}

// runTurn executes one input through hooks, responder, and recording.
func (w *Worker) runTurn(ctx context.Context, item session.QueueItem, intervention bool) {
	sessionID := w.sess.ID.String()

	task := &session.Task{
		Entity:    colloquy.NewEntity(),
		ID:        id.NewTaskID(),
		SessionID: w.sess.ID,
		Turn:      item.Turn,
		State:     session.TaskRunning,
		StartedAt: time.Now().UTC(),
	}
	if w.store != nil {
		if err := w.store.CreateTask(ctx, task); err != nil {
			w.logger.Warn("create task failed",
				slog.String("session_id", sessionID),
				slog.Int("turn", item.Turn),
				slog.String("error", err.Error()),
			)
		}
	}

	content := item.Content
	if w.hooks != nil {
		out := w.hooks.Dispatch(ctx, hook.MessageBefore, hook.NewContext(hook.MessageBefore, sessionID, map[string]any{
			"turn":         item.Turn,
			"role":         string(item.Role),
			"content":      content,
			"intervention": intervention,
		}))
		if v := out.String("content"); v != "" {
			content = v
		}
	}

	reply, err := w.exec.Execute(ctx, w.sess, item, content, intervention)

	// Checkpoint 3: an intervention that arrived while the responder was
	// running preempts recording. The partial reply is checkpointed and
	// a fresh responder call happens when the item is re-processed, so
	// exactly one response is ever recorded per item.
	if !intervention {
		if iv := w.sess.TakeIntervention(); iv != nil {
			w.sess.PushFront(item)
			w.sess.SaveCheckpoint(item, reply)
			w.failTask(ctx, task.ID, "preempted by intervention")
			w.handleIntervention(ctx, iv)
			return
		}
	}

	if err != nil {
		// Responder failures are recoverable: record an error turn and
		// keep the worker alive. The item is terminally resolved, so any
		// checkpoint from an earlier preemption is stale.
		msg := w.sess.Append(session.RoleSystem, "responder error: "+err.Error(), "")
		w.persistMessage(ctx, msg)
		w.markDirty(changeError, map[string]any{"turn": msg.Turn, "error": err.Error()})
		w.failTask(ctx, task.ID, err.Error())
		w.sess.ClearCheckpoint()
		return
	}

	msg := w.sess.Append(session.RoleAssistant, reply, "")
	if w.hooks != nil {
		w.hooks.Dispatch(ctx, hook.MessageAfter, hook.NewContext(hook.MessageAfter, sessionID, map[string]any{
			"turn":         msg.Turn,
			"role":         string(msg.Role),
			"content":      msg.Content,
			"intervention": intervention,
		}))
	}
	w.persistMessage(ctx, msg)
	w.markDirty(changeMessage, map[string]any{"turn": msg.Turn})
	w.completeTask(ctx, task.ID)
	w.sess.ClearCheckpoint()
}

// persistMessage hands one record to the durable store, wrapped in the
// persistence hooks. Store failures are logged and absorbed.
func (w *Worker) persistMessage(ctx context.Context, msg *session.Message) {
	if w.store == nil {
		return
	}
	sessionID := w.sess.ID.String()

	if w.hooks != nil {
		w.hooks.Dispatch(ctx, hook.PersistBefore, hook.NewContext(hook.PersistBefore, sessionID, map[string]any{
			"record": "message",
			"turn":   msg.Turn,
		}))
	}

	err := w.store.InsertMessage(ctx, msg)
	if err != nil {
		w.logger.Warn("persist message failed",
			slog.String("session_id", sessionID),
			slog.Int("turn", msg.Turn),
			slog.String("error", err.Error()),
		)
	}

	if w.hooks != nil {
		data := map[string]any{
			"record": "message",
			"turn":   msg.Turn,
		}
		if err != nil {
			data["error"] = err.Error()
		}
		w.hooks.Dispatch(ctx, hook.PersistAfter, hook.NewContext(hook.PersistAfter, sessionID, data))
	}
}

func (w *Worker) completeTask(ctx context.Context, taskID id.TaskID) {
	if w.store == nil {
		return
	}
	if err := w.store.CompleteTask(ctx, taskID); err != nil {
		w.logger.Warn("complete task failed",
			slog.String("session_id", w.sess.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) failTask(ctx context.Context, taskID id.TaskID, reason string) {
	if w.store == nil {
		return
	}
	if err := w.store.FailTask(ctx, taskID, reason); err != nil {
		w.logger.Warn("fail task failed",
			slog.String("session_id", w.sess.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// markDirty records a change for the session in the tracker.
func (w *Worker) markDirty(changeType string, payload map[string]any) {
	if w.tracker == nil {
		return
	}
	data, _ := json.Marshal(payload)
	w.tracker.MarkDirty(w.sess.ID.String(), changeType, data)
}
