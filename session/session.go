package session

import (
	"sync"
	"time"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	// StatusActive means the session accepts input and its worker runs.
	StatusActive Status = "active"
	// StatusPaused means the session accepts input but holds processing.
	StatusPaused Status = "paused"
	// StatusCompleted means the session was closed normally. Terminal.
	StatusCompleted Status = "completed"
	// StatusError means the session was stopped by an unrecoverable
	// condition. Terminal.
	StatusError Status = "error"
	// StatusArchived means the session was retired. Terminal.
	StatusArchived Status = "archived"
)

// Terminal reports whether the status stops the session's worker.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusArchived
}

// Config carries optional per-session settings supplied at creation.
type Config struct {
	// ModelHint is forwarded to the responder collaborator.
	ModelHint string `json:"model_hint,omitempty"`

	// ResponderTimeout overrides the runtime's per-turn deadline.
	ResponderTimeout time.Duration `json:"responder_timeout,omitempty"`
}

// QueueItem is one unit of pending input waiting for the session worker.
// The turn number was assigned when the input was recorded as a message.
type QueueItem struct {
	MessageID id.MessageID `json:"message_id"`
	Turn      int          `json:"turn"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
}

// Intervention is an out-of-band steering message. A session holds at
// most one unread intervention; writes overwrite, reads clear.
type Intervention struct {
	MessageID id.MessageID `json:"message_id"`
	Turn      int          `json:"turn"`
	Content   string       `json:"content"`
	SetAt     time.Time    `json:"set_at"`
}

// Checkpoint preserves an interrupted item so a preempted turn is always
// recoverable. PartialReply holds responder output produced before the
// preemption, if any.
type Checkpoint struct {
	Item         QueueItem `json:"item"`
	PartialReply string    `json:"partial_reply,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Session is one ongoing multi-turn interaction scoped to an owner.
//
// Descriptor fields (ID, Owner, Tenant, Title, Config) are immutable
// after creation. All mutable runtime state is guarded by a
// session-scoped mutex; it is mutated only by the owning worker loop
// and by caller-facing API methods.
type Session struct {
	colloquy.Entity

	ID     id.SessionID `json:"id"`
	Owner  string       `json:"owner"`
	Tenant string       `json:"tenant,omitempty"`
	Title  string       `json:"title,omitempty"`
	Config Config       `json:"config"`

	mu           sync.Mutex
	status       Status
	turn         int
	queue        []QueueItem
	processing   bool
	intervention *Intervention
	checkpoint   *Checkpoint
	messages     []*Message
}

// New creates an active session for the given owner.
func New(owner, tenant, title string, cfg Config) *Session {
	return &Session{
		Entity: colloquy.NewEntity(),
		ID:     id.NewSessionID(),
		Owner:  owner,
		Tenant: tenant,
		Title:  title,
		Config: cfg,
		status: StatusActive,
	}
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the session to the given status.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.Touch()
}

// Turn returns the highest assigned turn number.
func (s *Session) Turn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// Append records a new message, assigning the next turn number.
// Turn numbers are contiguous starting at 1 and assigned only here,
// under the session lock.
func (s *Session) Append(role Role, content, contentType string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(role, content, contentType)
}

func (s *Session) appendLocked(role Role, content, contentType string) *Message {
	if contentType == "" {
		contentType = DefaultContentType
	}
	s.turn++
	msg := &Message{
		Entity:      colloquy.NewEntity(),
		ID:          id.NewMessageID(),
		SessionID:   s.ID,
		Turn:        s.turn,
		Role:        role,
		Content:     content,
		ContentType: contentType,
	}
	s.messages = append(s.messages, msg)
	s.Touch()
	return msg
}

// EnqueueInput atomically records the input as a message and places it
// on the processing queue. Returns the recorded message, or an
// InvalidStateError if the session no longer accepts input.
func (s *Session) EnqueueInput(role Role, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive && s.status != StatusPaused {
		return nil, &InvalidStateError{SessionID: s.ID, Status: s.status}
	}

	msg := s.appendLocked(role, content, "")
	s.queue = append(s.queue, QueueItem{
		MessageID: msg.ID,
		Turn:      msg.Turn,
		Role:      msg.Role,
		Content:   msg.Content,
	})
	return msg, nil
}

// Intervene atomically records the steering message as a turn and
// overwrites the session's single intervention slot (last write wins).
// Returns the recorded message.
func (s *Session) Intervene(content string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.appendLocked(RoleUser, content, "")
	s.intervention = &Intervention{
		MessageID: msg.ID,
		Turn:      msg.Turn,
		Content:   msg.Content,
		SetAt:     time.Now().UTC(),
	}
	return msg
}

// TakeIntervention consumes and clears the intervention slot.
// Returns nil if the slot is empty. Read-clears: a second call without
// an intervening write returns nil.
func (s *Session) TakeIntervention() *Intervention {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv := s.intervention
	s.intervention = nil
	return iv
}

// PopQueue removes and returns the item at the front of the input queue.
func (s *Session) PopQueue() (QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return QueueItem{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// PushFront returns a popped item to the front of the queue so it is
// re-processed before anything queued behind it.
func (s *Session) PushFront(item QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]QueueItem{item}, s.queue...)
}

// QueueLen returns the number of pending items.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SetProcessing flags whether the worker is mid-item.
func (s *Session) SetProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = v
}

// Processing reports whether the worker is mid-item.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// SaveCheckpoint preserves an interrupted item and any partial reply.
func (s *Session) SaveCheckpoint(item QueueItem, partialReply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = &Checkpoint{
		Item:         item,
		PartialReply: partialReply,
		SavedAt:      time.Now().UTC(),
	}
}

// ClearCheckpoint discards the saved checkpoint after the interrupted
// item completes.
func (s *Session) ClearCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = nil
}

// Checkpoint returns a copy of the saved checkpoint, or nil.
func (s *Session) Checkpoint() *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil
	}
	cp := *s.checkpoint
	return &cp
}

// History returns the ordered in-memory conversation history.
// The returned slice is a copy; messages themselves are append-only.
func (s *Session) History() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Snapshot captures the session descriptor and counters for external
// readers and for persistence. It carries no internal locks.
type Snapshot struct {
	colloquy.Entity

	ID         id.SessionID `json:"id"`
	Owner      string       `json:"owner"`
	Tenant     string       `json:"tenant,omitempty"`
	Title      string       `json:"title,omitempty"`
	Status     Status       `json:"status"`
	Config     Config       `json:"config"`
	Turn       int          `json:"turn"`
	QueueLen   int          `json:"queue_len"`
	Processing bool         `json:"processing"`
}

// Snapshot returns a consistent point-in-time view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Entity:     s.Entity,
		ID:         s.ID,
		Owner:      s.Owner,
		Tenant:     s.Tenant,
		Title:      s.Title,
		Status:     s.status,
		Config:     s.Config,
		Turn:       s.turn,
		QueueLen:   len(s.queue),
		Processing: s.processing,
	}
}
