package track

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/colloquy"
)

// DefaultDebounce is the delay between the last MarkDirty on an entity
// and its push broadcast.
const DefaultDebounce = 100 * time.Millisecond

// DefaultBufferSize bounds the per-entity change ring buffer.
const DefaultBufferSize = 100

// UpdateBatch is the result of a pull query.
type UpdateBatch struct {
	CurrentVersion int64    `json:"current_version"`
	Changes        []Change `json:"changes"`
	UpToDate       bool     `json:"up_to_date"`
}

// Stats is a point-in-time snapshot of tracker state.
type Stats struct {
	Entities    int `json:"entities"`
	Clients     int `json:"clients"`
	PushClients int `json:"push_clients"`
	Buffered    int `json:"buffered_changes"`
}

// Tracker records state changes per entity and serves them to clients
// by pull or debounced push. All methods are safe for concurrent use;
// broadcasts run outside the tracker lock so slow delivery never blocks
// MarkDirty callers.
type Tracker struct {
	mu          sync.Mutex
	entities    map[string]*entityState
	clients     map[string]*Client
	debounce    time.Duration
	bufferSize  int
	broadcaster Broadcaster
	logger      *slog.Logger
	closed      bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithDebounce sets the push coalescing delay. Zero or negative
// disables push broadcasts entirely (pull still works).
func WithDebounce(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.debounce = d }
}

// WithBufferSize bounds each entity's change ring buffer.
func WithBufferSize(n int) TrackerOption {
	return func(t *Tracker) { t.bufferSize = n }
}

// WithBroadcaster sets the push delivery transport.
func WithBroadcaster(b Broadcaster) TrackerOption {
	return func(t *Tracker) { t.broadcaster = b }
}

// NewTracker creates a Tracker with the given logger.
func NewTracker(logger *slog.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		entities:    make(map[string]*entityState),
		clients:     make(map[string]*Client),
		debounce:    DefaultDebounce,
		bufferSize:  DefaultBufferSize,
		broadcaster: NopBroadcaster{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ─────────────────────────────────────────────────────────────────────
// Clients
// ─────────────────────────────────────────────────────────────────────

// RegisterClient creates a subscription for a client id. Re-registering
// an existing id replaces its mode and resets its viewing state.
func (t *Tracker) RegisterClient(clientID string, mode TransportMode) *Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &Client{
		ID:       clientID,
		Mode:     mode,
		LastSeen: time.Now().UTC(),
	}
	t.clients[clientID] = c
	cp := *c
	return &cp
}

// UnregisterClient removes a client's subscription. Further pushes to
// it stop; already-dispatched broadcasts are not retracted.
func (t *Tracker) UnregisterClient(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.clients[clientID]; !ok {
		return false
	}
	delete(t.clients, clientID)
	return true
}

// SetViewing points a client at an entity. A client views at most one
// entity; the pushed version resets so the next delivery starts from
// the entity's full buffered history.
func (t *Tracker) SetViewing(clientID, entityID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[clientID]
	if !ok {
		return fmt.Errorf("track: set viewing for %q: %w", clientID, colloquy.ErrClientNotFound)
	}
	if c.Viewing != entityID {
		c.Viewing = entityID
		c.Pushed = 0
	}
	c.LastSeen = time.Now().UTC()
	return nil
}

// Acknowledge records that a client has consumed changes up to a
// version, independently of a pull query. Versions never move backward.
func (t *Tracker) Acknowledge(clientID string, version int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[clientID]
	if !ok {
		return fmt.Errorf("track: acknowledge for %q: %w", clientID, colloquy.ErrClientNotFound)
	}
	if version > c.Pushed {
		c.Pushed = version
	}
	c.LastSeen = time.Now().UTC()
	return nil
}

// Clients returns copies of all current subscriptions.
func (t *Tracker) Clients() []Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, *c)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────
// Changes
// ─────────────────────────────────────────────────────────────────────

// MarkDirty atomically bumps the entity's version, records the change,
// and (re)schedules the entity's debounced broadcast, canceling any
// pending one. Returns the new version.
func (t *Tracker) MarkDirty(entityID, changeType string, payload json.RawMessage) int64 {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return 0
	}

	es, ok := t.entities[entityID]
	if !ok {
		es = newEntityState(t.bufferSize)
		t.entities[entityID] = es
	}
	c := es.record(entityID, changeType, payload)

	if t.debounce > 0 {
		// Cancel-and-replace: the generation counter makes a stale
		// timer that already fired detect it was superseded.
		es.generation++
		gen := es.generation
		if es.timer != nil {
			es.timer.Stop()
		}
		es.timer = time.AfterFunc(t.debounce, func() {
			t.flush(entityID, gen)
		})
	}
	t.mu.Unlock()

	return c.Version
}

// Version returns the entity's current version, 0 if never touched.
func (t *Tracker) Version(entityID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if es, ok := t.entities[entityID]; ok {
		return es.version
	}
	return 0
}

// Updates answers a pull query: all buffered changes with version
// greater than sinceVersion. As a side effect the client's pushed
// version advances to the entity's current version, so a later push
// will not redeliver what this pull returned.
func (t *Tracker) Updates(clientID, entityID string, sinceVersion int64) (*UpdateBatch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("track: updates for %q: %w", clientID, colloquy.ErrClientNotFound)
	}
	c.LastSeen = time.Now().UTC()

	batch := &UpdateBatch{}
	es, ok := t.entities[entityID]
	if !ok {
		batch.UpToDate = sinceVersion >= 0
		return batch, nil
	}

	batch.CurrentVersion = es.version
	batch.Changes = es.since(sinceVersion)
	batch.UpToDate = sinceVersion >= es.version

	if c.Viewing == entityID && es.version > c.Pushed {
		c.Pushed = es.version
	}
	return batch, nil
}

// Stats returns a snapshot of tracker load.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Entities: len(t.entities),
		Clients:  len(t.clients),
	}
	for _, c := range t.clients {
		if c.Mode == ModePush {
			s.PushClients++
		}
	}
	for _, es := range t.entities {
		s.Buffered += len(es.buffer)
	}
	return s
}

// Close stops all pending debounce timers. The tracker rejects further
// MarkDirty calls; pull queries keep working for draining.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for _, es := range t.entities {
		if es.timer != nil {
			es.timer.Stop()
			es.timer = nil
		}
		es.generation++
	}
}

// ─────────────────────────────────────────────────────────────────────
// Push
// ─────────────────────────────────────────────────────────────────────

// flush is the debounce timer body. It rechecks the generation under
// the lock so a timer that lost a cancel race becomes a no-op, gathers
// the batch once, and broadcasts outside the lock.
func (t *Tracker) flush(entityID string, gen uint64) {
	t.mu.Lock()

	es, ok := t.entities[entityID]
	if !ok || t.closed || es.generation != gen {
		t.mu.Unlock()
		return
	}
	es.timer = nil

	// Gather once from the minimum pushed version among push-mode
	// clients viewing this entity.
	var (
		viewers   []string
		minPushed int64 = -1
	)
	for _, c := range t.clients {
		if c.Mode != ModePush || c.Viewing != entityID {
			continue
		}
		viewers = append(viewers, c.ID)
		if minPushed < 0 || c.Pushed < minPushed {
			minPushed = c.Pushed
		}
	}
	if len(viewers) == 0 {
		t.mu.Unlock()
		return
	}

	version := es.version
	changes := es.since(minPushed)
	broadcaster := t.broadcaster
	t.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	broadcaster.Broadcast(context.Background(), entityID, version, changes)

	t.mu.Lock()
	for _, id := range viewers {
		if c, ok := t.clients[id]; ok && c.Viewing == entityID && version > c.Pushed {
			c.Pushed = version
		}
	}
	t.mu.Unlock()

	t.logger.Debug("pushed changes",
		slog.String("entity_id", entityID),
		slog.Int64("version", version),
		slog.Int("changes", len(changes)),
		slog.Int("clients", len(viewers)),
	)
}
