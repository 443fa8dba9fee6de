package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/colloquy"
)

func newTestTracker(t *testing.T, opts ...TrackerOption) *Tracker {
	t.Helper()
	tr := NewTracker(slog.New(slog.DiscardHandler), opts...)
	t.Cleanup(tr.Close)
	return tr
}

// collectBroadcaster records batches for assertions.
type collectBroadcaster struct {
	mu      sync.Mutex
	batches []broadcastBatch
	done    chan struct{}
}

type broadcastBatch struct {
	entityID string
	version  int64
	changes  []Change
}

func newCollectBroadcaster() *collectBroadcaster {
	return &collectBroadcaster{done: make(chan struct{}, 16)}
}

func (b *collectBroadcaster) Broadcast(_ context.Context, entityID string, version int64, changes []Change) {
	b.mu.Lock()
	b.batches = append(b.batches, broadcastBatch{entityID, version, changes})
	b.mu.Unlock()
	b.done <- struct{}{}
}

func (b *collectBroadcaster) wait(t *testing.T) broadcastBatch {
	t.Helper()
	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast arrived")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches[len(b.batches)-1]
}

func (b *collectBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// ---------------------------------------------------------------------
// Versioning
// ---------------------------------------------------------------------

func TestMarkDirtyVersions(t *testing.T) {
	tr := newTestTracker(t, WithDebounce(0))

	if tr.Version("e1") != 0 {
		t.Fatal("untouched entity version != 0")
	}

	const n = 7
	for i := 1; i <= n; i++ {
		if v := tr.MarkDirty("e1", "update", nil); v != int64(i) {
			t.Fatalf("mark %d returned version %d", i, v)
		}
	}
	if v := tr.Version("e1"); v != n {
		t.Fatalf("version = %d, want %d", v, n)
	}

	// Independent counters per entity.
	if v := tr.MarkDirty("e2", "update", nil); v != 1 {
		t.Fatalf("e2 first version = %d", v)
	}
}

func TestUpdatesSinceZero(t *testing.T) {
	tr := newTestTracker(t, WithDebounce(0))
	tr.RegisterClient("c1", ModePull)

	const n = 5
	for i := 0; i < n; i++ {
		tr.MarkDirty("e1", "update", json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)))
	}

	batch, err := tr.Updates("c1", "e1", 0)
	if err != nil {
		t.Fatalf("updates: %v", err)
	}
	if batch.CurrentVersion != n {
		t.Fatalf("current = %d, want %d", batch.CurrentVersion, n)
	}
	if batch.UpToDate {
		t.Fatal("up_to_date true with pending changes")
	}
	if len(batch.Changes) != n {
		t.Fatalf("changes = %d, want %d", len(batch.Changes), n)
	}
	for i, c := range batch.Changes {
		if c.Version != int64(i+1) {
			t.Fatalf("change %d has version %d", i, c.Version)
		}
	}

	caught, err := tr.Updates("c1", "e1", n)
	if err != nil {
		t.Fatalf("updates: %v", err)
	}
	if !caught.UpToDate || len(caught.Changes) != 0 {
		t.Fatalf("expected up_to_date empty batch, got %+v", caught)
	}
}

func TestRingBufferEviction(t *testing.T) {
	tr := newTestTracker(t, WithDebounce(0), WithBufferSize(5))
	tr.RegisterClient("c1", ModePull)

	for i := 0; i < 10; i++ {
		tr.MarkDirty("e1", "update", nil)
	}

	batch, err := tr.Updates("c1", "e1", 0)
	if err != nil {
		t.Fatalf("updates: %v", err)
	}
	if batch.CurrentVersion != 10 {
		t.Fatalf("current = %d", batch.CurrentVersion)
	}
	if len(batch.Changes) != 5 {
		t.Fatalf("retained = %d, want 5", len(batch.Changes))
	}
	for i, c := range batch.Changes {
		if want := int64(6 + i); c.Version != want {
			t.Fatalf("retained change %d has version %d, want %d", i, c.Version, want)
		}
	}
}

func TestUpdatesUnknownEntity(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterClient("c1", ModePull)

	batch, err := tr.Updates("c1", "nope", 0)
	if err != nil {
		t.Fatalf("updates: %v", err)
	}
	if !batch.UpToDate || batch.CurrentVersion != 0 || len(batch.Changes) != 0 {
		t.Fatalf("unexpected batch for unknown entity: %+v", batch)
	}
}

// ---------------------------------------------------------------------
// Clients
// ---------------------------------------------------------------------

func TestClientLifecycle(t *testing.T) {
	tr := newTestTracker(t)

	tr.RegisterClient("c1", ModePush)
	if err := tr.SetViewing("c1", "e1"); err != nil {
		t.Fatalf("set viewing: %v", err)
	}
	if err := tr.Acknowledge("c1", 3); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	clients := tr.Clients()
	if len(clients) != 1 || clients[0].Pushed != 3 || clients[0].Viewing != "e1" {
		t.Fatalf("unexpected client state: %+v", clients)
	}

	// Acknowledge never moves backward.
	tr.Acknowledge("c1", 1)
	if tr.Clients()[0].Pushed != 3 {
		t.Fatal("acknowledge moved pushed version backward")
	}

	if !tr.UnregisterClient("c1") {
		t.Fatal("unregister did not find client")
	}
	if tr.UnregisterClient("c1") {
		t.Fatal("second unregister reported found")
	}

	if err := tr.SetViewing("c1", "e1"); !errors.Is(err, colloquy.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
	if _, err := tr.Updates("c1", "e1", 0); !errors.Is(err, colloquy.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestPullAdvancesPushedVersion(t *testing.T) {
	tr := newTestTracker(t, WithDebounce(0))
	tr.RegisterClient("c1", ModePush)
	tr.SetViewing("c1", "e1")

	tr.MarkDirty("e1", "update", nil)
	tr.MarkDirty("e1", "update", nil)

	if _, err := tr.Updates("c1", "e1", 0); err != nil {
		t.Fatalf("updates: %v", err)
	}
	if got := tr.Clients()[0].Pushed; got != 2 {
		t.Fatalf("pushed after pull = %d, want 2", got)
	}
}

// ---------------------------------------------------------------------
// Debounced push
// ---------------------------------------------------------------------

func TestDebouncedPushCoalesces(t *testing.T) {
	bc := newCollectBroadcaster()
	tr := newTestTracker(t, WithDebounce(40*time.Millisecond), WithBroadcaster(bc))

	tr.RegisterClient("c1", ModePush)
	tr.SetViewing("c1", "e1")

	// A burst of marks inside the debounce window must yield exactly
	// one broadcast carrying all of them.
	for i := 0; i < 5; i++ {
		tr.MarkDirty("e1", "update", nil)
		time.Sleep(5 * time.Millisecond)
	}

	batch := bc.wait(t)
	if batch.entityID != "e1" || batch.version != 5 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if len(batch.changes) != 5 {
		t.Fatalf("batch carried %d changes, want 5", len(batch.changes))
	}

	time.Sleep(100 * time.Millisecond)
	if bc.count() != 1 {
		t.Fatalf("broadcast count = %d, want 1", bc.count())
	}

	// Pushed version advanced, so the next burst delivers only new
	// changes.
	tr.MarkDirty("e1", "update", nil)
	batch = bc.wait(t)
	if len(batch.changes) != 1 || batch.changes[0].Version != 6 {
		t.Fatalf("second batch: %+v", batch)
	}
}

func TestPushSkipsNonViewers(t *testing.T) {
	bc := newCollectBroadcaster()
	tr := newTestTracker(t, WithDebounce(20*time.Millisecond), WithBroadcaster(bc))

	tr.RegisterClient("pull-only", ModePull)
	tr.SetViewing("pull-only", "e1")
	tr.RegisterClient("elsewhere", ModePush)
	tr.SetViewing("elsewhere", "e2")

	tr.MarkDirty("e1", "update", nil)

	time.Sleep(80 * time.Millisecond)
	if bc.count() != 0 {
		t.Fatalf("broadcast fired with no push viewers: %d", bc.count())
	}
}

func TestPushMinimumPushedVersion(t *testing.T) {
	bc := newCollectBroadcaster()
	tr := newTestTracker(t, WithDebounce(20*time.Millisecond), WithBroadcaster(bc))

	tr.RegisterClient("fresh", ModePush)
	tr.SetViewing("fresh", "e1")
	tr.RegisterClient("caught-up", ModePush)
	tr.SetViewing("caught-up", "e1")

	tr.MarkDirty("e1", "update", nil)
	tr.MarkDirty("e1", "update", nil)
	tr.Acknowledge("caught-up", 2)

	tr.MarkDirty("e1", "update", nil)

	// The batch starts at the minimum pushed version (0 for "fresh"),
	// so it carries all three changes.
	batch := bc.wait(t)
	if len(batch.changes) != 3 {
		t.Fatalf("batch carried %d changes, want 3", len(batch.changes))
	}
	for _, c := range tr.Clients() {
		if c.Pushed != 3 {
			t.Fatalf("client %s pushed = %d, want 3", c.ID, c.Pushed)
		}
	}
}

func TestUnregisterHaltsPush(t *testing.T) {
	bc := newCollectBroadcaster()
	tr := newTestTracker(t, WithDebounce(20*time.Millisecond), WithBroadcaster(bc))

	tr.RegisterClient("c1", ModePush)
	tr.SetViewing("c1", "e1")
	tr.UnregisterClient("c1")

	tr.MarkDirty("e1", "update", nil)
	time.Sleep(80 * time.Millisecond)
	if bc.count() != 0 {
		t.Fatal("push delivered to unregistered client")
	}
}

func TestConcurrentMarkDirtyDeterministic(t *testing.T) {
	bc := newCollectBroadcaster()
	tr := newTestTracker(t, WithDebounce(10*time.Millisecond), WithBroadcaster(bc))

	tr.RegisterClient("c1", ModePush)
	tr.SetViewing("c1", "e1")

	const (
		goroutines = 8
		perG       = 25
	)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				tr.MarkDirty("e1", "update", nil)
			}
		}()
	}
	wg.Wait()

	if v := tr.Version("e1"); v != goroutines*perG {
		t.Fatalf("version = %d, want %d", v, goroutines*perG)
	}

	// Every broadcast must have a consistent batch: version equals the
	// last change's version, and eventually the final version arrives.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-bc.done:
		case <-deadline:
			t.Fatal("final version never broadcast")
		}
		bc.mu.Lock()
		last := bc.batches[len(bc.batches)-1]
		bc.mu.Unlock()
		if n := len(last.changes); n > 0 && last.changes[n-1].Version != last.version {
			t.Fatalf("inconsistent batch: version %d, last change %d",
				last.version, last.changes[n-1].Version)
		}
		if last.version == goroutines*perG {
			return
		}
	}
}

func TestCloseStopsTimers(t *testing.T) {
	bc := newCollectBroadcaster()
	tr := NewTracker(slog.New(slog.DiscardHandler),
		WithDebounce(20*time.Millisecond), WithBroadcaster(bc))

	tr.RegisterClient("c1", ModePush)
	tr.SetViewing("c1", "e1")
	tr.MarkDirty("e1", "update", nil)
	tr.Close()

	time.Sleep(80 * time.Millisecond)
	if bc.count() != 0 {
		t.Fatal("broadcast fired after Close")
	}
	if v := tr.MarkDirty("e1", "update", nil); v != 0 {
		t.Fatalf("MarkDirty after Close returned %d", v)
	}
}
