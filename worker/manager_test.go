package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/quota"
	"github.com/xraph/colloquy/responder"
	"github.com/xraph/colloquy/session"
)

// ---------------
// Helpers
// ---------------

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	base := []ManagerOption{
		WithExecutor(NewExecutor(responder.Echo{}, nil, time.Second, testLogger())),
		WithIdleBackoff(fastIdle()),
	}
	m := NewManager(testLogger(), append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = m.StopAll(ctx)
	})
	return m
}

// ---------------
// Lifecycle
// ---------------

func TestManagerCreateAndGet(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.CreateSession(context.Background(), "alice", "acme", "support", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap.Owner != "alice" || snap.Status != session.StatusActive {
		t.Fatalf("snapshot = %+v, want active session for alice", snap)
	}

	got, err := m.Get(snap.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID.String() != snap.ID.String() {
		t.Errorf("get returned %s, want %s", got.ID, snap.ID)
	}

	if list := m.List(); len(list) != 1 {
		t.Errorf("list len = %d, want 1", len(list))
	}
}

func TestManagerOwnerSessionCap(t *testing.T) {
	q := quota.NewManager(quota.Config{MaxSessions: 2})
	m := newTestManager(t, WithQuota(q))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.CreateSession(ctx, "alice", "", "", session.Config{}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if !errors.Is(err, colloquy.ErrOverCapacity) {
		t.Fatalf("err = %v, want ErrOverCapacity", err)
	}
	var oce *session.OverCapacityError
	if !errors.As(err, &oce) {
		t.Fatalf("err = %T, want *OverCapacityError", err)
	}
	if oce.Owner != "alice" || oce.Active != 2 || oce.Cap != 2 {
		t.Errorf("OverCapacityError = %+v, want owner alice at 2/2", oce)
	}

	// Other owners are unaffected.
	if _, err := m.CreateSession(ctx, "bob", "", "", session.Config{}); err != nil {
		t.Fatalf("create for bob: %v", err)
	}
}

func TestManagerCloseReleasesSlot(t *testing.T) {
	q := quota.NewManager(quota.Config{MaxSessions: 1})
	m := newTestManager(t, WithQuota(q))

	ctx := context.Background()
	snap, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CloseSession(ctx, snap.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := m.Get(snap.ID); !errors.Is(err, colloquy.ErrSessionNotFound) {
		t.Errorf("get after close: err = %v, want ErrSessionNotFound", err)
	}
	if err := m.CloseSession(ctx, snap.ID); !errors.Is(err, colloquy.ErrSessionNotFound) {
		t.Errorf("double close: err = %v, want ErrSessionNotFound", err)
	}

	// The owner's slot is free again.
	if _, err := m.CreateSession(ctx, "alice", "", "", session.Config{}); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

// ---------------
// Input
// ---------------

func TestManagerSendAssignsContiguousTurns(t *testing.T) {
	m := newTestManager(t)

	ctx := context.Background()
	snap, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Replies land asynchronously, so the turn each send gets depends on
	// how many replies arrived in between. Only monotonicity is fixed.
	lastTurn := 0
	for i, content := range []string{"one", "two", "three"} {
		turn, err := m.Send(ctx, snap.ID, content)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if turn <= lastTurn {
			t.Fatalf("send %d: turn = %d, want greater than %d", i, turn, lastTurn)
		}
		lastTurn = turn
	}

	waitFor(t, "three replies", func() bool {
		got, err := m.Messages(ctx, snap.ID, 0, 0)
		return err == nil && len(got) == 6
	})

	msgs, err := m.Messages(ctx, snap.ID, 0, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	for i, msg := range msgs {
		if msg.Turn != i+1 {
			t.Errorf("message %d: turn = %d, want contiguous from 1", i, msg.Turn)
		}
	}

	since, err := m.Messages(ctx, snap.ID, 4, 0)
	if err != nil {
		t.Fatalf("messages since 4: %v", err)
	}
	if len(since) != 2 || since[0].Turn != 5 {
		t.Errorf("messages since 4 = %d records starting at turn %d, want 2 from 5", len(since), since[0].Turn)
	}
}

func TestManagerSendRateLimited(t *testing.T) {
	q := quota.NewManager(quota.Config{SendRate: 0.001, SendBurst: 1})
	m := newTestManager(t, WithQuota(q))

	ctx := context.Background()
	snap, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := m.Send(ctx, snap.ID, "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := m.Send(ctx, snap.ID, "second"); !errors.Is(err, colloquy.ErrRateLimited) {
		t.Fatalf("second send: err = %v, want ErrRateLimited", err)
	}
}

func TestManagerSendUnknownSession(t *testing.T) {
	m := newTestManager(t)
	other := session.New("x", "", "", session.Config{})
	if _, err := m.Send(context.Background(), other.ID, "hi"); !errors.Is(err, colloquy.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerInterveneRecordsTurn(t *testing.T) {
	r := newBlockingResponder()
	m := newTestManager(t, WithExecutor(NewExecutor(r, nil, 5*time.Second, testLogger())))

	ctx := context.Background()
	snap, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := m.Send(ctx, snap.ID, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-r.started

	turn, err := m.Intervene(ctx, snap.ID, "stop")
	if err != nil {
		t.Fatalf("intervene: %v", err)
	}
	if turn != 2 {
		t.Fatalf("intervention turn = %d, want 2", turn)
	}

	r.release <- struct{}{} // discarded reply for "hello"
	<-r.started
	r.release <- struct{}{} // intervention reply
	<-r.started
	r.release <- struct{}{} // fresh reply for "hello"

	waitFor(t, "full transcript", func() bool {
		msgs, err := m.Messages(ctx, snap.ID, 0, 0)
		return err == nil && len(msgs) == 4
	})

	msgs, _ := m.Messages(ctx, snap.ID, 0, 0)
	if msgs[2].Content != "reply 2" || msgs[3].Content != "reply 3" {
		t.Errorf("replies = %q, %q; want the intervention answered before the interrupted item", msgs[2].Content, msgs[3].Content)
	}
}

// ---------------
// Diagnostics and shutdown
// ---------------

func TestManagerDiagnostics(t *testing.T) {
	r := newBlockingResponder()
	m := newTestManager(t, WithExecutor(NewExecutor(r, nil, 5*time.Second, testLogger())))

	ctx := context.Background()
	snap, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateSession(ctx, "bob", "", "", session.Config{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := m.Send(ctx, snap.ID, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-r.started

	d := m.Diagnostics()
	if d.TotalSessions != 2 || d.ActiveSessions != 2 {
		t.Errorf("diagnostics = %+v, want 2 total, 2 active", d)
	}
	if d.ProcessingSessions != 1 {
		t.Errorf("processing = %d, want 1 mid-responder session", d.ProcessingSessions)
	}

	r.release <- struct{}{}
}

func TestManagerStopAllFinishesCurrentItems(t *testing.T) {
	r := newBlockingResponder()
	m := NewManager(testLogger(),
		WithExecutor(NewExecutor(r, nil, 5*time.Second, testLogger())),
		WithIdleBackoff(fastIdle()),
	)

	ctx := context.Background()
	snap, err := m.CreateSession(ctx, "alice", "", "", session.Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Send(ctx, snap.ID, "in flight"); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-r.started

	stopDone := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		stopDone <- m.StopAll(stopCtx)
	}()

	r.release <- struct{}{}
	if err := <-stopDone; err != nil {
		t.Fatalf("stop all: %v", err)
	}

	msgs, err := m.Messages(ctx, snap.ID, 0, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("transcript len = %d, want the in-flight item completed", len(msgs))
	}
}
