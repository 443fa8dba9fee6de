package hook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/colloquy"
)

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return NewDispatcher(logger, opts...)
}

func noop(_ context.Context, _ *Context) (*Context, error) {
	return nil, nil
}

// ---------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------

func TestRegisterValidation(t *testing.T) {
	d := newTestDispatcher(t)

	if _, err := d.Register(Point("bogus.point"), "h", noop); !errors.Is(err, colloquy.ErrUnknownPoint) {
		t.Fatalf("expected ErrUnknownPoint, got %v", err)
	}
	if _, err := d.Register(MessageBefore, "", noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := d.Register(MessageBefore, "h", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}

	if _, err := d.Register(MessageBefore, "h", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := d.Register(MessageBefore, "h", noop); !errors.Is(err, colloquy.ErrDuplicateHandler) {
		t.Fatalf("expected ErrDuplicateHandler, got %v", err)
	}

	// Same name at a different point is fine.
	if _, err := d.Register(MessageAfter, "h", noop); err != nil {
		t.Fatalf("register at other point: %v", err)
	}
}

func TestPriorityOrdering(t *testing.T) {
	d := newTestDispatcher(t)

	var order []string
	record := func(name string) Func {
		return func(_ context.Context, _ *Context) (*Context, error) {
			order = append(order, name)
			return nil, nil
		}
	}

	d.Register(MessageBefore, "late", record("late"), WithPriority(900))
	d.Register(MessageBefore, "default-a", record("default-a"))
	d.Register(MessageBefore, "early", record("early"), WithPriority(100))
	d.Register(MessageBefore, "default-b", record("default-b"))

	d.Dispatch(context.Background(), MessageBefore, NewContext(MessageBefore, "s1", nil))

	want := []string{"early", "default-a", "default-b", "late"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, order, want)
		}
	}
}

func TestEqualPriorityKeepsRegistrationOrder(t *testing.T) {
	d := newTestDispatcher(t)

	var order []string
	for _, name := range []string{"a", "b", "c", "d"} {
		name := name
		d.Register(CheckBefore, name, func(_ context.Context, _ *Context) (*Context, error) {
			order = append(order, name)
			return nil, nil
		}, WithPriority(200))
	}

	d.Dispatch(context.Background(), CheckBefore, nil)

	for i, name := range []string{"a", "b", "c", "d"} {
		if order[i] != name {
			t.Fatalf("position %d: got %v", i, order)
		}
	}
}

// ---------------------------------------------------------------------
// Dispatch semantics
// ---------------------------------------------------------------------

func TestBehavioralReplacesContext(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(MessageBefore, "rewrite", func(_ context.Context, hc *Context) (*Context, error) {
		out := hc.Clone()
		out.Data["content"] = "rewritten"
		return out, nil
	}, Behavioral(), WithPriority(100))

	var seen string
	d.Register(MessageBefore, "observe", func(_ context.Context, hc *Context) (*Context, error) {
		seen = hc.String("content")
		return nil, nil
	}, WithPriority(200))

	in := NewContext(MessageBefore, "s1", map[string]any{"content": "original"})
	out := d.Dispatch(context.Background(), MessageBefore, in)

	if got := out.String("content"); got != "rewritten" {
		t.Fatalf("result content = %q, want rewritten", got)
	}
	if seen != "rewritten" {
		t.Fatalf("downstream handler saw %q, want rewritten", seen)
	}
	if in.String("content") != "original" {
		t.Fatal("dispatch mutated the caller's context")
	}
}

func TestObservationalReturnIgnored(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(MessageBefore, "sneaky", func(_ context.Context, hc *Context) (*Context, error) {
		out := hc.Clone()
		out.Data["content"] = "tampered"
		return out, nil
	})

	in := NewContext(MessageBefore, "s1", map[string]any{"content": "original"})
	out := d.Dispatch(context.Background(), MessageBefore, in)

	if got := out.String("content"); got != "original" {
		t.Fatalf("observational handler modified chain context: %q", got)
	}
}

func TestBehavioralInvalidReturnIgnored(t *testing.T) {
	d := newTestDispatcher(t)

	// Nil return from a behavioral handler keeps the current context.
	d.Register(MessageBefore, "nil-return", func(_ context.Context, _ *Context) (*Context, error) {
		return nil, nil
	}, Behavioral(), WithPriority(100))

	// Returning a context addressed to another point is rejected too.
	d.Register(MessageBefore, "wrong-point", func(_ context.Context, _ *Context) (*Context, error) {
		return NewContext(SessionEnd, "s1", map[string]any{"content": "hijacked"}), nil
	}, Behavioral(), WithPriority(200))

	in := NewContext(MessageBefore, "s1", map[string]any{"content": "original"})
	out := d.Dispatch(context.Background(), MessageBefore, in)

	if got := out.String("content"); got != "original" {
		t.Fatalf("invalid behavioral return was honored: %q", got)
	}
}

func TestHandlerErrorIsolated(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(ToolBefore, "failing", func(_ context.Context, _ *Context) (*Context, error) {
		return nil, errors.New("boom")
	}, WithPriority(100))

	ran := false
	d.Register(ToolBefore, "after", func(_ context.Context, _ *Context) (*Context, error) {
		ran = true
		return nil, nil
	}, WithPriority(200))

	d.Dispatch(context.Background(), ToolBefore, nil)
	if !ran {
		t.Fatal("handler after a failing handler did not run")
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(ToolAfter, "panicking", func(_ context.Context, _ *Context) (*Context, error) {
		panic("kaboom")
	}, WithPriority(100))

	ran := false
	d.Register(ToolAfter, "after", func(_ context.Context, _ *Context) (*Context, error) {
		ran = true
		return nil, nil
	}, WithPriority(200))

	out := d.Dispatch(context.Background(), ToolAfter, NewContext(ToolAfter, "s1", nil))
	if !ran {
		t.Fatal("handler after a panicking handler did not run")
	}
	if out == nil {
		t.Fatal("dispatch returned nil after panic")
	}
}

func TestBehavioralErrorDiscardsResult(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(MessageBefore, "err-with-result", func(_ context.Context, hc *Context) (*Context, error) {
		out := hc.Clone()
		out.Data["content"] = "half-done"
		return out, errors.New("failed midway")
	}, Behavioral())

	in := NewContext(MessageBefore, "s1", map[string]any{"content": "original"})
	out := d.Dispatch(context.Background(), MessageBefore, in)

	if got := out.String("content"); got != "original" {
		t.Fatalf("errored handler's result was honored: %q", got)
	}
}

func TestBudgetSkipsRemaining(t *testing.T) {
	d := newTestDispatcher(t, WithBudget(30*time.Millisecond))

	d.Register(CheckAfter, "slow", func(_ context.Context, _ *Context) (*Context, error) {
		time.Sleep(60 * time.Millisecond)
		return nil, nil
	}, WithPriority(100))

	ran := false
	d.Register(CheckAfter, "skipped", func(_ context.Context, _ *Context) (*Context, error) {
		ran = true
		return nil, nil
	}, WithPriority(200))

	out := d.Dispatch(context.Background(), CheckAfter, NewContext(CheckAfter, "s1", map[string]any{"k": "v"}))
	if ran {
		t.Fatal("handler ran after budget exhaustion")
	}
	if out.String("k") != "v" {
		t.Fatal("budget exhaustion lost the best-effort context")
	}
}

func TestDisabledHandlerSkipped(t *testing.T) {
	d := newTestDispatcher(t)

	ran := false
	d.Register(SessionStart, "toggled", func(_ context.Context, _ *Context) (*Context, error) {
		ran = true
		return nil, nil
	})

	if !d.SetEnabled(SessionStart, "toggled", false) {
		t.Fatal("SetEnabled did not find handler")
	}
	d.Dispatch(context.Background(), SessionStart, nil)
	if ran {
		t.Fatal("disabled handler ran")
	}

	d.SetEnabled(SessionStart, "toggled", true)
	d.Dispatch(context.Background(), SessionStart, nil)
	if !ran {
		t.Fatal("re-enabled handler did not run")
	}
}

func TestUnregister(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(SessionEnd, "h", noop)
	if !d.Unregister(SessionEnd, "h") {
		t.Fatal("unregister did not find handler")
	}
	if d.Unregister(SessionEnd, "h") {
		t.Fatal("second unregister reported found")
	}
	if d.Count(SessionEnd) != 0 {
		t.Fatalf("count after unregister = %d", d.Count(SessionEnd))
	}
}

func TestDispatchAsync(t *testing.T) {
	d := newTestDispatcher(t)

	done := make(chan struct{})
	d.Register(PersistAfter, "async", func(_ context.Context, _ *Context) (*Context, error) {
		close(done)
		return nil, nil
	})

	d.DispatchAsync(context.Background(), PersistAfter, NewContext(PersistAfter, "s1", nil))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	d := newTestDispatcher(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		i := i
		go func() {
			defer wg.Done()
			name := string(rune('a' + i%26))
			d.Register(MessageAfter, name+string(rune('0'+i/26)), noop)
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), MessageAfter, nil)
		}()
	}
	wg.Wait()

	if d.Count(MessageAfter) != 20 {
		t.Fatalf("count = %d, want 20", d.Count(MessageAfter))
	}
}

// ---------------------------------------------------------------------
// Catalog loading
// ---------------------------------------------------------------------

func TestLoadCatalog(t *testing.T) {
	d := newTestDispatcher(t)

	cat := Catalog{
		string(MessageBefore): {
			{Name: "one", Handler: noop},
			{Name: "two", Priority: 100, Behavioral: true, Handler: noop},
		},
		string(SessionStart): {
			{Name: "three", Handler: noop},
		},
		"no.such.point": {
			{Name: "ghost", Handler: noop},
		},
		string(SessionEnd): {
			{Name: "", Handler: noop},  // empty name, skipped
			{Name: "nil-fn"},           // nil handler, skipped
			{Name: "ok", Handler: noop},
		},
	}

	if n := d.LoadCatalog("test-source", cat); n != 4 {
		t.Fatalf("registered %d handlers, want 4", n)
	}
	if !d.SourceLoaded("test-source") {
		t.Fatal("source not recorded as loaded")
	}

	// Reloading the same source is a no-op.
	if n := d.LoadCatalog("test-source", cat); n != 0 {
		t.Fatalf("reload registered %d handlers, want 0", n)
	}
	if d.TotalCount() != 4 {
		t.Fatalf("total = %d, want 4", d.TotalCount())
	}

	regs := d.Handlers(MessageBefore)
	if len(regs) != 2 {
		t.Fatalf("message.before handlers = %d, want 2", len(regs))
	}
	if regs[0].Name != "two" {
		t.Fatalf("priority 100 handler not first: %q", regs[0].Name)
	}
	if !regs[0].Behavioral {
		t.Fatal("behavioral flag lost in catalog load")
	}
	for _, r := range regs {
		if r.Source != "test-source" {
			t.Fatalf("handler %q source = %q", r.Name, r.Source)
		}
	}
}

// ---------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------

func TestIntrospection(t *testing.T) {
	d := newTestDispatcher(t)

	d.Register(MessageBefore, "a", noop, WithPriority(100), WithDescription("first"))
	d.Register(MessageBefore, "b", noop)
	d.Register(SessionStart, "c", noop)

	if d.TotalCount() != 3 {
		t.Fatalf("total = %d", d.TotalCount())
	}

	all := d.AllHandlers()
	if len(all[MessageBefore]) != 2 || len(all[SessionStart]) != 1 {
		t.Fatalf("unexpected grouping: %v", all)
	}
	if all[MessageBefore][0].Description != "first" {
		t.Fatal("description not exposed")
	}

	if len(Points()) != 10 {
		t.Fatalf("catalog size = %d, want 10", len(Points()))
	}
	for _, p := range Points() {
		if !Known(p) {
			t.Fatalf("catalog point %q not known", p)
		}
	}
}
