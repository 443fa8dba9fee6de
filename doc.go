// Package colloquy provides the concurrency core for an interactive,
// multi-session conversational runtime. It manages many simultaneous
// long-lived sessions, lets extensions observe or modify in-flight data
// at named lifecycle points, and propagates incremental state changes
// to observers with bounded memory.
//
// Colloquy is designed as a library, not a service. Import it, configure
// a store and a responder, and drive sessions through the engine API.
//
// # Quick Start
//
//	rt, err := colloquy.New(
//	    colloquy.WithStore(memory.New()),
//	    colloquy.WithOwnerSessionCap(5),
//	)
//	eng, err := engine.Build(rt,
//	    engine.WithResponder(anthropicResponder),
//	)
//	snap, err := eng.CreateSession(ctx, "alice", "", "support", session.Config{})
//	turn, err := eng.Send(ctx, snap.ID, "hello")
//
// # Architecture
//
// Three subsystems cooperate. The session worker manager runs one
// dedicated goroutine loop per session with out-of-band intervention
// steering and checkpointing. The hook dispatcher runs prioritized,
// isolated, time-bounded handler chains at a fixed catalog of lifecycle
// points. The change tracker assigns monotonic per-entity versions to
// mutations and delivers them to clients on demand or via debounced push.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package colloquy
