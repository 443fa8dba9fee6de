// Package session defines the core entities of a conversational runtime
// (sessions, messages, tasks) and the durable-store collaborator
// interface the worker layer delegates persistence to.
//
// A Session owns its mutable runtime state (input queue, processing flag,
// intervention slot, checkpoint) behind a session-scoped lock so that the
// owning worker and caller-facing API calls never contend on a global one.
package session
