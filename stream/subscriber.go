package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one attached consumer of session events. Delivery is
// lossy by construction: the subscriber grants credits for how many
// events it is prepared to take, and a spent credit or full buffer
// drops the event instead of blocking the publishing worker. Drops are
// counted so a consumer can detect that it fell behind and re-sync via
// the tracker's pull path.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}
	// types narrows delivery to the listed event types. nil means all.
	types map[EventType]struct{}

	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// Dropped returns how many wanted events were lost to spent credits or
// a full buffer.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// FilterTypes narrows delivery to the given event types, replacing any
// previous selection. Calling it with no arguments restores delivery
// of every type.
func (s *Subscriber) FilterTypes(types ...EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(types) == 0 {
		s.types = nil
		return
	}
	s.types = make(map[EventType]struct{}, len(types))
	for _, t := range types {
		s.types[t] = struct{}{}
	}
}

// wants reports whether the subscriber's type selection admits the
// event.
func (s *Subscriber) wants(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.types == nil {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an event. Returns false when nothing was
// put on the channel: the subscriber is closed, the event's type is
// filtered out, or the event was dropped by flow control.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if !s.wants(evt) {
		return false
	}

	for {
		current := s.credits.Load()
		if current <= 0 {
			s.dropped.Add(1)
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full. Restore the credit, count the loss.
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
