package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/colloquy/track"
)

// Broker is the push transport behind the change tracker. Debounced
// change batches arrive through the track.Broadcaster interface and
// fan out to subscribers via topic-based pub/sub.
var _ track.Broadcaster = (*Broker)(nil)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker fans events out to subscribers. It is safe for concurrent use.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a broker with the given logger.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// ── Tracker transport ───────────────────────────────

// Broadcast implements track.Broadcaster: a debounced change batch for
// an entity becomes a session.changed event on the entity's topic.
func (b *Broker) Broadcast(_ context.Context, entityID string, version int64, changes []track.Change) {
	b.publish(&Event{
		Type:      EventSessionChanged,
		Timestamp: time.Now().UTC(),
		Topic:     SessionTopic(entityID),
		Data: mustMarshal(ChangeEventData{
			EntityID: entityID,
			Version:  version,
			Changes:  mustMarshal(changes),
		}),
	})
}

// ── Session lifecycle ───────────────────────────────

// PublishSessionCreated emits a session.created event.
func (b *Broker) PublishSessionCreated(sessionID, owner string) {
	b.publish(&Event{
		Type:      EventSessionCreated,
		Timestamp: time.Now().UTC(),
		Topic:     SessionTopic(sessionID),
		Data: mustMarshal(SessionEventData{
			SessionID: sessionID,
			Owner:     owner,
		}),
	})
}

// PublishSessionClosed emits a session.closed event.
func (b *Broker) PublishSessionClosed(sessionID string, turns int) {
	b.publish(&Event{
		Type:      EventSessionClosed,
		Timestamp: time.Now().UTC(),
		Topic:     SessionTopic(sessionID),
		Data: mustMarshal(SessionEventData{
			SessionID: sessionID,
			Turns:     turns,
		}),
	})
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

// Close closes every subscriber and forgets them.
func (b *Broker) Close() {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.topics.UnsubscribeAll(sub.ID())
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}
