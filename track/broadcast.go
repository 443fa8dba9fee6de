package track

import "context"

// Broadcaster delivers debounced change batches to push-mode clients.
// Delivery mechanics (fan-out, buffering, drops) belong to the
// implementation; the tracker only hands over the batch.
type Broadcaster interface {
	Broadcast(ctx context.Context, entityID string, version int64, changes []Change)
}

// NopBroadcaster discards every batch. It is the default when no
// transport is wired.
type NopBroadcaster struct{}

// Broadcast implements Broadcaster.
func (NopBroadcaster) Broadcast(context.Context, string, int64, []Change) {}

var _ Broadcaster = NopBroadcaster{}

// BroadcastFunc adapts a function to the Broadcaster interface.
type BroadcastFunc func(ctx context.Context, entityID string, version int64, changes []Change)

// Broadcast implements Broadcaster.
func (f BroadcastFunc) Broadcast(ctx context.Context, entityID string, version int64, changes []Change) {
	f(ctx, entityID, version, changes)
}
