package ride

import "rideloop/internal/protocol"

type SubscriberID uint64

type busEntry struct {
	id SubscriberID
	fn func(protocol.Event)
}

// Bus is the typed pub/sub channel connecting the control components
// to external collaborators. Delivery is synchronous, fire-and-forget
// and at-least-once; handlers must be idempotent. Publish iterates a
// snapshot of the subscriber list, so subscribing or unsubscribing
// from inside a handler is safe. Not safe for concurrent use: the bus
// lives on the tick goroutine.
type Bus struct {
	subs   []busEntry
	nextID SubscriberID
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(fn func(protocol.Event)) SubscriberID {
	b.nextID++
	b.subs = append(b.subs, busEntry{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *Bus) Unsubscribe(id SubscriberID) {
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(e protocol.Event) {
	snapshot := make([]busEntry, len(b.subs))
	copy(snapshot, b.subs)
	for _, s := range snapshot {
		s.fn(e)
	}
}
