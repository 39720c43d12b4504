package session

import (
	"sync"

	"github.com/seantiz/desolidify/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event types.
const (
	EventStatus   = "status"
	EventArtifact = "artifact"
)

// Event is a session change delivered to subscribers. Status events carry
// Job; artifact events carry Slot and Handle (empty when released).
type Event struct {
	Type   string     `json:"type"`
	Job    *model.Job `json:"job,omitempty"`
	Slot   model.Slot `json:"slot,omitempty"`
	Handle string     `json:"handle,omitempty"`
}

// Broker fans session events out to subscribers. It is safe for concurrent use.
// After Close, Subscribe returns an already-closed channel so late subscribers
// never block.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events and an unsubscribe function.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish sends e to every subscriber, dropping it for full buffers.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			eventsDropped.Inc()
		}
	}
}

// Close closes every subscriber channel. Further publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
