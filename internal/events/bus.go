// Package events is the in-process broadcast bus. Components publish
// named events; listeners drain buffered channels. Publishing never
// blocks: a subscriber that stops draining loses events rather than
// stalling the publisher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samizdat-net/samizdat/internal/logging"
)

// Event names emitted by the orchestration layer.
const (
	// EventAnonymityBootstrap fires once per bootstrap run, after it
	// resolves either ready or timed out.
	EventAnonymityBootstrap = "anonymity.bootstrap"

	// EventContentPublished fires after content is published locally.
	EventContentPublished = "content.published"

	// EventNetworkJoined fires after the node joins a community
	// network.
	EventNetworkJoined = "community.joined"
)

// Event is one broadcast notification.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// subscriberBuffer is the per-subscriber channel depth before events
// start dropping.
const subscriberBuffer = 16

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a listener. The returned cancel function must
// be called when the listener goes away; it closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	id := uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	total := len(b.subs)
	b.mu.Unlock()

	logging.Debug("event subscriber registered",
		"total_subscribers", total,
		logging.Component("events"))

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish broadcasts a named event to every subscriber without
// blocking. Events to a full subscriber buffer are dropped.
func (b *Bus) Publish(name string, payload any) {
	event := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			logging.Warn("event subscriber lagging, dropping event",
				"event", name,
				logging.Component("events"))
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all subscriber channels.
// Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
