// Package event provides the pub/sub event system for the server using watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/coderelay/coderelay/internal/logging"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionDeleted EventType = "session.deleted"
	SessionStatus  EventType = "session.status"
	MessageCreated EventType = "message.created"
	QuestionAsked  EventType = "question.pending"
	TaskCompleted  EventType = "task.completed"
)

// Topic is the watermill topic the bus mirrors every event onto.
const Topic = "coderelay.events"

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// queueSize bounds the per-subscriber delivery queue. A subscriber that
// cannot keep up loses events rather than stalling producers or reordering
// delivery for anyone else.
const queueSize = 64

// subscriberEntry wraps a subscriber with its delivery queue. Each entry
// owns a dedicated drain goroutine, so events reach every subscriber in
// the exact order they were published.
type subscriberEntry struct {
	id    uint64
	types map[EventType]bool // nil means all types
	queue chan Event
	done  chan struct{}
}

// Bus is the event bus. It keeps typed in-process delivery with strict
// per-subscriber ordering, and mirrors every event as JSON onto a watermill
// gochannel topic for outboard consumers (middleware, future distributed
// backends).
type Bus struct {
	mu sync.RWMutex

	pubsub  *gochannel.GoChannel
	entries []*subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Subscribe registers a subscriber for specific event types. With no types
// given the subscriber receives every event. Returns an unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber, eventTypes ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := &subscriberEntry{
		id:    atomic.AddUint64(&b.nextID, 1),
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	if len(eventTypes) > 0 {
		entry.types = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			entry.types[t] = true
		}
	}
	b.entries = append(b.entries, entry)

	go entry.drain(fn)

	return func() {
		b.unsubscribe(entry.id)
	}
}

// drain delivers queued events one at a time until the entry is closed.
func (e *subscriberEntry) drain(fn Subscriber) {
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.queue:
			fn(ev)
		}
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.entries {
		if entry.id == id {
			close(entry.done)
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching subscriber's queue and mirrors
// it onto the watermill topic. Delivery is best-effort: a full subscriber
// queue drops the event for that subscriber only.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	for _, entry := range b.entries {
		if entry.types != nil && !entry.types[event.Type] {
			continue
		}
		select {
		case entry.queue <- event:
		default:
			logging.Warn().
				Str("eventType", string(event.Type)).
				Msg("event dropped: subscriber queue full")
		}
	}
	pubsub := b.pubsub
	b.mu.RUnlock()

	if payload, err := json.Marshal(event); err == nil {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("type", string(event.Type))
		_ = pubsub.Publish(Topic, msg)
	}
}

// Messages exposes the raw watermill subscription for the mirrored topic.
func (b *Bus) Messages(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close closes the bus and stops all subscriber goroutines.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, entry := range b.entries {
		close(entry.done)
	}
	b.entries = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
