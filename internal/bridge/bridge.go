// Package bridge groups event observers by session and fans bus events out
// to them. Each observer owns a buffered queue, so a slow consumer drops
// events instead of stalling the rest; events that do arrive preserve the
// order they were produced in. There is no replay: an observer that missed
// events resynchronizes through the pull interface.
package bridge

import (
	"errors"
	"sync"

	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logging"
)

// observerQueueSize bounds each observer's undelivered backlog.
const observerQueueSize = 64

// ErrUnknownObserver indicates a join/leave against an observer id that was
// never registered or has already been released.
var ErrUnknownObserver = errors.New("unknown observer")

type observer struct {
	id string
	// global observers receive every event regardless of session.
	global   bool
	sessions map[string]struct{}
	queue    chan event.Event
}

// Bridge routes session-scoped events from the bus to registered observers.
// Events arrive on a single bus subscription, so delivery into each
// observer's queue preserves production order.
type Bridge struct {
	mu        sync.Mutex
	observers map[string]*observer

	unsubscribe func()
	closed      bool
}

// New creates a bridge wired to the bus. Release it with Close.
func New(bus *event.Bus) *Bridge {
	b := &Bridge{observers: make(map[string]*observer)}
	b.unsubscribe = bus.Subscribe(b.dispatch)
	return b
}

// Close detaches the bridge from the bus and releases every observer.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.unsubscribe()
	for id, obs := range b.observers {
		delete(b.observers, id)
		close(obs.queue)
	}
}

// Register adds an observer subscribed to the given sessions and returns
// its delivery channel plus a release function. The channel is closed on
// release.
func (b *Bridge) Register(observerID string, sessionIDs ...string) (<-chan event.Event, func()) {
	obs := &observer{
		id:       observerID,
		sessions: make(map[string]struct{}, len(sessionIDs)),
		queue:    make(chan event.Event, observerQueueSize),
	}
	for _, id := range sessionIDs {
		obs.sessions[id] = struct{}{}
	}

	b.mu.Lock()
	if prev, ok := b.observers[observerID]; ok {
		// Re-registration under the same id replaces the old stream.
		close(prev.queue)
	}
	if b.closed {
		close(obs.queue)
	} else {
		b.observers[observerID] = obs
	}
	b.mu.Unlock()

	return obs.queue, func() { b.release(observerID, obs) }
}

// RegisterGlobal adds an observer that receives every event.
func (b *Bridge) RegisterGlobal(observerID string) (<-chan event.Event, func()) {
	ch, cancel := b.Register(observerID)
	b.mu.Lock()
	if obs, ok := b.observers[observerID]; ok {
		obs.global = true
	}
	b.mu.Unlock()
	return ch, cancel
}

// Join subscribes an existing observer to a session's events.
func (b *Bridge) Join(observerID, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obs, ok := b.observers[observerID]
	if !ok {
		return ErrUnknownObserver
	}
	obs.sessions[sessionID] = struct{}{}
	return nil
}

// Leave unsubscribes an observer from a session. Leaving a session the
// observer never joined is a no-op.
func (b *Bridge) Leave(observerID, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obs, ok := b.observers[observerID]
	if !ok {
		return ErrUnknownObserver
	}
	delete(obs.sessions, sessionID)
	return nil
}

// release drops the observer, but only while it is still the registered
// stream for that id; a replacement registered later stays untouched.
func (b *Bridge) release(observerID string, obs *observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.observers[observerID]; ok && current == obs {
		delete(b.observers, observerID)
		close(obs.queue)
	}
}

// dispatch runs on the bus subscriber goroutine, one event at a time.
func (b *Bridge) dispatch(e event.Event) {
	sessionID := event.SessionID(e)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, obs := range b.observers {
		if !obs.global {
			if sessionID == "" {
				continue
			}
			if _, ok := obs.sessions[sessionID]; !ok {
				continue
			}
		}
		select {
		case obs.queue <- e:
		default:
			logging.Warn().
				Str("observerID", obs.id).
				Str("event", string(e.Type)).
				Msg("observer queue full, dropping event")
		}
	}

	// Evicted sessions emit nothing further; drop the memberships so later
	// reuse of the id cannot leak into stale observers.
	if e.Type == event.SessionDeleted && sessionID != "" {
		for _, obs := range b.observers {
			delete(obs.sessions, sessionID)
		}
	}
}
