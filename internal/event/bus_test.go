package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderelay/coderelay/pkg/types"
)

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubscribeReceivesMatchingTypes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []EventType
	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	}, SessionStatus)
	defer unsub()

	bus.Publish(Event{Type: SessionStatus, Data: SessionStatusData{}})
	bus.Publish(Event{Type: MessageCreated, Data: MessageCreatedData{}})
	bus.Publish(Event{Type: SessionStatus, Data: SessionStatusData{}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{SessionStatus, SessionStatus}, got)
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	const n = 50
	var mu sync.Mutex
	var got []string
	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Data.(TaskCompletedData).CommandID)
		mu.Unlock()
	})
	defer unsub()

	for i := 0; i < n; i++ {
		bus.Publish(Event{
			Type: TaskCompleted,
			Data: TaskCompletedData{CommandID: fmt.Sprintf("cmd-%03d", i)},
		})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, id := range got {
		require.Equal(t, fmt.Sprintf("cmd-%03d", i), id)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(Event{Type: SessionCreated, Data: SessionCreatedData{}})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	unsub()
	bus.Publish(Event{Type: SessionCreated, Data: SessionCreatedData{}})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus()

	var called atomic.Bool
	bus.Subscribe(func(e Event) { called.Store(true) })

	require.NoError(t, bus.Close())
	bus.Publish(Event{Type: SessionCreated, Data: SessionCreatedData{}})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, called.Load())
}

func TestSessionIDExtraction(t *testing.T) {
	sess := &types.Session{ID: "s1"}
	msg := &types.ConversationMessage{ID: "m1", SessionID: "s1"}
	q := &types.PendingQuestion{ID: "q1", SessionID: "s1"}

	assert.Equal(t, "s1", SessionID(Event{Type: SessionCreated, Data: SessionCreatedData{Info: sess}}))
	assert.Equal(t, "s1", SessionID(Event{Type: SessionStatus, Data: SessionStatusData{Info: sess}}))
	assert.Equal(t, "s1", SessionID(Event{Type: MessageCreated, Data: MessageCreatedData{Info: msg}}))
	assert.Equal(t, "s1", SessionID(Event{Type: QuestionAsked, Data: QuestionAskedData{Info: q}}))
	assert.Equal(t, "s1", SessionID(Event{Type: TaskCompleted, Data: TaskCompletedData{SessionID: "s1"}}))
	assert.Equal(t, "", SessionID(Event{Type: SessionCreated, Data: nil}))
}

func TestWatermillMirror(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := contextWithTimeout(t)
	defer cancel()

	msgs, err := bus.Messages(ctx)
	require.NoError(t, err)

	bus.Publish(Event{Type: SessionStatus, Data: SessionStatusData{Info: &types.Session{ID: "s1"}}})

	select {
	case m := <-msgs:
		assert.Equal(t, string(SessionStatus), m.Metadata.Get("type"))
		m.Ack()
	case <-ctx.Done():
		t.Fatal("no message on watermill topic")
	}
}
