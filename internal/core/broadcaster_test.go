package core

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/store"
)

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func testMessage(id, conversationID int64) *store.Message {
	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       1,
		SenderRole:     store.SenderUser,
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}
}

func mustReceive(t *testing.T, sub *Subscriber, wantID int64) {
	t.Helper()
	select {
	case msg := <-sub.Events():
		if msg.ID != wantID {
			t.Fatalf("expected message %d, got %d", wantID, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message %d", wantID)
	}
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	registry := NewRegistry()
	b := NewBroadcaster(registry, nopLogger())

	subA := NewSubscriber("a", 10, store.SenderUser, 1, 8)
	subB := NewSubscriber("b", 11, store.SenderAdmin, 1, 8)
	other := NewSubscriber("c", 12, store.SenderUser, 2, 8)
	registry.Register(subA)
	registry.Register(subB)
	registry.Register(other)

	b.Deliver(1, testMessage(1, 1))

	mustReceive(t, subA, 1)
	mustReceive(t, subB, 1)

	select {
	case msg := <-other.Events():
		t.Fatalf("subscriber of another conversation received message %d", msg.ID)
	default:
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	registry := NewRegistry()
	b := NewBroadcaster(registry, nopLogger())

	slow := NewSubscriber("slow", 10, store.SenderUser, 1, 1)
	healthy := NewSubscriber("healthy", 11, store.SenderUser, 1, 8)
	registry.Register(slow)
	registry.Register(healthy)

	// First delivery fills the slow subscriber's buffer; the second cannot
	// be accepted so it gets dropped and unregistered.
	b.Deliver(1, testMessage(1, 1))
	b.Deliver(1, testMessage(2, 1))

	mustReceive(t, healthy, 1)
	mustReceive(t, healthy, 2)

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not closed")
	}

	if got := registry.Count(1); got != 1 {
		t.Fatalf("expected only healthy subscriber to remain, got %d", got)
	}

	// Later deliveries no longer reach the dropped subscriber.
	b.Deliver(1, testMessage(3, 1))
	mustReceive(t, healthy, 3)
	if got := len(slow.Events()); got > 1 {
		t.Fatalf("dropped subscriber kept receiving: %d buffered", got)
	}
}

func TestBroadcasterDeliverySkipsClosedSubscriber(t *testing.T) {
	registry := NewRegistry()
	b := NewBroadcaster(registry, nopLogger())

	sub := NewSubscriber("a", 10, store.SenderUser, 1, 8)
	registry.Register(sub)
	sub.Close()

	b.Deliver(1, testMessage(1, 1))

	if got := registry.Count(1); got != 0 {
		t.Fatalf("closed subscriber should have been pruned, got count %d", got)
	}
	select {
	case msg := <-sub.Events():
		t.Fatalf("closed subscriber received message %d", msg.ID)
	default:
	}
}
