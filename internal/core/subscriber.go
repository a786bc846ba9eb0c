package core

import (
	"sync"

	"github.com/avelkov/concierge-server/internal/store"
)

// Subscriber is one live connection bound to a single conversation. It exists
// only in process memory for the lifetime of the session; the transport owns
// its lifecycle end to end.
type Subscriber struct {
	ID             string
	UserID         int64
	Role           store.SenderRole
	ConversationID int64

	events    chan *store.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber constructs a subscriber with a buffered delivery channel.
func NewSubscriber(id string, userID int64, role store.SenderRole, conversationID int64, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	return &Subscriber{
		ID:             id,
		UserID:         userID,
		Role:           role,
		ConversationID: conversationID,
		events:         make(chan *store.Message, buffer),
		done:           make(chan struct{}),
	}
}

// Events is the stream of persisted messages to write to the transport.
func (s *Subscriber) Events() <-chan *store.Message {
	return s.events
}

// Done is closed when the subscriber is shut down.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close marks the subscriber dead. Safe to call multiple times and from any
// goroutine; the transport's write loop drains on Done.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// TrySend offers a message without blocking. Returns false when the
// subscriber is closed or its buffer is full, in which case the caller
// treats the connection as broken.
func (s *Subscriber) TrySend(msg *store.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- msg:
		return true
	default:
		return false
	}
}
