package core

import (
	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/store"
)

// Broadcaster fans a persisted message out to every subscriber currently
// registered for its conversation. Callers must only hand it messages that
// the store has already accepted.
type Broadcaster struct {
	registry *Registry
	log      *zerolog.Logger
}

// NewBroadcaster constructs a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, log: logger}
}

// Deliver sends msg to each subscriber in the conversation's snapshot,
// independently. A subscriber that cannot accept the message (closed, or
// buffer full because its transport stopped draining) is unregistered and
// closed; no other delivery waits on it.
func (b *Broadcaster) Deliver(conversationID int64, msg *store.Message) {
	for _, sub := range b.registry.Snapshot(conversationID) {
		if sub.TrySend(msg) {
			continue
		}

		b.log.Warn().
			Str("subscriber_id", sub.ID).
			Int64("conversation_id", conversationID).
			Int64("message_id", msg.ID).
			Msg("dropping slow or closed subscriber")

		b.registry.Unregister(sub)
		sub.Close()
	}
}
