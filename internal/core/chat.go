package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/store"
)

// MaxContentLength bounds inbound message bodies.
const MaxContentLength = 4096

// Storage is the slice of the store the chat service needs.
type Storage interface {
	store.ConversationStore
	store.MessageStore
}

// ChatService implements the conversation core: authorization, the
// persist-before-broadcast send path, and history reads. Both the WebSocket
// session handler and the synchronous REST send path go through it, so the
// two-phase contract holds no matter how a message arrives.
type ChatService struct {
	storage     Storage
	registry    *Registry
	broadcaster *Broadcaster
	log         *zerolog.Logger
}

// NewChatService wires the chat core together.
func NewChatService(storage Storage, registry *Registry, broadcaster *Broadcaster, logger *zerolog.Logger) *ChatService {
	return &ChatService{
		storage:     storage,
		registry:    registry,
		broadcaster: broadcaster,
		log:         logger,
	}
}

// Authorize verifies the conversation exists and the principal may use it.
// Admins may access any conversation; users only their own.
func (s *ChatService) Authorize(ctx context.Context, p Principal, conversationID int64) (*store.Conversation, error) {
	conv, err := s.storage.GetConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound()
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if !p.IsAdmin && conv.UserID != p.UserID {
		return nil, ErrAccessDenied()
	}

	return conv, nil
}

// Subscribe authorizes the principal and registers a new subscriber for the
// conversation. Callers must pair it with Unsubscribe on every exit path.
func (s *ChatService) Subscribe(ctx context.Context, p Principal, conversationID int64, subscriberID string, buffer int) (*Subscriber, error) {
	if _, err := s.Authorize(ctx, p, conversationID); err != nil {
		return nil, err
	}

	sub := NewSubscriber(subscriberID, p.UserID, p.Role(), conversationID, buffer)
	s.registry.Register(sub)

	s.log.Debug().
		Str("subscriber_id", sub.ID).
		Int64("conversation_id", conversationID).
		Int64("user_id", p.UserID).
		Msg("subscriber registered")

	return sub, nil
}

// Unsubscribe removes the subscriber from the registry and closes it.
// Idempotent; safe from defer.
func (s *ChatService) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	s.registry.Unregister(sub)
	sub.Close()
}

// Send validates content, persists it, and only then fans it out to the
// conversation's current subscribers (the sender included, as the echo
// confirmation). The two phases never interleave: a message that did not
// reach the store is never delivered to anyone.
func (s *ChatService) Send(ctx context.Context, p Principal, conversationID int64, content string) (*store.Message, error) {
	if len(content) > MaxContentLength {
		return nil, ErrInvalidMessage("message content too long")
	}

	if _, err := s.Authorize(ctx, p, conversationID); err != nil {
		return nil, err
	}

	msg, err := s.storage.AppendMessage(ctx, conversationID, p.UserID, p.Role(), content)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyContent):
			return nil, ErrInvalidMessage("message content cannot be empty")
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrConversationNotFound()
		default:
			s.log.Error().Err(err).Int64("conversation_id", conversationID).Msg("append message failed")
			return nil, ErrStoreUnavailable()
		}
	}

	s.broadcaster.Deliver(conversationID, msg)
	return msg, nil
}

// History returns messages after the given cursor, oldest first. Reconnecting
// clients call it with their last seen message ID to fill delivery gaps.
func (s *ChatService) History(ctx context.Context, p Principal, conversationID, afterID int64, limit int) ([]*store.Message, error) {
	if _, err := s.Authorize(ctx, p, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.storage.ListMessagesSince(ctx, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
