package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyContent is returned when a message body is blank.
	ErrEmptyContent = errors.New("message content is empty")
)

// User represents a registered account.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// RequestStatus defines the lifecycle state of a concierge request.
type RequestStatus string

const (
	RequestStatusOpen       RequestStatus = "open"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusClosed     RequestStatus = "closed"
)

// Request represents a submitted concierge request.
type Request struct {
	ID          int64
	Reference   string // UUID shown to the client
	UserID      int64
	Title       string
	Description string
	Status      RequestStatus
	CreatedAt   time.Time
}

// Conversation is the chat thread tied 1:1 to a request.
type Conversation struct {
	ID        int64
	RequestID int64
	UserID    int64
	CreatedAt time.Time
}

// SenderRole identifies which side of the conversation sent a message.
type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderAdmin SenderRole = "admin"
)

// Valid reports whether the role belongs to the closed set.
func (r SenderRole) Valid() bool {
	return r == SenderUser || r == SenderAdmin
}

// Message represents a persisted chat message. Immutable once created;
// identifiers are assigned by the store and are strictly increasing per
// conversation.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderRole     SenderRole
	Content        string
	CreatedAt      time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, email, fullName, passwordHash string, isAdmin bool) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// RequestStore handles concierge request persistence.
type RequestStore interface {
	// CreateRequest creates a request together with its linked conversation
	// in one transaction and returns both.
	CreateRequest(ctx context.Context, userID int64, reference, title, description string) (*Request, *Conversation, error)

	// GetRequestByID retrieves a request by ID.
	GetRequestByID(ctx context.Context, id int64) (*Request, error)

	// ListRequests lists requests for a user, newest first.
	// userID 0 lists all requests (admin view).
	ListRequests(ctx context.Context, userID int64, limit, offset int) ([]*Request, error)

	// UpdateRequestStatus transitions a request's status.
	UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// GetConversationByID retrieves a conversation by ID.
	GetConversationByID(ctx context.Context, id int64) (*Conversation, error)

	// GetConversationByRequestID retrieves the conversation linked to a request.
	GetConversationByRequestID(ctx context.Context, requestID int64) (*Conversation, error)

	// ListConversations lists conversations for a user, newest first.
	// userID 0 lists all conversations (admin view).
	ListConversations(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error)
}

// MessageStore handles message persistence. This is the durability boundary
// for chat fan-out: a message must be appended here before any delivery.
type MessageStore interface {
	// AppendMessage atomically persists a message and assigns it the next
	// identifier in the conversation's sequence. Concurrent appends to the
	// same conversation serialize; completion order matches identifier order.
	// Returns ErrEmptyContent for blank content and ErrNotFound when the
	// conversation does not exist.
	AppendMessage(ctx context.Context, conversationID, senderID int64, role SenderRole, content string) (*Message, error)

	// ListMessagesSince returns up to limit messages with ID greater than
	// afterID, oldest first. afterID 0 reads from the beginning; the caller
	// paginates by passing the last seen ID back in.
	ListMessagesSince(ctx context.Context, conversationID, afterID int64, limit int) ([]*Message, error)

	// LastMessage returns the newest message in a conversation, or
	// ErrNotFound when the conversation has none.
	LastMessage(ctx context.Context, conversationID int64) (*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RequestStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
