package proto

import (
	"time"

	"github.com/avelkov/concierge-server/internal/store"
)

// Frame types sent to the client.
const (
	OutboundTypeConnected = "connected"
	OutboundTypeMessage   = "message"
	OutboundTypeError     = "error"
)

// WebSocket close codes, mirroring HTTP semantics.
const (
	CloseAuthFailed   = 4001
	CloseAccessDenied = 4003
	CloseNotFound     = 4004
)

// Inbound is a chat message from the client. The identifier and timestamp
// are assigned by the server at persist time.
type Inbound struct {
	Content string `json:"content"`
}

// MessageFrame is a persisted message broadcast to every subscriber of the
// conversation, the sender included.
type MessageFrame struct {
	Type           string `json:"type"`
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderType     string `json:"sender_type"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// ConnectedFrame confirms a successful subscription.
type ConnectedFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	SenderType     string `json:"sender_type"`
}

// ErrorFrame reports a failure to one client only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// FrameFromMessage converts a persisted message into its wire shape.
func FrameFromMessage(msg *store.Message) MessageFrame {
	return MessageFrame{
		Type:           OutboundTypeMessage,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderType:     string(msg.SenderRole),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt.Format(time.RFC3339Nano),
	}
}
