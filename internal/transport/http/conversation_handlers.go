package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/core"
	"github.com/avelkov/concierge-server/internal/presence"
	"github.com/avelkov/concierge-server/internal/proto"
	"github.com/avelkov/concierge-server/internal/store"
)

const timeFormat = time.RFC3339Nano

// ConversationHandlers provides HTTP handlers for conversation endpoints,
// including the synchronous send path for clients without an open stream.
type ConversationHandlers struct {
	store    store.Store
	chat     *core.ChatService
	presence presence.Tracker
	pageMax  int
	log      *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(st store.Store, chat *core.ChatService, tracker presence.Tracker, pageMax int, logger *zerolog.Logger) *ConversationHandlers {
	if pageMax <= 0 {
		pageMax = 100
	}
	return &ConversationHandlers{
		store:    st,
		chat:     chat,
		presence: tracker,
		pageMax:  pageMax,
		log:      logger,
	}
}

// SendMessageRequest represents the synchronous send body.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID          int64                `json:"id"`
	RequestID   int64                `json:"request_id"`
	UserID      int64                `json:"user_id"`
	CreatedAt   string               `json:"created_at"`
	LastMessage *proto.MessageFrame  `json:"last_message,omitempty"`
	Messages    []proto.MessageFrame `json:"messages,omitempty"`
}

// ListConversations lists the caller's conversations with a last-message
// preview; admins see all conversations.
// GET /api/v1/conversations
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	limit, offset := pageParams(c, 20)

	userID := p.UserID
	if p.IsAdmin {
		userID = 0
	}

	conversations, err := h.store.ListConversations(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		resp := conversationResponse(conv)
		if last, err := h.store.LastMessage(c.Request.Context(), conv.ID); err == nil {
			frame := proto.FrameFromMessage(last)
			resp.LastMessage = &frame
		}
		out = append(out, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": out, "limit": limit, "offset": offset})
}

// GetConversation returns a conversation with its messages.
// GET /api/v1/conversations/:id
func (h *ConversationHandlers) GetConversation(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	conv, err := h.chat.Authorize(c.Request.Context(), p, conversationID)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	msgs, err := h.chat.History(c.Request.Context(), p, conversationID, 0, h.pageMax)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	resp := conversationResponse(conv)
	resp.Messages = frames(msgs)
	c.JSON(http.StatusOK, resp)
}

// History returns messages after an identifier cursor, oldest first.
// Reconnecting clients use it to fill gaps missed during disconnection.
// GET /api/v1/conversations/:id/messages?after_id=&limit=
func (h *ConversationHandlers) History(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	afterID := int64(0)
	if v, err := strconv.ParseInt(c.DefaultQuery("after_id", "0"), 10, 64); err == nil && v >= 0 {
		afterID = v
	}

	limit := h.pageMax
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 && v < h.pageMax {
		limit = v
	}

	msgs, err := h.chat.History(c.Request.Context(), p, conversationID, afterID, limit)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"after_id":        afterID,
		"messages":        frames(msgs),
	})
}

// SendMessage is the synchronous delivery path: the same persist step and the
// same fan-out as the WebSocket session, for clients without an open stream.
// POST /api/v1/conversations/:id/messages
func (h *ConversationHandlers) SendMessage(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), p, conversationID, req.Content)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	if err := h.presence.Touch(c.Request.Context(), conversationID, p.UserID); err != nil {
		h.log.Debug().Err(err).Msg("presence touch failed")
	}

	c.JSON(http.StatusCreated, proto.FrameFromMessage(msg))
}

// Presence lists users recently active in the conversation. Empty when the
// tracker is disabled.
// GET /api/v1/conversations/:id/presence
func (h *ConversationHandlers) Presence(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	if _, err := h.chat.Authorize(c.Request.Context(), p, conversationID); err != nil {
		h.writeChatError(c, err)
		return
	}

	online, err := h.presence.Online(c.Request.Context(), conversationID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("presence lookup failed")
		online = nil
	}
	if online == nil {
		online = []int64{}
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "online_user_ids": online})
}

func (h *ConversationHandlers) writeChatError(c *gin.Context, err error) {
	var coreErr *core.CoreError
	if errors.As(err, &coreErr) {
		c.JSON(statusFromCode(coreErr.Code), ErrorResponse{Error: coreErr.Message})
		return
	}

	h.log.Error().Err(err).Msg("conversation operation failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

func statusFromCode(code string) int {
	switch code {
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeAccessDenied:
		return http.StatusForbidden
	case core.ErrCodeInvalidMessage:
		return http.StatusBadRequest
	case core.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func conversationIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		RequestID: conv.RequestID,
		UserID:    conv.UserID,
		CreatedAt: conv.CreatedAt.Format(timeFormat),
	}
}

func frames(msgs []*store.Message) []proto.MessageFrame {
	out := make([]proto.MessageFrame, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, proto.FrameFromMessage(m))
	}
	return out
}
