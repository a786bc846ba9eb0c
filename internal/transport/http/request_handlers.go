package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/core"
	"github.com/avelkov/concierge-server/internal/store"
)

// RequestHandlers provides HTTP handlers for concierge request endpoints.
type RequestHandlers struct {
	store store.Store
	chat  *core.ChatService
	log   *zerolog.Logger
}

// NewRequestHandlers creates a new request handlers instance.
func NewRequestHandlers(st store.Store, chat *core.ChatService, logger *zerolog.Logger) *RequestHandlers {
	return &RequestHandlers{
		store: st,
		chat:  chat,
		log:   logger,
	}
}

// SubmitRequestRequest represents the submit request body.
type SubmitRequestRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200"`
	Description string `json:"description" binding:"required,min=1"`
}

// RequestResponse represents a request in API responses.
type RequestResponse struct {
	ID             int64  `json:"id"`
	Reference      string `json:"reference"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// SubmitRequest creates a request, its conversation, and persists the
// description as the conversation's first message.
// POST /api/v1/requests
func (h *RequestHandlers) SubmitRequest(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SubmitRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid submit request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	// The description becomes the conversation's first message; reject blank
	// ones here so a request row is never created without its seed.
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "description cannot be blank"})
		return
	}

	reference := uuid.NewString()
	request, conv, err := h.store.CreateRequest(c.Request.Context(), p.UserID, reference, req.Title, req.Description)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", p.UserID).Msg("failed to create request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// The description seeds the conversation through the normal send path,
	// so it is durably persisted before anyone can observe it. A submission
	// whose seed did not persist is not a success.
	if _, err := h.chat.Send(c.Request.Context(), p, conv.ID, req.Description); err != nil {
		h.log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("failed to seed conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().
		Int64("request_id", request.ID).
		Int64("conversation_id", conv.ID).
		Int64("user_id", p.UserID).
		Msg("request submitted")

	c.JSON(http.StatusCreated, requestResponse(request, conv.ID))
}

// ListRequests lists the caller's requests; admins see all requests.
// GET /api/v1/requests
func (h *RequestHandlers) ListRequests(c *gin.Context) {
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

	requests, err := h.store.ListRequests(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list requests")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]RequestResponse, 0, len(requests))
	for _, r := range requests {
		conv, err := h.store.GetConversationByRequestID(c.Request.Context(), r.ID)
		convID := int64(0)
		if err == nil {
			convID = conv.ID
		}
		out = append(out, requestResponse(r, convID))
	}

	c.JSON(http.StatusOK, gin.H{"requests": out, "limit": limit, "offset": offset})
}

// UpdateStatusRequest represents the status transition body.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus transitions a request through its lifecycle. Admin only.
// PATCH /api/v1/requests/:id/status
func (h *RequestHandlers) UpdateStatus(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	if !p.IsAdmin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin only"})
		return
	}

	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || requestID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request id"})
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	status := store.RequestStatus(req.Status)
	switch status {
	case store.RequestStatusOpen, store.RequestStatusInProgress, store.RequestStatusClosed:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status"})
		return
	}

	if err := h.store.UpdateRequestStatus(c.Request.Context(), requestID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "request not found"})
			return
		}
		h.log.Error().Err(err).Int64("request_id", requestID).Msg("failed to update request status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().
		Int64("request_id", requestID).
		Str("status", string(status)).
		Int64("admin_id", p.UserID).
		Msg("request status updated")

	c.Status(http.StatusNoContent)
}

func requestResponse(r *store.Request, conversationID int64) RequestResponse {
	return RequestResponse{
		ID:             r.ID,
		Reference:      r.Reference,
		Title:          r.Title,
		Description:    r.Description,
		Status:         string(r.Status),
		ConversationID: conversationID,
		CreatedAt:      r.CreatedAt.Format(timeFormat),
	}
}

// pageParams reads limit/offset query parameters with bounds.
func pageParams(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
