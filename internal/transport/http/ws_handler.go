package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/auth"
	"github.com/avelkov/concierge-server/internal/core"
	"github.com/avelkov/concierge-server/internal/presence"
	"github.com/avelkov/concierge-server/internal/proto"
	"github.com/avelkov/concierge-server/internal/utils"
)

// WSPathPrefix is where the chat endpoint lives. It is served on the outer
// stdlib mux, not through gin: websocket.Accept has to hijack the raw
// connection, which gin's wrapped ResponseWriter refuses once the 101
// handshake bytes are written.
const WSPathPrefix = "/ws/chat/"

// errIdleTimeout signals that the session saw no inbound activity for the
// configured window.
var errIdleTimeout = errors.New("idle timeout")

// WSHandler runs the per-connection chat session: authenticate, authorize,
// register, pump messages, and always unregister exactly once on the way out.
type WSHandler struct {
	chat        *core.ChatService
	authService *auth.Service
	presence    presence.Tracker
	idleTimeout time.Duration
	sendBuffer  int
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket session handler.
func NewWSHandler(chat *core.ChatService, authService *auth.Service, tracker presence.Tracker, idleTimeout time.Duration, sendBuffer int, logger *zerolog.Logger) *WSHandler {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &WSHandler{
		chat:        chat,
		authService: authService,
		presence:    tracker,
		idleTimeout: idleTimeout,
		sendBuffer:  sendBuffer,
		log:         logger,
	}
}

// ServeHTTP serves GET /ws/chat/{conversation_id}?token=...
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conversationID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, WSPathPrefix), 10, 64)
	if err != nil || conversationID <= 0 {
		stdhttp.Error(w, "invalid conversation id", stdhttp.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Authenticate: the token travels as a query parameter because browsers
	// cannot set headers on a WebSocket handshake.
	claims, err := h.authService.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		h.rejectConn(ctx, conn, proto.CloseAuthFailed, core.ErrCodeAuthFailed, "invalid or expired token")
		return
	}
	p := core.Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin}

	// Authorize and register. Subscribe refuses before touching the registry,
	// so a rejected connection never appears in it.
	sub, err := h.chat.Subscribe(ctx, p, conversationID, utils.NewID(), h.sendBuffer)
	if err != nil {
		var coreErr *core.CoreError
		if errors.As(err, &coreErr) {
			status := proto.CloseAccessDenied
			if coreErr.Code == core.ErrCodeNotFound {
				status = proto.CloseNotFound
			}
			h.rejectConn(ctx, conn, status, coreErr.Code, coreErr.Message)
			return
		}
		h.log.Error().Err(err).Int64("conversation_id", conversationID).Msg("subscribe failed")
		return
	}
	// The single cleanup path: every exit route below funnels through this
	// deferred unsubscribe, which is idempotent.
	defer h.chat.Unsubscribe(sub)

	if err := h.presence.Touch(ctx, conversationID, p.UserID); err != nil {
		h.log.Debug().Err(err).Msg("presence touch failed")
	}

	if err := wsjson.Write(ctx, conn, proto.ConnectedFrame{
		Type:           proto.OutboundTypeConnected,
		ConversationID: conversationID,
		SenderType:     string(p.Role()),
	}); err != nil {
		return
	}

	h.log.Info().
		Str("subscriber_id", sub.ID).
		Int64("conversation_id", conversationID).
		Int64("user_id", p.UserID).
		Str("role", string(p.Role())).
		Msg("chat session started")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, p, sub)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sub)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, errIdleTimeout):
		reason = "idle timeout"
	case errors.Is(err, io.EOF):
	default:
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			status = websocket.StatusInternalError
			reason = "internal error"
			h.log.Warn().Err(err).Str("subscriber_id", sub.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().
		Str("subscriber_id", sub.ID).
		Int64("conversation_id", conversationID).
		Msg("chat session closed")

	conn.Close(status, reason)
}

// rejectConn tells the client why it was refused, then closes. The
// subscription never happened, so there is nothing to clean up.
func (h *WSHandler) rejectConn(ctx context.Context, conn *websocket.Conn, status int, code, msg string) {
	_ = wsjson.Write(ctx, conn, proto.ErrorFrame{
		Type:    proto.OutboundTypeError,
		Code:    code,
		Message: msg,
	})
	conn.Close(websocket.StatusCode(status), msg)
}

// readLoop receives inbound messages and pushes them through the chat
// service. Failures handling one message are reported to this sender only;
// the session stays open.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, p core.Principal, sub *core.Subscriber) error {
	for {
		var inbound proto.Inbound
		readCtx, cancel := context.WithTimeout(ctx, h.idleTimeout)
		err := wsjson.Read(readCtx, conn, &inbound)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return errIdleTimeout
			}
			return err
		}

		if _, err := h.chat.Send(ctx, p, sub.ConversationID, inbound.Content); err != nil {
			var coreErr *core.CoreError
			if !errors.As(err, &coreErr) {
				h.log.Error().Err(err).Str("subscriber_id", sub.ID).Msg("send failed")
				coreErr = core.ErrStoreUnavailable()
			}
			if writeErr := wsjson.Write(ctx, conn, proto.ErrorFrame{
				Type:    proto.OutboundTypeError,
				Code:    coreErr.Code,
				Message: coreErr.Message,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		if err := h.presence.Touch(ctx, sub.ConversationID, p.UserID); err != nil {
			h.log.Debug().Err(err).Msg("presence touch failed")
		}
	}
}

// writeLoop drains the subscriber's delivery channel onto the transport.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *core.Subscriber) error {
	for {
		select {
		case msg := <-sub.Events():
			if err := wsjson.Write(ctx, conn, proto.FrameFromMessage(msg)); err != nil {
				h.log.Error().Err(err).Str("subscriber_id", sub.ID).Msg("write ws message")
				return err
			}
		case <-sub.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
