package http

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/avelkov/concierge-server/internal/proto"
)

// wsFrame is the union of every frame shape the server sends, so tests can
// decode without knowing the type in advance.
type wsFrame struct {
	Type           string `json:"type"`
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderType     string `json:"sender_type"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

func (e *testEnv) wsURL(conversationID int64, token string) string {
	base := strings.Replace(e.ts.URL, "http", "ws", 1)
	return base + "/ws/chat/" + strconv.FormatInt(conversationID, 10) + "?token=" + token
}

func dialChat(t *testing.T, ctx context.Context, env *testEnv, conversationID int64, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, env.wsURL(conversationID, token), nil)
	if err != nil {
		t.Fatalf("dial conversation %d: %v", conversationID, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsFrame {
	t.Helper()

	var frame wsFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func expectConnected(t *testing.T, ctx context.Context, conn *websocket.Conn, conversationID int64, senderType string) {
	t.Helper()

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeConnected || frame.ConversationID != conversationID || frame.SenderType != senderType {
		t.Fatalf("unexpected connected frame: %+v", frame)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestChatSessionEchoAndFanout(t *testing.T) {
	env := startTestServer(t)
	ownerToken, ownerID := env.registerUser(t, "owner@example.com")
	adminToken, adminID := env.createAdmin(t, "admin@example.com")
	convID := env.createConversation(t, ownerID, "fanout")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ownerConn := dialChat(t, ctx, env, convID, ownerToken)
	expectConnected(t, ctx, ownerConn, convID, "user")

	adminConn := dialChat(t, ctx, env, convID, adminToken)
	expectConnected(t, ctx, adminConn, convID, "admin")

	if err := wsjson.Write(ctx, ownerConn, proto.Inbound{Content: "Hello"}); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	// Every subscriber receives the persisted message, the sender included,
	// with the id and timestamp the store assigned.
	for name, conn := range map[string]*websocket.Conn{"owner": ownerConn, "admin": adminConn} {
		frame := readFrame(t, ctx, conn)
		if frame.Type != proto.OutboundTypeMessage {
			t.Fatalf("%s: unexpected frame type: %+v", name, frame)
		}
		if frame.ID != 1 || frame.Content != "Hello" || frame.SenderID != ownerID || frame.SenderType != "user" {
			t.Fatalf("%s: unexpected message frame: %+v", name, frame)
		}
		if frame.CreatedAt == "" {
			t.Fatalf("%s: message frame missing timestamp", name)
		}
	}

	if err := wsjson.Write(ctx, adminConn, proto.Inbound{Content: "How can I help?"}); err != nil {
		t.Fatalf("send reply: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"owner": ownerConn, "admin": adminConn} {
		frame := readFrame(t, ctx, conn)
		if frame.ID != 2 || frame.SenderID != adminID || frame.SenderType != "admin" {
			t.Fatalf("%s: unexpected reply frame: %+v", name, frame)
		}
	}
}

func TestChatSessionRejectsBadToken(t *testing.T) {
	env := startTestServer(t)
	_, ownerID := env.registerUser(t, "owner@example.com")
	convID := env.createConversation(t, ownerID, "auth")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, env.wsURL(convID, "garbage"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeError || frame.Code != "auth_failed" {
		t.Fatalf("unexpected rejection frame: %+v", frame)
	}

	var discard wsFrame
	readErr := wsjson.Read(ctx, conn, &discard)
	if readErr == nil {
		t.Fatal("connection stayed open after auth rejection")
	}
	if status := websocket.CloseStatus(readErr); status != proto.CloseAuthFailed {
		t.Fatalf("expected close status %d, got %d (%v)", proto.CloseAuthFailed, status, readErr)
	}
}

func TestChatSessionRejectsNonParticipant(t *testing.T) {
	env := startTestServer(t)
	_, ownerID := env.registerUser(t, "owner@example.com")
	strangerToken, _ := env.registerUser(t, "stranger@example.com")
	convID := env.createConversation(t, ownerID, "access")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, env.wsURL(convID, strangerToken), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeError || frame.Code != "access_denied" {
		t.Fatalf("unexpected rejection frame: %+v", frame)
	}

	var discard wsFrame
	readErr := wsjson.Read(ctx, conn, &discard)
	if status := websocket.CloseStatus(readErr); status != proto.CloseAccessDenied {
		t.Fatalf("expected close status %d, got %d (%v)", proto.CloseAccessDenied, status, readErr)
	}
}

func TestChatSessionUnknownConversation(t *testing.T) {
	env := startTestServer(t)
	token, _ := env.registerUser(t, "owner@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, env.wsURL(9999, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeError || frame.Code != "not_found" {
		t.Fatalf("unexpected rejection frame: %+v", frame)
	}

	var discard wsFrame
	readErr := wsjson.Read(ctx, conn, &discard)
	if status := websocket.CloseStatus(readErr); status != proto.CloseNotFound {
		t.Fatalf("expected close status %d, got %d (%v)", proto.CloseNotFound, status, readErr)
	}
}

func waitUnregistered(t *testing.T, env *testEnv, conversationID int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for env.registry.Count(conversationID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber still registered after connection close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatSessionCloseUnregistersSubscriber(t *testing.T) {
	env := startTestServer(t)
	token, ownerID := env.registerUser(t, "owner@example.com")
	convID := env.createConversation(t, ownerID, "cleanup")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Explicit close: the session's deferred cleanup removes the subscriber.
	conn := dialChat(t, ctx, env, convID, token)
	expectConnected(t, ctx, conn, convID, "user")
	if got := env.registry.Count(convID); got != 1 {
		t.Fatalf("expected 1 registered subscriber, got %d", got)
	}
	if err := conn.Close(websocket.StatusNormalClosure, "logout"); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitUnregistered(t, env, convID)

	// Abrupt close: the transport drops without a close frame; the read loop
	// error path funnels through the same cleanup.
	conn = dialChat(t, ctx, env, convID, token)
	expectConnected(t, ctx, conn, convID, "user")
	if got := env.registry.Count(convID); got != 1 {
		t.Fatalf("expected 1 registered subscriber after redial, got %d", got)
	}
	_ = conn.CloseNow()
	waitUnregistered(t, env, convID)

	// The gone subscriber is unreachable by fan-out: a fresh send finds only
	// its own session registered and still completes normally.
	survivor := dialChat(t, ctx, env, convID, token)
	expectConnected(t, ctx, survivor, convID, "user")
	if err := wsjson.Write(ctx, survivor, proto.Inbound{Content: "still delivered"}); err != nil {
		t.Fatalf("send after cleanup: %v", err)
	}
	frame := readFrame(t, ctx, survivor)
	if frame.Type != proto.OutboundTypeMessage || frame.Content != "still delivered" {
		t.Fatalf("unexpected frame after cleanup: %+v", frame)
	}
	if got := env.registry.Count(convID); got != 1 {
		t.Fatalf("expected only the live subscriber, got %d", got)
	}
}

func TestChatSessionInvalidMessageKeepsSessionOpen(t *testing.T) {
	env := startTestServer(t)
	token, ownerID := env.registerUser(t, "owner@example.com")
	convID := env.createConversation(t, ownerID, "invalid")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialChat(t, ctx, env, convID, token)
	expectConnected(t, ctx, conn, convID, "user")

	if err := wsjson.Write(ctx, conn, proto.Inbound{Content: "   "}); err != nil {
		t.Fatalf("send blank: %v", err)
	}

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeError || frame.Code != "invalid_message" {
		t.Fatalf("unexpected error frame: %+v", frame)
	}

	// The failure was reported to this sender only; the session is still
	// live and the next valid message goes through.
	if err := wsjson.Write(ctx, conn, proto.Inbound{Content: "still here"}); err != nil {
		t.Fatalf("send after error: %v", err)
	}

	frame = readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeMessage || frame.Content != "still here" || frame.ID != 1 {
		t.Fatalf("unexpected frame after recovery: %+v", frame)
	}
}
