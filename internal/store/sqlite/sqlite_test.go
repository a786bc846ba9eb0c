package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/avelkov/concierge-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func seedConversation(t *testing.T, s *SQLiteStore) (userID, conversationID int64) {
	t.Helper()
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice@example.com", "Alice", "hash", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, conv, err := s.CreateRequest(ctx, user.ID, "ref-1", "Dinner reservation", "Table for two on Friday")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	return user.ID, conv.ID
}

func TestCreateRequest_CreatesLinkedConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "bob@example.com", "Bob", "hash", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	req, conv, err := s.CreateRequest(ctx, user.ID, "ref-42", "Airport transfer", "Pickup at 6am")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if req.Status != store.RequestStatusOpen {
		t.Errorf("expected open status, got %s", req.Status)
	}
	if conv.RequestID != req.ID || conv.UserID != user.ID {
		t.Errorf("conversation not linked correctly: %+v", conv)
	}

	got, err := s.GetConversationByRequestID(ctx, req.ID)
	if err != nil {
		t.Fatalf("get conversation by request: %v", err)
	}
	if got.ID != conv.ID {
		t.Errorf("expected conversation %d, got %d", conv.ID, got.ID)
	}
}

func TestAppendMessage_RejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := s.AppendMessage(ctx, convID, userID, store.SenderUser, content); !errors.Is(err, store.ErrEmptyContent) {
			t.Errorf("content %q: expected ErrEmptyContent, got %v", content, err)
		}
	}

	// Nothing must have reached storage.
	msgs, err := s.ListMessagesSince(ctx, convID, 0, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := newTestStore(t)
	userID, _ := seedConversation(t, s)
	ctx := context.Background()

	if _, err := s.AppendMessage(ctx, 9999, userID, store.SenderUser, "hello"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage_MonotonicIDsUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	const (
		senders    = 8
		perSender  = 20
		totalCount = senders * perSender
	)

	var wg sync.WaitGroup
	idsCh := make(chan int64, totalCount)
	for i := 0; i < senders; i++ {
		role := store.SenderUser
		if i%2 == 1 {
			role = store.SenderAdmin
		}
		wg.Add(1)
		go func(role store.SenderRole) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				msg, err := s.AppendMessage(ctx, convID, userID, role, "concurrent message")
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				idsCh <- msg.ID
			}
		}(role)
	}
	wg.Wait()
	close(idsCh)

	seen := make(map[int64]bool, totalCount)
	for id := range idsCh {
		if seen[id] {
			t.Fatalf("duplicate message id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != totalCount {
		t.Fatalf("expected %d distinct ids, got %d", totalCount, len(seen))
	}

	msgs, err := s.ListMessagesSince(ctx, convID, 0, totalCount+1)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != totalCount {
		t.Fatalf("expected %d persisted messages, got %d", totalCount, len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("ids not strictly increasing at index %d: %d then %d", i, msgs[i-1].ID, msgs[i].ID)
		}
	}
}

func TestListMessagesSince_CursorPagination(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	contents := []string{"one", "two", "three", "four", "five"}
	var ids []int64
	for _, c := range contents {
		msg, err := s.AppendMessage(ctx, convID, userID, store.SenderUser, c)
		if err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
		ids = append(ids, msg.ID)
	}

	// Page through with a cursor of 2 per page.
	var collected []string
	cursor := int64(0)
	for {
		page, err := s.ListMessagesSince(ctx, convID, cursor, 2)
		if err != nil {
			t.Fatalf("list since %d: %v", cursor, err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			collected = append(collected, m.Content)
		}
		cursor = page[len(page)-1].ID
	}

	if len(collected) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(collected))
	}
	for i, c := range contents {
		if collected[i] != c {
			t.Errorf("position %d: expected %q, got %q", i, c, collected[i])
		}
	}

	// Cursor after the last id yields nothing.
	tail, err := s.ListMessagesSince(ctx, convID, ids[len(ids)-1], 10)
	if err != nil {
		t.Fatalf("list after tail: %v", err)
	}
	if len(tail) != 0 {
		t.Errorf("expected empty tail, got %d messages", len(tail))
	}
}

func TestLastMessage(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	if _, err := s.LastMessage(ctx, convID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty conversation, got %v", err)
	}

	for _, c := range []string{"first", "second"} {
		if _, err := s.AppendMessage(ctx, convID, userID, store.SenderUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	last, err := s.LastMessage(ctx, convID)
	if err != nil {
		t.Fatalf("last message: %v", err)
	}
	if last.Content != "second" {
		t.Errorf("expected latest message, got %q", last.Content)
	}
}
