package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/auth"
	"github.com/avelkov/concierge-server/internal/config"
	"github.com/avelkov/concierge-server/internal/core"
	"github.com/avelkov/concierge-server/internal/presence"
	"github.com/avelkov/concierge-server/internal/store"
	"github.com/avelkov/concierge-server/internal/store/sqlite"
)

// testEnv bundles the full server stack mounted on httptest, plus direct
// handles for seeding fixtures.
type testEnv struct {
	ts       *httptest.Server
	store    store.Store
	auth     *auth.Service
	jwtCfg   *auth.JWTConfig
	registry *core.Registry
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtCfg)

	logger := zerolog.Nop()
	registry := core.NewRegistry()
	broadcaster := core.NewBroadcaster(registry, &logger)
	chat := core.NewChatService(st, registry, broadcaster, &logger)

	cfg := config.Default()
	cfg.IdleTimeout = 5 * time.Second
	cfg.SendBuffer = 8

	handler := NewHandler(chat, authService, st, presence.Disabled{}, cfg, &logger)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, jwtCfg: jwtCfg, registry: registry}
}

// registerUser registers a regular user and returns its token and id.
func (e *testEnv) registerUser(t *testing.T, email string) (token string, userID int64) {
	t.Helper()

	token, err := e.auth.Register(context.Background(), email, "Test User", "secret123")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	claims, err := e.auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token for %s: %v", email, err)
	}
	return token, claims.UserID
}

// createAdmin inserts an admin user directly and mints a token for it.
func (e *testEnv) createAdmin(t *testing.T, email string) (token string, userID int64) {
	t.Helper()

	hash, err := auth.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := e.store.CreateUser(context.Background(), email, "Admin", hash, true)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	token, err = auth.GenerateToken(e.jwtCfg, user.ID, user.Email, true)
	if err != nil {
		t.Fatalf("generate admin token: %v", err)
	}
	return token, user.ID
}

// createConversation seeds a request with its conversation directly, without
// going through the request submission endpoint, so message ids start at 1.
func (e *testEnv) createConversation(t *testing.T, userID int64, title string) int64 {
	t.Helper()

	_, conv, err := e.store.CreateRequest(context.Background(), userID, "ref-"+title, title, "seed description")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return conv.ID
}

// doJSON performs an authenticated JSON request against the test server and
// decodes the response body into out (when out is non-nil).
func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
