package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/app/chat"
	"agora/internal/app/db"
	"agora/internal/app/notify"
	"agora/internal/app/persist"
	"agora/internal/app/presence"
	"agora/internal/app/user"
	"agora/internal/configs"
	"agora/internal/pkg/auth/jwt"
	"agora/internal/pkg/errs"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type routerFixture struct {
	server   *httptest.Server
	registry *presence.Registry
	store    *db.MemoryStore
}

func newRouterFixture(t *testing.T, configure func(*configs.AppConfig)) *routerFixture {
	t.Helper()

	cfg := configs.Default()
	cfg.JWTSecret = testSecret
	cfg.DatabaseURL = configs.DevDatabaseURL
	cfg.HandshakeBurst = 100
	if configure != nil {
		configure(&cfg)
	}

	store := db.NewMemoryStore()
	runner := persist.NewRunner(time.Second, nil)
	hub := chat.NewHub()
	registry := presence.NewRegistry()
	broadcaster := chat.NewBroadcaster(hub, store, runner, chat.WithLookupTimeout(cfg.LookupTimeout))
	gateway := chat.NewGateway(hub, registry, broadcaster, cfg.IdleTimeout)
	verifier := jwt.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	deps := &AppDeps{
		Config:        &cfg,
		Gateway:       gateway,
		Registry:      registry,
		Dispatcher:    notify.NewDispatcher(registry, hub, store, runner),
		Verifier:      verifier,
		Authenticator: jwt.NewAuthenticator(verifier),
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(Router(ctx, deps))

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = gateway.Shutdown(shutdownCtx)
		server.Close()
		_ = runner.Close(shutdownCtx)
		cancel()
	})

	return &routerFixture{server: server, registry: registry, store: store}
}

func token(t *testing.T, id string, roles ...string) string {
	t.Helper()
	signed, err := jwt.GenerateToken(user.Identity{ID: id, Nickname: id, Roles: roles}, testSecret, time.Minute)
	require.NoError(t, err)
	return signed
}

func (f *routerFixture) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws" + query
}

func (f *routerFixture) do(t *testing.T, method, path, bearer string, body any) (*http.Response, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res, env
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame wsFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame.Event == event {
			return frame
		}
	}
}

func TestHealth(t *testing.T) {
	f := newRouterFixture(t, nil)

	res, env := f.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestWebSocket_RejectsMissingAndInvalidCredentials(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  int
	}{
		{name: "no credential", query: "", code: errs.ErrAuthenticationRequired},
		{name: "invalid token", query: "?token=not-a-jwt", code: errs.ErrInvalidToken},
	}

	f := newRouterFixture(t, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(tt.query), nil)
			require.NoError(t, err, "the handshake is upgraded before rejection")
			defer conn.Close()

			frame := readUntil(t, conn, string(chat.EventError))
			var payload chat.ErrorPayload
			require.NoError(t, json.Unmarshal(frame.Data, &payload))
			assert.Equal(t, tt.code, payload.Code)

			_, _, err = conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, chat.CloseCodeUnauthorized), "got %v", err)
		})
	}

	assert.Empty(t, f.registry.ListOnline(), "rejected connections never register presence")
}

func TestWebSocket_RateLimitsHandshakes(t *testing.T) {
	f := newRouterFixture(t, func(cfg *configs.AppConfig) {
		cfg.HandshakeRate = 0.001
		cfg.HandshakeBurst = 1
	})

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("?token="+token(t, "alice")), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, res, err := websocket.DefaultDialer.Dial(f.wsURL("?token="+token(t, "alice")), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestWebSocket_PresenceLifecycle(t *testing.T) {
	f := newRouterFixture(t, nil)
	viewer := token(t, "viewer")

	header := http.Header{"Authorization": []string{"Bearer " + token(t, "alice")}}
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), header)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.registry.IsOnline("alice") }, 2*time.Second, 5*time.Millisecond)

	res, env := f.do(t, http.MethodGet, "/api/presence/alice", viewer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var view PresenceView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Online)
	assert.Equal(t, 1, view.Connections)
	assert.Nil(t, view.LastSeen)

	_, env = f.do(t, http.MethodGet, "/api/presence", viewer, nil)
	assert.JSONEq(t, `{"users":["alice"]}`, string(env.Data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !f.registry.IsOnline("alice") }, 2*time.Second, 5*time.Millisecond)

	_, env = f.do(t, http.MethodGet, "/api/presence/alice", viewer, nil)
	view = PresenceView{}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.False(t, view.Online)
	assert.NotNil(t, view.LastSeen)
}

func TestPresence_RequiresToken(t *testing.T) {
	f := newRouterFixture(t, nil)

	res, env := f.do(t, http.MethodGet, "/api/presence", "", nil)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, errs.ErrAuthenticationRequired, env.Code)
}

func TestNotifications_RequireNotifierRole(t *testing.T) {
	f := newRouterFixture(t, nil)
	body := map[string]any{"userId": "carol", "payload": map[string]string{"kind": "mention"}}

	res, env := f.do(t, http.MethodPost, "/api/notifications", "", body)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, errs.ErrAuthenticationRequired, env.Code)

	res, env = f.do(t, http.MethodPost, "/api/notifications", token(t, "bob"), body)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, errs.ErrForbidden, env.Code)
}

func TestNotifications_DeliveredToLiveConnection(t *testing.T) {
	f := newRouterFixture(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("?token="+token(t, "carol")), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.registry.IsOnline("carol") }, 2*time.Second, 5*time.Millisecond)

	body := map[string]any{"userId": "carol", "payload": map[string]string{"kind": "mention"}}
	res, env := f.do(t, http.MethodPost, "/api/notifications", token(t, "svc", "notifier"), body)

	require.Equal(t, http.StatusOK, res.StatusCode)
	var delivery notify.Delivery
	require.NoError(t, json.Unmarshal(env.Data, &delivery))
	assert.Equal(t, 1, delivery.Delivered)
	assert.False(t, delivery.Deferred)

	frame := readUntil(t, conn, string(chat.EventNotificationNew))
	var note notify.Notification
	require.NoError(t, json.Unmarshal(frame.Data, &note))
	assert.Equal(t, delivery.NotificationID, note.ID)
	assert.JSONEq(t, `{"kind":"mention"}`, string(note.Payload))
}

func TestNotifications_DeferredWhenOffline(t *testing.T) {
	f := newRouterFixture(t, nil)

	body := map[string]any{"userId": "carol", "payload": map[string]string{"kind": "mention"}}
	res, env := f.do(t, http.MethodPost, "/api/notifications", token(t, "svc", "notifier"), body)

	require.Equal(t, http.StatusAccepted, res.StatusCode)
	var delivery notify.Delivery
	require.NoError(t, json.Unmarshal(env.Data, &delivery))
	assert.True(t, delivery.Deferred)
	assert.Zero(t, delivery.Delivered)

	require.Eventually(t, func() bool { return len(f.store.Unread("carol")) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNotifications_RateLimitedPerAddress(t *testing.T) {
	f := newRouterFixture(t, func(cfg *configs.AppConfig) {
		cfg.NotifyRate = 0.001
		cfg.NotifyBurst = 1
	})
	notifier := token(t, "svc", "notifier")
	body := map[string]any{"userId": "carol", "payload": map[string]string{"kind": "mention"}}

	res, _ := f.do(t, http.MethodPost, "/api/notifications", notifier, body)
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	res, env := f.do(t, http.MethodPost, "/api/notifications", notifier, body)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, errs.ErrRateLimitExceeded, env.Code)

	// Presence reads are not behind the notification limiter.
	res, _ = f.do(t, http.MethodGet, "/api/presence", notifier, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestNotifications_InvalidBody(t *testing.T) {
	f := newRouterFixture(t, nil)
	notifier := token(t, "svc", "notifier")

	res, env := f.do(t, http.MethodPost, "/api/notifications", notifier, map[string]any{"payload": 1})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, errs.ErrInvalidParams, env.Code)

	res, env = f.do(t, http.MethodPost, "/api/notifications", notifier, map[string]any{"userId": "carol", "extra": true})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, errs.ErrInvalidJSONFormat, env.Code)
}
