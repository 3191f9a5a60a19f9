package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"feed_server/adapter/out/realtime"
	"feed_server/core/domain"
	"feed_server/core/service/post"
	"feed_server/pkg/apperr"
	"feed_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticGraph map[int64][]int64

func (g staticGraph) FollowedIDs(_ context.Context, followerID int64) ([]int64, error) {
	return g[followerID], nil
}

type memoryPosts struct {
	nextID int64
}

func (m *memoryPosts) Create(_ context.Context, authorID int64, title, content string) (*domain.NotificationPost, error) {
	m.nextID++
	return &domain.NotificationPost{
		ID:        m.nextID,
		Title:     title,
		Content:   content,
		Author:    domain.PostAuthor{ID: authorID, Username: "user" + strconv.FormatInt(authorID, 10)},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// numericToken accepts tokens that are a positive account id.
func numericToken(_ context.Context, token string) (domain.Identity, error) {
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidToken("invalid token")
	}
	return domain.Identity(id), nil
}

// headerAuth trusts X-User, standing in for JWT auth.
func headerAuth(c *fiber.Ctx) error {
	if raw := c.Get("X-User"); raw != "" {
		identity, err := numericToken(c.UserContext(), raw)
		if err != nil {
			return err
		}
		c.Locals("user_id", identity)
	}
	return c.Next()
}

func errorHandler(c *fiber.Ctx, err error) error {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(fiber.Map{"code": appErr.Code, "message": appErr.Message})
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).SendString(fiberErr.Message)
	}
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}

type testServer struct {
	app  *fiber.App
	hub  *realtime.Hub
	addr string
}

func newTestServer(t *testing.T, graph staticGraph) *testServer {
	t.Helper()
	return newTestServerWithOrigins(t, graph, nil)
}

func newTestServerWithOrigins(t *testing.T, graph staticGraph, origins []string) *testServer {
	t.Helper()

	zlog := zerolog.New(io.Discard)
	table := realtime.NewSubscriptionTable(zlog)
	registry := realtime.NewRegistry(table, zlog)
	cfg := realtime.DefaultHubConfig()
	cfg.PingInterval = 0
	hub := realtime.NewHub(table, registry, graph, nil, cfg, zlog)

	quiet := logger.New(logger.Config{Level: logger.LevelError, Output: &bytes.Buffer{}})
	posts := post.NewService(&memoryPosts{}, hub, nil, post.DefaultLimits(), quiet)

	app := fiber.New(fiber.Config{ErrorHandler: errorHandler, DisableStartupMessage: true})
	NewWebSocketHandler(hub, numericToken, func(c *fiber.Ctx) string { return c.Query("token") }, WebSocketConfig{Origins: origins}, zlog).Register(app)
	api := app.Group("/api/v1", headerAuth)
	NewRealtimeHandler(hub).Register(api)
	NewPostHandler(posts).Register(api)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)

	t.Cleanup(func() {
		hub.Shutdown()
		app.Shutdown()
	})
	return &testServer{app: app, hub: hub, addr: ln.Addr().String()}
}

func (s *testServer) dial(t *testing.T, token string) (*websocket.Conn, *nethttp.Response, error) {
	t.Helper()
	return s.dialFrom(t, token, "")
}

func (s *testServer) dialFrom(t *testing.T, token, origin string) (*websocket.Conn, *nethttp.Response, error) {
	t.Helper()
	url := "ws://" + s.addr + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	var header nethttp.Header
	if origin != "" {
		header = nethttp.Header{"Origin": []string{origin}}
	}
	return websocket.DefaultDialer.Dial(url, header)
}

type frame struct {
	Event   string          `json:"event"`
	Content json.RawMessage `json:"content"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func (s *testServer) publish(t *testing.T, author int64, body string) *nethttp.Response {
	t.Helper()
	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/posts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", strconv.FormatInt(author, 10))
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestWebSocket_ReceivesPostsOfFollowedAccounts(t *testing.T) {
	srv := newTestServer(t, staticGraph{1: {2}})

	conn, _, err := srv.dial(t, "1")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		stats := srv.hub.Stats()
		return stats.TotalConnections == 1 && stats.EventKeys == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp := srv.publish(t, 2, `{"title":"hello","content":"long enough content"}`)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)

	f := readFrame(t, conn)
	assert.Equal(t, string(domain.EventNewPostNotification), f.Event)

	var got domain.NotificationPost
	require.NoError(t, json.Unmarshal(f.Content, &got))
	assert.Equal(t, "hello", got.Title)
	assert.Equal(t, int64(2), got.Author.ID)

	// posts of accounts not followed are not delivered
	resp = srv.publish(t, 3, `{"title":"other","content":"long enough content"}`)
	resp.Body.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocket_RejectedCommandKeepsConnection(t *testing.T) {
	srv := newTestServer(t, staticGraph{})

	conn, _, err := srv.dial(t, "")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"dance","content":{"event":"x"}}`)))
	f := readFrame(t, conn)
	assert.Equal(t, string(domain.EventError), f.Event)
	assert.JSONEq(t, `"unknown action `+"`dance`"+`"`, string(f.Content))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe_to_event","content":{"event":"weather"}}`)))
	f = readFrame(t, conn)
	assert.Equal(t, string(domain.EventError), f.Event)
}

func TestWebSocket_UpgradeErrors(t *testing.T) {
	srv := newTestServer(t, staticGraph{})

	_, resp, err := srv.dial(t, "not-a-number")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	plain, err := srv.app.Test(httptest.NewRequest(nethttp.MethodGet, "/ws", nil))
	require.NoError(t, err)
	plain.Body.Close()
	assert.Equal(t, nethttp.StatusUpgradeRequired, plain.StatusCode)
}

func TestWebSocket_OriginCheck(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantStatus int
	}{
		{"no list, cross-site browser", nil, "https://evil.example", nethttp.StatusForbidden},
		{"no list, non-browser client", nil, "", nethttp.StatusSwitchingProtocols},
		{"listed origin", []string{"https://app.example"}, "https://app.example", nethttp.StatusSwitchingProtocols},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", nethttp.StatusForbidden},
		{"wildcard", []string{"*"}, "https://evil.example", nethttp.StatusSwitchingProtocols},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServerWithOrigins(t, staticGraph{}, tt.origins)

			conn, resp, err := srv.dialFrom(t, "7", tt.origin)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == nethttp.StatusSwitchingProtocols {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			assert.Zero(t, srv.hub.Stats().TotalConnections)
		})
	}
}

func TestPostHandler(t *testing.T) {
	srv := newTestServer(t, staticGraph{})

	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
	}{
		{"created", "4", `{"title":"hello","content":"long enough content"}`, nethttp.StatusCreated},
		{"invalid body", "4", `{"title":`, nethttp.StatusBadRequest},
		{"too short", "4", `{"title":"hi","content":"long enough content"}`, nethttp.StatusBadRequest},
		{"unauthenticated", "", `{"title":"hello","content":"long enough content"}`, nethttp.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/posts", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.user != "" {
				req.Header.Set("X-User", tt.user)
			}
			resp, err := srv.app.Test(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestRealtimeStats(t *testing.T) {
	srv := newTestServer(t, staticGraph{5: {6}})

	conn, _, err := srv.dial(t, "5")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		stats := srv.hub.Stats()
		return stats.TotalConnections == 1 && stats.EventKeys == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := srv.app.Test(httptest.NewRequest(nethttp.MethodGet, "/api/v1/realtime/stats", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Success bool           `json:"success"`
		Data    realtime.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(1), body.Data.ConnectedUsers)
	assert.Equal(t, 1, body.Data.TotalConnections)
}

type fakeFollows struct{}

func (fakeFollows) Follow(_ context.Context, followerID int64, username string) (*domain.Follow, error) {
	if username == "ghost" {
		return nil, apperr.NotFound("user")
	}
	return &domain.Follow{FollowerID: followerID, FollowedID: 9}, nil
}

func (fakeFollows) Unfollow(_ context.Context, followerID int64, username string) (*domain.Follow, error) {
	return nil, apperr.NotFound("follow")
}

func (fakeFollows) ApplyFollow(context.Context, domain.Follow) int { return 0 }

func TestFollowHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	NewFollowHandler(fakeFollows{}).Register(app.Group("/api/v1", headerAuth))

	tests := []struct {
		name       string
		method     string
		path       string
		user       string
		wantStatus int
	}{
		{"follow", nethttp.MethodPost, "/api/v1/users/bob/follow", "1", nethttp.StatusCreated},
		{"unknown account", nethttp.MethodPost, "/api/v1/users/ghost/follow", "1", nethttp.StatusNotFound},
		{"unfollow missing", nethttp.MethodDelete, "/api/v1/users/bob/follow", "1", nethttp.StatusNotFound},
		{"unauthenticated", nethttp.MethodPost, "/api/v1/users/bob/follow", "", nethttp.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.user != "" {
				req.Header.Set("X-User", tt.user)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}
