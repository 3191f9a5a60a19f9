package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"feed_server/core/domain"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn is an in-memory Conn. Frames pushed with push are returned by
// ReadMessage; frames written by the server are recorded.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// block, when set before use, holds every write until it is closed
	block chan struct{}

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errConnClosed
	default:
	}
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return errConnClosed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.TextMessage {
		c.written = append(c.written, append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.inbound <- []byte(frame)
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

type receivedFrame struct {
	Event   domain.EventName `json:"event"`
	Content json.RawMessage  `json:"content"`
}

func (c *fakeConn) frames(t *testing.T) []receivedFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]receivedFrame, 0, len(c.written))
	for _, data := range c.written {
		var frame receivedFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		out = append(out, frame)
	}
	return out
}

func (c *fakeConn) framesOf(t *testing.T, event domain.EventName) []receivedFrame {
	t.Helper()
	var out []receivedFrame
	for _, frame := range c.frames(t) {
		if frame.Event == event {
			out = append(out, frame)
		}
	}
	return out
}

type fakeFollowGraph struct {
	mu       sync.Mutex
	followed map[int64][]int64
	err      error

	// afterRead runs once the edges are read, outside the lock
	afterRead func(followerID int64)
}

func (g *fakeFollowGraph) FollowedIDs(_ context.Context, followerID int64) ([]int64, error) {
	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return nil, g.err
	}
	ids := append([]int64(nil), g.followed[followerID]...)
	hook := g.afterRead
	g.mu.Unlock()

	if hook != nil {
		hook(followerID)
	}
	return ids, nil
}

func (g *fakeFollowGraph) snapshot(followerID int64) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil
	}
	return append([]int64(nil), g.followed[followerID]...)
}

// deadlineConn records the read deadlines the hub sets.
type deadlineConn struct {
	*fakeConn

	mu        sync.Mutex
	deadlines []time.Time
}

func newDeadlineConn() *deadlineConn {
	return &deadlineConn{fakeConn: newFakeConn()}
}

func (c *deadlineConn) SetReadLimit(int64) {}

func (c *deadlineConn) SetPongHandler(func(string) error) {}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadlines = append(c.deadlines, t)
	c.mu.Unlock()
	return nil
}

func (c *deadlineConn) readDeadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.deadlines...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestHub(graph *fakeFollowGraph, cfg HubConfig, validate TokenValidator) *Hub {
	table := NewSubscriptionTable(testLogger())
	registry := NewRegistry(table, testLogger())
	return NewHub(table, registry, graph, validate, cfg, testLogger())
}

// connect serves conn in the background and waits until it is registered
// under identity.
func connect(t *testing.T, hub *Hub, conn *fakeConn, identity *domain.Identity) <-chan error {
	t.Helper()

	before := 0
	subscribed := map[domain.EventKey]int{}
	if identity != nil {
		before = len(hub.Registry().LiveHandles(*identity))
		if graph, ok := hub.follows.(*fakeFollowGraph); ok {
			for _, id := range graph.snapshot(int64(*identity)) {
				key := domain.NewPostNotificationKey(id)
				subscribed[key] = len(hub.Table().Subscribers(key))
			}
		}
	}

	done := make(chan error, 1)
	go func() { done <- hub.Serve(context.Background(), conn, identity) }()

	if identity != nil {
		require.Eventually(t, func() bool {
			if len(hub.Registry().LiveHandles(*identity)) != before+1 {
				return false
			}
			for key, n := range subscribed {
				if len(hub.Table().Subscribers(key)) != n+1 {
					return false
				}
			}
			return true
		}, time.Second, 5*time.Millisecond)
	}
	return done
}

func waitClosed(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not finish")
		return nil
	}
}

func identityOf(id int64) *domain.Identity {
	identity := domain.Identity(id)
	return &identity
}
