// Package realtime implements the websocket notification fan-out engine.
package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the transport behind a connection handle. The websocket conn handed
// out by github.com/gofiber/contrib/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// keepaliveConn is implemented by transports that support ping/pong liveness
// and read limits.
type keepaliveConn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

var handleSeq atomic.Uint64

// ConnectionHandle is the live endpoint of one connected client. Tables
// reference it by ID, never by value.
type ConnectionHandle struct {
	id        uint64
	conn      Conn
	writeWait time.Duration

	// websocket writers are not safe for concurrent use
	writeMu sync.Mutex

	mu         sync.Mutex
	identity   domain.Identity
	subscribed map[domain.EventKey]struct{}
	closed     bool
}

// NewConnectionHandle wraps conn. writeWait bounds every outbound write; zero
// disables the deadline.
func NewConnectionHandle(conn Conn, writeWait time.Duration) *ConnectionHandle {
	return &ConnectionHandle{
		id:         handleSeq.Add(1),
		conn:       conn,
		writeWait:  writeWait,
		subscribed: make(map[domain.EventKey]struct{}),
	}
}

// ID returns the immutable, process-unique id of the handle.
func (h *ConnectionHandle) ID() uint64 {
	return h.id
}

// Identity returns the owner set during bootstrap.
func (h *ConnectionHandle) Identity() domain.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func (h *ConnectionHandle) setIdentity(identity domain.Identity) {
	h.mu.Lock()
	h.identity = identity
	h.mu.Unlock()
}

// Send writes one text frame.
func (h *ConnectionHandle) Send(data []byte) error {
	return h.write(websocket.TextMessage, data)
}

// SendFrame encodes and writes a server frame.
func (h *ConnectionHandle) SendFrame(frame ServerFrame) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	return h.Send(data)
}

func (h *ConnectionHandle) ping() error {
	return h.write(websocket.PingMessage, nil)
}

func (h *ConnectionHandle) write(messageType int, data []byte) error {
	if h.isClosed() {
		return apperr.ErrHandleClosed
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.writeWait > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
			return err
		}
	}
	return h.conn.WriteMessage(messageType, data)
}

// SubscribedKeys returns a snapshot of the keys the handle is subscribed to.
func (h *ConnectionHandle) SubscribedKeys() []domain.EventKey {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]domain.EventKey, 0, len(h.subscribed))
	for key := range h.subscribed {
		keys = append(keys, key)
	}
	return keys
}

// IsSubscribed reports whether key is in the handle's own subscribed set.
func (h *ConnectionHandle) IsSubscribed(key domain.EventKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subscribed[key]
	return ok
}

// addKey returns false when key was already present.
func (h *ConnectionHandle) addKey(key domain.EventKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribed[key]; ok {
		return false
	}
	h.subscribed[key] = struct{}{}
	return true
}

// removeKey returns false when key was not present.
func (h *ConnectionHandle) removeKey(key domain.EventKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribed[key]; !ok {
		return false
	}
	delete(h.subscribed, key)
	return true
}

// markClosed returns false when the handle was already closed.
func (h *ConnectionHandle) markClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	return true
}

func (h *ConnectionHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close closes the underlying transport. The pending ReadMessage of the
// connection's receive loop returns an error, which starts teardown.
func (h *ConnectionHandle) Close() error {
	return h.conn.Close()
}
