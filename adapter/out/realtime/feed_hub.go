package realtime

import (
	"context"
	"errors"
	"time"

	"feed_server/core/domain"
	"feed_server/core/port/out"
	"feed_server/pkg/apperr"
	"feed_server/pkg/metrics"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TokenValidator resolves a credential presented over the connection. An
// empty token must be rejected; the hub handles anonymous sessions itself.
type TokenValidator func(ctx context.Context, token string) (domain.Identity, error)

// HubConfig holds connection settings.
type HubConfig struct {
	// Wait for an authenticate frame when no credential came with the upgrade
	AuthOverConnection bool

	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultHubConfig returns the defaults used when nothing is configured.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   25 * time.Second,
		MaxMessageSize: 512 * 1024,
	}
}

// Hub runs the lifecycle of every connection against the shared
// subscription table and registry.
type Hub struct {
	table    *SubscriptionTable
	registry *Registry
	follows  out.FollowGraph
	validate TokenValidator
	cfg      HubConfig
	latency  *metrics.LatencyTracker
	log      zerolog.Logger
}

// NewHub wires a hub. validate may be nil when AuthOverConnection is false.
func NewHub(table *SubscriptionTable, registry *Registry, follows out.FollowGraph, validate TokenValidator, cfg HubConfig, log zerolog.Logger) *Hub {
	return &Hub{
		table:    table,
		registry: registry,
		follows:  follows,
		validate: validate,
		cfg:      cfg,
		latency:  metrics.NewLatencyTracker(1000),
		log:      log.With().Str("component", "realtime_hub").Logger(),
	}
}

// Table returns the shared subscription table.
func (h *Hub) Table() *SubscriptionTable { return h.table }

// Registry returns the shared connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Serve runs one connection until its transport closes. identity is nil when
// no credential was validated before the upgrade. The returned error is
// non-nil only when the connection was dropped before reaching the receive
// loop.
func (h *Hub) Serve(ctx context.Context, conn Conn, identity *domain.Identity) error {
	handle := NewConnectionHandle(conn, h.cfg.WriteWait)
	h.configureKeepalive(conn)

	if identity == nil && h.cfg.AuthOverConnection {
		authenticated, err := h.authenticate(ctx, handle)
		if err != nil {
			handle.markClosed()
			handle.Close()
			h.log.Debug().Err(err).Uint64("connection_id", handle.ID()).Msg("connection closed before authentication")
			return err
		}
		identity = authenticated
		h.extendReadDeadline(conn)
	}

	var owner domain.Identity
	if identity != nil {
		owner = *identity
	} else {
		owner = h.registry.NextAnonymousIdentity()
	}

	if err := h.bootstrap(ctx, owner, handle); err != nil {
		h.log.Warn().Err(err).
			Str("identity", owner.String()).
			Uint64("connection_id", handle.ID()).
			Msg("bootstrap failed, dropping connection")
		h.reply(handle, err)
		h.disconnect(context.WithoutCancel(ctx), owner, handle)
		return err
	}

	done := make(chan struct{})
	if h.cfg.PingInterval > 0 {
		go h.keepalive(handle, done)
	}

	h.receive(ctx, owner, handle)
	close(done)

	h.disconnect(context.WithoutCancel(ctx), owner, handle)
	return nil
}

// authenticate blocks until an authenticate frame resolves an identity. A nil
// identity with a nil error selects an anonymous session. Bad credentials
// are answered with an error frame and the wait continues.
func (h *Hub) authenticate(ctx context.Context, handle *ConnectionHandle) (*domain.Identity, error) {
	for {
		messageType, data, err := handle.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmd, err := ParseCommand(data)
		if err == nil && cmd.Action != domain.ActionAuthenticate {
			err = apperr.Unauthorized("authenticate first")
		}
		if err == nil {
			if cmd.Content.Token == "" {
				return nil, nil
			}
			if h.validate == nil {
				err = apperr.InvalidCredentials(errors.New("no token validator configured"))
			} else {
				var identity domain.Identity
				identity, err = h.validate(ctx, cmd.Content.Token)
				if err == nil {
					return &identity, nil
				}
			}
		}

		h.log.Info().Err(err).Uint64("connection_id", handle.ID()).Msg("authentication frame rejected")
		h.reply(handle, err)
	}
}

// bootstrap registers the handle and then subscribes it to the posts of
// every followed account. Registering first lets a follow that commits
// during the lookup reach the handle through SubscribeLive.
func (h *Hub) bootstrap(ctx context.Context, identity domain.Identity, handle *ConnectionHandle) error {
	h.registry.Register(ctx, identity, handle)
	if identity.IsAnonymous() {
		return nil
	}

	followed, err := h.follows.FollowedIDs(ctx, int64(identity))
	if err != nil {
		return apperr.BootstrapFailed(err)
	}
	for _, id := range followed {
		if err := h.table.Subscribe(domain.NewPostNotificationKey(id), handle); err != nil {
			return err
		}
	}
	h.log.Debug().
		Str("identity", identity.String()).
		Uint64("connection_id", handle.ID()).
		Int("followed", len(followed)).
		Msg("subscriptions bootstrapped")
	return nil
}

// receive processes inbound frames in arrival order until the transport
// fails or closes.
func (h *Hub) receive(ctx context.Context, identity domain.Identity, handle *ConnectionHandle) {
	for {
		messageType, data, err := handle.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Uint64("connection_id", handle.ID()).Msg("connection lost")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		h.log.Debug().
			Str("identity", identity.String()).
			Uint64("connection_id", handle.ID()).
			Bytes("frame", data).
			Msg("client frame received")

		if err := h.dispatch(handle, data); err != nil {
			h.reply(handle, err)
		}
	}
}

func (h *Hub) dispatch(handle *ConnectionHandle, data []byte) error {
	cmd, err := ParseCommand(data)
	if err != nil {
		return err
	}

	switch cmd.Action {
	case domain.ActionSubscribe:
		key, err := cmd.ClientEventKey()
		if err != nil {
			return err
		}
		return h.table.Subscribe(key, handle)
	case domain.ActionUnsubscribe:
		key, err := cmd.ClientEventKey()
		if err != nil {
			return err
		}
		h.table.Unsubscribe(key, handle)
		return nil
	case domain.ActionAuthenticate:
		return apperr.BadRequest("connection is already authenticated")
	default:
		return apperr.UnknownAction(string(cmd.Action))
	}
}

// reply sends the client-safe message of err as an error frame.
func (h *Hub) reply(handle *ConnectionHandle, err error) {
	appErr := apperr.AsAppError(err)
	h.log.Debug().Err(err).Uint64("connection_id", handle.ID()).Msg("command rejected")
	if sendErr := handle.SendFrame(ErrorFrame(appErr.Message)); sendErr != nil {
		h.log.Warn().Err(sendErr).Uint64("connection_id", handle.ID()).Msg("failed to send error frame")
	}
}

// disconnect removes every reference to handle. Unsubscribing and
// deregistering touch different tables and run concurrently; both finish
// before the transport is closed.
func (h *Hub) disconnect(ctx context.Context, identity domain.Identity, handle *ConnectionHandle) {
	keys := h.table.Close(handle)

	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			h.table.Unsubscribe(key, handle)
			return nil
		})
	}
	g.Go(func() error {
		h.registry.Deregister(ctx, identity, handle)
		return nil
	})
	_ = g.Wait()

	handle.Close()
	h.log.Info().
		Str("identity", identity.String()).
		Uint64("connection_id", handle.ID()).
		Int("events", len(keys)).
		Msg("connection closed")
}

func (h *Hub) configureKeepalive(conn Conn) {
	kc, ok := conn.(keepaliveConn)
	if !ok {
		return
	}
	if h.cfg.MaxMessageSize > 0 {
		kc.SetReadLimit(h.cfg.MaxMessageSize)
	}
	if h.cfg.PongWait > 0 && h.cfg.PingInterval > 0 {
		kc.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		kc.SetPongHandler(func(string) error {
			return kc.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}
}

// extendReadDeadline restarts the pong wait, which otherwise started
// counting before the authenticate frame arrived.
func (h *Hub) extendReadDeadline(conn Conn) {
	kc, ok := conn.(keepaliveConn)
	if !ok || h.cfg.PongWait <= 0 || h.cfg.PingInterval <= 0 {
		return
	}
	kc.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
}

func (h *Hub) keepalive(handle *ConnectionHandle, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := handle.ping(); err != nil {
				h.log.Debug().Err(err).Uint64("connection_id", handle.ID()).Msg("ping failed")
				return
			}
		}
	}
}

// Notify delivers content to the subscribers of key.
func (h *Hub) Notify(ctx context.Context, key domain.EventKey, content any) (int, error) {
	defer h.latency.Since(time.Now())
	return h.table.NotifyFrame(ctx, key, ServerFrame{Event: key.Name(), Content: content})
}

// SubscribeLive subscribes every live connection of identity to key and
// returns how many were subscribed.
func (h *Hub) SubscribeLive(ctx context.Context, identity domain.Identity, key domain.EventKey) int {
	subscribed := 0
	for _, handle := range h.registry.LiveHandles(identity) {
		if err := h.table.Subscribe(key, handle); err != nil {
			continue
		}
		subscribed++
	}
	return subscribed
}

// UnsubscribeLive unsubscribes every live connection of identity from key.
func (h *Hub) UnsubscribeLive(ctx context.Context, identity domain.Identity, key domain.EventKey) int {
	handles := h.registry.LiveHandles(identity)
	for _, handle := range handles {
		h.table.Unsubscribe(key, handle)
	}
	return len(handles)
}

// ConnectedUsers returns the number of distinct connected accounts.
func (h *Hub) ConnectedUsers() int64 {
	return h.registry.ConnectedUsers()
}

// Shutdown closes every live connection so that each runs its teardown.
func (h *Hub) Shutdown() {
	closed := h.registry.CloseAll()
	h.log.Info().Int("connections", closed).Msg("realtime hub shut down")
}

var _ out.RealtimePort = (*Hub)(nil)
