package http

import (
	"context"
	"strings"
	"time"

	"feed_server/adapter/out/realtime"
	"feed_server/core/domain"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// WebSocketConfig holds upgrade settings. Origins lists the browser origins
// allowed to open a connection; "*" allows any. With an empty list only
// requests without an Origin header (non-browser clients) are accepted.
type WebSocketConfig struct {
	Origins          []string
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
}

// WebSocketHandler upgrades /ws requests and hands the connection to the hub.
type WebSocketHandler struct {
	hub       *realtime.Hub
	validate  realtime.TokenValidator
	extractor func(*fiber.Ctx) string
	cfg       WebSocketConfig
	log       zerolog.Logger
}

// NewWebSocketHandler creates a websocket handler. A token found by extract
// on the upgrade request is checked with validate; requests without one are
// served as anonymous, or authenticate in-band when the hub is configured so.
func NewWebSocketHandler(hub *realtime.Hub, validate realtime.TokenValidator, extract func(*fiber.Ctx) string, cfg WebSocketConfig, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		validate:  validate,
		extractor: extract,
		cfg:       cfg,
		log:       log.With().Str("handler", "websocket").Logger(),
	}
}

// Register registers the websocket route. extra runs first, before the
// upgrade check.
func (h *WebSocketHandler) Register(router fiber.Router, extra ...fiber.Handler) {
	handlers := make([]fiber.Handler, 0, len(extra)+2)
	handlers = append(handlers, extra...)
	router.Get("/ws", append(handlers, h.Upgrade, h.Handler())...)
}

// Upgrade rejects plain HTTP requests and resolves the identity carried by
// the upgrade request, if any.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// checked before any credential is read: cookies ride along on
	// cross-site upgrades
	if origin := c.Get(fiber.HeaderOrigin); origin != "" && !h.originAllowed(origin) {
		h.log.Debug().Str("origin", origin).Str("ip", c.IP()).Msg("websocket upgrade from disallowed origin")
		return fiber.ErrForbidden
	}

	if h.extractor == nil || h.validate == nil {
		return c.Next()
	}
	token := h.extractor(c)
	if token == "" {
		return c.Next()
	}

	identity, err := h.validate(c.UserContext(), token)
	if err != nil {
		h.log.Debug().Err(err).Str("ip", c.IP()).Msg("websocket upgrade with invalid token")
		return err
	}
	c.Locals("user_id", identity)
	return c.Next()
}

func (h *WebSocketHandler) originAllowed(origin string) bool {
	for _, allowed := range h.cfg.Origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handler returns the fiber handler that performs the upgrade.
func (h *WebSocketHandler) Handler() fiber.Handler {
	return websocket.New(h.serve, websocket.Config{
		Origins:          h.cfg.Origins,
		HandshakeTimeout: h.cfg.HandshakeTimeout,
		ReadBufferSize:   h.cfg.ReadBufferSize,
		WriteBufferSize:  h.cfg.WriteBufferSize,
	})
}

func (h *WebSocketHandler) serve(c *websocket.Conn) {
	var identity *domain.Identity
	if id, ok := c.Locals("user_id").(domain.Identity); ok {
		identity = &id
	}

	if err := h.hub.Serve(context.Background(), c, identity); err != nil {
		h.log.Debug().Err(err).Msg("websocket session ended early")
	}
}
