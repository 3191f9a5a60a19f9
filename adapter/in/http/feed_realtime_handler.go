package http

import (
	"feed_server/adapter/out/realtime"

	"github.com/gofiber/fiber/v2"
)

// RealtimeHandler exposes counters of the fan-out engine.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler creates a new realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Register registers realtime routes.
func (h *RealtimeHandler) Register(router fiber.Router, extra ...fiber.Handler) {
	router.Get("/realtime/stats", withHandler(extra, h.Stats)...)
}

// Stats returns connected users, live handles, keys and delivery counters.
func (h *RealtimeHandler) Stats(c *fiber.Ctx) error {
	return SuccessResponse(c, h.hub.Stats())
}
