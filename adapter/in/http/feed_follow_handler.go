package http

import (
	"feed_server/core/port/in"

	"github.com/gofiber/fiber/v2"
)

// FollowHandler creates and removes follow relationships.
type FollowHandler struct {
	follows in.FollowService
}

// NewFollowHandler creates a new follow handler.
func NewFollowHandler(follows in.FollowService) *FollowHandler {
	return &FollowHandler{follows: follows}
}

// Register registers follow routes. extra runs before each handler.
func (h *FollowHandler) Register(router fiber.Router, extra ...fiber.Handler) {
	users := router.Group("/users")

	users.Post("/:username/follow", withHandler(extra, h.Follow)...)
	users.Delete("/:username/follow", withHandler(extra, h.Unfollow)...)
}

// Follow makes the caller follow :username. Live connections of the caller
// start receiving the account's posts immediately.
func (h *FollowHandler) Follow(c *fiber.Ctx) error {
	identity, err := GetIdentity(c)
	if err != nil {
		return err
	}

	follow, err := h.follows.Follow(c.UserContext(), int64(identity), c.Params("username"))
	if err != nil {
		return err
	}
	return CreatedResponse(c, follow)
}

// Unfollow removes the relationship and the matching live subscriptions.
func (h *FollowHandler) Unfollow(c *fiber.Ctx) error {
	identity, err := GetIdentity(c)
	if err != nil {
		return err
	}

	follow, err := h.follows.Unfollow(c.UserContext(), int64(identity), c.Params("username"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, follow)
}
