package http

import (
	"feed_server/core/domain"
	"feed_server/core/port/in"
	"feed_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// PostHandler publishes posts.
type PostHandler struct {
	posts in.PostService
}

// NewPostHandler creates a new post handler.
func NewPostHandler(posts in.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// Register registers post routes. extra runs before the handler, after
// authentication.
func (h *PostHandler) Register(router fiber.Router, extra ...fiber.Handler) {
	router.Post("/posts", withHandler(extra, h.Publish)...)
}

// Publish stores a post and notifies the live followers of its author.
func (h *PostHandler) Publish(c *fiber.Ctx) error {
	identity, err := GetIdentity(c)
	if err != nil {
		return err
	}

	var req domain.NewPost
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	post, err := h.posts.Publish(c.UserContext(), int64(identity), &req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, post)
}
