package http

import (
	"time"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// GetIdentity extracts the authenticated account from the fiber context.
// Anonymous identities are rejected.
func GetIdentity(c *fiber.Ctx) (domain.Identity, error) {
	identity, ok := c.Locals("user_id").(domain.Identity)
	if !ok || identity.IsAnonymous() {
		return 0, apperr.ErrUnauthorized
	}
	return identity, nil
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SuccessResponse sends a standardized JSON success response
func SuccessResponse(c *fiber.Ctx, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// CreatedResponse is SuccessResponse with a 201 status.
func CreatedResponse(c *fiber.Ctx, data any) error {
	c.Status(fiber.StatusCreated)
	return SuccessResponse(c, data)
}

// withHandler returns extra followed by handler in a new slice.
func withHandler(extra []fiber.Handler, handler fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(extra)+1)
	handlers = append(handlers, extra...)
	return append(handlers, handler)
}
