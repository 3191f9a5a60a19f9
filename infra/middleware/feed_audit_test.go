package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink chan *AuditEvent

func (s recordingSink) Record(_ context.Context, event *AuditEvent) error {
	s <- event
	return nil
}

func (s recordingSink) next(t *testing.T) *AuditEvent {
	t.Helper()
	select {
	case event := <-s:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event recorded")
		return nil
	}
}

func TestAuditMiddleware(t *testing.T) {
	sink := make(recordingSink, 4)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Locals("user_id", domain.Identity(5))
		return c.Next()
	}, AuditMiddleware(sink))

	api.Get("/realtime/stats", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	api.Post("/users/:username/follow", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusCreated) })
	api.Delete("/users/:username/follow", func(c *fiber.Ctx) error { return apperr.NotFound("follow") })

	do := func(method, path string) int {
		resp, err := app.Test(httptest.NewRequest(method, path, nil))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// not audited, so the first recorded event belongs to the follow
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/realtime/stats"))
	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "/api/v1/users/bob/follow"))

	event := sink.next(t)
	assert.Equal(t, "follow", event.Action)
	assert.Equal(t, "users", event.Resource)
	assert.Equal(t, "bob", event.ResourceID)
	assert.Equal(t, "5", event.Identity)
	assert.Equal(t, "/api/v1/users/bob/follow", event.Path)
	assert.Equal(t, http.StatusCreated, event.StatusCode)
	assert.True(t, event.Success)
	assert.NotEmpty(t, event.ID)

	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/v1/users/bob/follow"))

	event = sink.next(t)
	assert.Equal(t, "unfollow", event.Action)
	assert.Equal(t, http.StatusNotFound, event.StatusCode)
	assert.False(t, event.Success)
	assert.NotEmpty(t, event.ErrorDetail)
}

func TestAuditMiddlewareDisabled(t *testing.T) {
	app := fiber.New()
	app.Post("/api/v1/posts", AuditMiddleware(nil), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/posts", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"api", "v1", "posts"}, splitPath("/api/v1/posts"))
	assert.Equal(t, []string{"a", "b"}, splitPath("a//b/"))
	assert.Nil(t, splitPath("/"))
	assert.Equal(t, "posts", resourceOf("/api/v1/posts"))
	assert.Equal(t, "", resourceOf("/health"))
}
