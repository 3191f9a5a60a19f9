package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParam(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Post("/users/:username/follow", ValidateParam("username", UsernamePattern), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"plain", "/users/bob/follow", http.StatusCreated},
		{"punctuation", "/users/bob.smith_2-x/follow", http.StatusCreated},
		{"encoded space", "/users/bob%20smith/follow", http.StatusBadRequest},
		{"symbol", "/users/bob$/follow", http.StatusBadRequest},
		{"too long", "/users/" + strings.Repeat("a", 51) + "/follow", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, tt.path, nil))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestPreventPathTraversal(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(PreventPathTraversal())
	app.Get("/*", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/v1/realtime/stats", http.StatusOK},
		{"/api/../etc/passwd", http.StatusBadRequest},
		{"/api/%2E%2E/secret", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestNoCache(t *testing.T) {
	app := fiber.New()
	app.Get("/", NoCache(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
}
