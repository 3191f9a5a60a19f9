package middleware

import (
	"regexp"
	"strings"

	"feed_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// UsernamePattern matches account usernames accepted in route parameters.
var UsernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,50}$`)

// ValidateParam rejects requests whose route parameter name does not match
// pattern.
func ValidateParam(name string, pattern *regexp.Regexp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		value := c.Params(name)
		if value == "" {
			return apperr.InvalidInput(name, "missing required parameter")
		}
		if !pattern.MatchString(value) {
			return apperr.InvalidInput(name, "invalid format")
		}
		return c.Next()
	}
}

var traversalPatterns = []string{
	"..",
	"..%2f",
	"..%5c",
	"%2e%2e",
	"..\\",
}

// PreventPathTraversal blocks path traversal attempts
func PreventPathTraversal() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := strings.ToLower(c.Path())
		for _, pattern := range traversalPatterns {
			if strings.Contains(path, pattern) {
				return apperr.BadRequest("invalid path")
			}
		}
		return c.Next()
	}
}
