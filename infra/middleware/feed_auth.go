package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"
	"feed_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// SessionCookie carries the token of browser sessions.
const SessionCookie = "session"

// TokenBlacklist manages revoked tokens
type TokenBlacklist struct {
	redis  *redis.Client
	prefix string
}

var tokenBlacklist *TokenBlacklist

// InitTokenBlacklist initializes the token blacklist with Redis
func InitTokenBlacklist(redisClient *redis.Client) {
	if redisClient == nil {
		logger.Warn("Redis client not provided, token blacklist disabled")
		tokenBlacklist = nil
		return
	}
	tokenBlacklist = &TokenBlacklist{
		redis:  redisClient,
		prefix: "token:blacklist:",
	}
	logger.Info("Token blacklist initialized")
}

// RevokeToken adds a token to the blacklist
func RevokeToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if tokenBlacklist == nil || tokenBlacklist.redis == nil {
		return nil
	}
	return tokenBlacklist.redis.Set(ctx, tokenBlacklist.prefix+tokenID, "1", expiry).Err()
}

// IsTokenRevoked checks if a token is blacklisted
func IsTokenRevoked(ctx context.Context, tokenID string) bool {
	if tokenBlacklist == nil || tokenBlacklist.redis == nil {
		return false
	}
	exists, err := tokenBlacklist.redis.Exists(ctx, tokenBlacklist.prefix+tokenID).Result()
	if err != nil {
		logger.WithError(err).Warn("token blacklist lookup failed")
		return false
	}
	return exists > 0
}

// ParseToken validates an HS256 token and returns the account id held in its
// "sub" claim.
func ParseToken(ctx context.Context, secret, tokenString string) (domain.Identity, error) {
	if tokenString == "" {
		return 0, apperr.ErrUnauthorized
	}
	if secret == "" {
		return 0, apperr.Internal("JWT secret not configured")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, apperr.New(apperr.CodeTokenExpired, "token expired", fiber.StatusUnauthorized)
		}
		return 0, apperr.InvalidToken("invalid token").WithError(err)
	}

	if claims.ID != "" && IsTokenRevoked(ctx, claims.ID) {
		return 0, apperr.InvalidToken("token has been revoked")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidToken("invalid user id in token")
	}
	return domain.Identity(id), nil
}

// TokenValidator adapts ParseToken to credential checks made outside of an
// HTTP request, such as an authenticate frame on an open connection.
func TokenValidator(secret string) func(ctx context.Context, token string) (domain.Identity, error) {
	return func(ctx context.Context, token string) (domain.Identity, error) {
		return ParseToken(ctx, secret, token)
	}
}

// TokenFromRequest reads the token from the Authorization header, the
// session cookie or the token query parameter, in that order. Browsers
// cannot set headers on websocket upgrades, hence the fallbacks.
func TokenFromRequest(c *fiber.Ctx) string {
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie := c.Cookies(SessionCookie); cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// JWTAuth rejects requests without a valid token.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip auth for CORS preflight requests
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := TokenFromRequest(c)
		if tokenString == "" {
			return apperr.ErrUnauthorized
		}

		identity, err := ParseToken(c.UserContext(), secret, tokenString)
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return err
		}

		c.Locals("user_id", identity)
		return c.Next()
	}
}

// OptionalJWTAuth sets the identity when a valid token is present and lets
// the request through either way.
func OptionalJWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := TokenFromRequest(c)
		if tokenString == "" {
			return c.Next()
		}

		identity, err := ParseToken(c.UserContext(), secret, tokenString)
		if err != nil {
			logger.WithError(err).Debug("ignoring invalid token on optional auth route")
			return c.Next()
		}

		c.Locals("user_id", identity)
		return c.Next()
	}
}
