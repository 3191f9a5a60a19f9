package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"feed_server/core/domain"

	"github.com/gofiber/fiber/v2"
)

// IPRateLimiter limits requests per client IP in memory. It guards the
// websocket upgrade, where a Redis round trip per attempt is not wanted.
type IPRateLimiter struct {
	requests map[string]*requestInfo
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
}

type requestInfo struct {
	count     int
	expiresAt time.Time
}

func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		requests: make(map[string]*requestInfo),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Run removes expired entries every window until ctx is done.
func (rl *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *IPRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, info := range rl.requests {
		if now.After(info.expiresAt) {
			delete(rl.requests, key)
		}
	}
}

// allow reports whether key may proceed, and otherwise how long to wait.
func (rl *IPRateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info, exists := rl.requests[key]
	if !exists || now.After(info.expiresAt) {
		rl.requests[key] = &requestInfo{count: 1, expiresAt: now.Add(rl.window)}
		return true, 0
	}
	if info.count >= rl.limit {
		return false, info.expiresAt.Sub(now)
	}
	info.count++
	return true, 0
}

func (rl *IPRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ok, wait := rl.allow(c.IP()); !ok {
			return tooManyRequests(c, rl.limit, wait)
		}
		return c.Next()
	}
}

// windowLimiter is satisfied by ratelimit.SlidingWindowLimiter.
type windowLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
	Limit() int
}

// UserRateLimit limits authenticated requests per account. It must run
// after JWTAuth.
func UserRateLimit(limiter windowLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals("user_id").(domain.Identity)
		if !ok {
			return c.Next()
		}
		if allowed, wait := limiter.Allow(c.UserContext(), identity.String()); !allowed {
			return tooManyRequests(c, limiter.Limit(), wait)
		}
		return c.Next()
	}
}

func tooManyRequests(c *fiber.Ctx, limit int, wait time.Duration) error {
	retryAfter := int(wait.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", "0")
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
}
