package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"
	"feed_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const auditStream = "audit:events"

// AuditEvent records a state-changing request against the follow graph or
// the post feed.
type AuditEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Identity    string    `json:"identity,omitempty"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	ResourceID  string    `json:"resource_id,omitempty"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	StatusCode  int       `json:"status_code"`
	Duration    int64     `json:"duration_ms"`
	RequestID   string    `json:"request_id"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// AuditSink stores audit events.
type AuditSink interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditLogger appends audit events to a capped Redis stream.
type AuditLogger struct {
	redis  *redis.Client
	stream string
	maxLen int64
}

// NewAuditLogger returns nil when no Redis client is configured, which
// disables auditing.
func NewAuditLogger(client *redis.Client) *AuditLogger {
	if client == nil {
		logger.Warn("Redis client not provided, audit logging disabled")
		return nil
	}
	logger.Info("Audit logger initialized (stream=%s)", auditStream)
	return &AuditLogger{redis: client, stream: auditStream, maxLen: 100000}
}

// Record implements AuditSink.
func (a *AuditLogger) Record(ctx context.Context, event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return a.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		Values: map[string]interface{}{"event": string(data)},
		MaxLen: a.maxLen,
		Approx: true,
	}).Err()
}

// AuditedActions maps "METHOD route-pattern" to an action name.
var AuditedActions = map[string]string{
	"POST /api/v1/posts":                    "post_publish",
	"POST /api/v1/users/:username/follow":   "follow",
	"DELETE /api/v1/users/:username/follow": "unfollow",
}

// AuditMiddleware records AuditedActions to sink once the handler returns.
// A nil sink disables it.
func AuditMiddleware(sink AuditSink) fiber.Handler {
	if sink == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// c.Route() is the matched handler's route once Next returns
		route := c.Route().Path
		action, ok := AuditedActions[c.Method()+" "+route]
		if !ok {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}

		event := &AuditEvent{
			ID:         uuid.NewString(),
			Timestamp:  time.Now().UTC(),
			Action:     action,
			Resource:   resourceOf(route),
			ResourceID: utils.CopyString(c.Params("username")),
			Method:     utils.CopyString(c.Method()),
			Path:       utils.CopyString(c.Path()),
			IP:         utils.CopyString(c.IP()),
			UserAgent:  utils.CopyString(c.Get(fiber.HeaderUserAgent)),
			StatusCode: status,
			Duration:   time.Since(start).Milliseconds(),
			RequestID:  utils.CopyString(c.GetRespHeader("X-Request-ID")),
			Success:    status < 400,
		}
		if identity, ok := c.Locals("user_id").(domain.Identity); ok {
			event.Identity = identity.String()
		}
		if err != nil {
			event.ErrorDetail = err.Error()
		}

		// fasthttp reuses the ctx once the handler returns
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if logErr := sink.Record(ctx, event); logErr != nil {
				logger.WithError(logErr).Warn("Failed to log audit event")
			}
		}()

		return err
	}
}

func statusOf(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return apperr.GetHTTPStatus(err)
}

// resourceOf returns the first segment after /api/v1.
func resourceOf(route string) string {
	parts := splitPath(route)
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
