package http

import (
	"context"
	"time"

	"feed_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	db    *pgxpool.Pool
	redis *redis.Client
	neo4j neo4j.DriverWithContext
	pools *metrics.PoolMonitor
}

func NewHealthHandler(db *pgxpool.Pool, redis *redis.Client, graph neo4j.DriverWithContext, pools *metrics.PoolMonitor) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redis,
		neo4j: graph,
		pools: pools,
	}
}

// Register registers /health and /ready. extra runs before each handler.
func (h *HealthHandler) Register(router fiber.Router, extra ...fiber.Handler) {
	router.Get("/health", withHandler(extra, h.Health)...)
	router.Get("/ready", withHandler(extra, h.Ready)...)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	check := func(name string, configured bool, ping func() error) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := ping(); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	check("postgres", h.db != nil, func() error { return h.db.Ping(ctx) })
	check("redis", h.redis != nil, func() error { return h.redis.Ping(ctx).Err() })
	check("neo4j", h.neo4j != nil, func() error { return h.neo4j.VerifyConnectivity(ctx) })

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.pools != nil {
		body["pools"] = h.pools.AllHealth()
	}
	return c.Status(statusCode).JSON(body)
}
