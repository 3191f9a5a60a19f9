package bootstrap

import (
	"context"
	"strings"
	"time"

	"feed_server/adapter/in/http"
	"feed_server/config"
	"feed_server/infra/middleware"
	"feed_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		cancel()
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	// Revoked tokens are checked against Redis when it is available
	middleware.InitTokenBlacklist(deps.Redis)

	app := NewApp(ctx, cfg, deps)

	if deps.Consumer != nil {
		deps.Consumer.Start(ctx)
	}

	shutdown := func() {
		cancel()
		cleanup()
	}

	logger.Info("API server initialized successfully")
	return app, shutdown, nil
}

// NewApp builds the fiber app and its routes on top of deps. Background
// workers it starts stop when ctx is done.
func NewApp(ctx context.Context, cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: faster drop-in replacement for encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:   cfg.MaxBodyBytes,
		IdleTimeout: 2 * time.Minute,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())              // 1. Panic recovery
	app.Use(middleware.RequestID())            // 2. Request ID
	app.Use(middleware.SecurityHeaders())      // 3. Security headers
	app.Use(middleware.PreventPathTraversal()) // 4. Path traversal block
	app.Use(middleware.RequestLogger())        // 5. Request logging

	// AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis, deps.Neo4j, deps.Pools)
	healthHandler.Register(app, middleware.NoCache())

	// Realtime endpoint: identity from the upgrade request, or anonymous
	upgradeLimiter := middleware.NewIPRateLimiter(cfg.WSUpgradeRateLimit, cfg.WSUpgradeRateWindow)
	go upgradeLimiter.Run(ctx)

	var origins []string
	if allowOrigins != "" {
		origins = strings.Split(allowOrigins, ",")
	}
	wsHandler := http.NewWebSocketHandler(
		deps.Hub,
		middleware.TokenValidator(cfg.JWTSecret),
		middleware.TokenFromRequest,
		http.WebSocketConfig{
			Origins:          origins,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		deps.ZLog,
	)
	wsHandler.Register(app, upgradeLimiter.Handler())

	// Public API routes, registered before the authenticated group so they
	// are matched first
	public := app.Group("/api/v1")
	http.NewRealtimeHandler(deps.Hub).Register(public, middleware.NoCache())

	// Follow and publish requests are audited to a Redis stream
	var audit middleware.AuditSink
	if deps.Redis != nil {
		audit = middleware.NewAuditLogger(deps.Redis)
	}

	// API routes (with auth)
	api := app.Group("/api/v1",
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.MaxBodySize(cfg.MaxBodyBytes),
		middleware.AuditMiddleware(audit),
	)

	var postExtra []fiber.Handler
	if deps.PostLimiter != nil {
		postExtra = append(postExtra, middleware.UserRateLimit(deps.PostLimiter))
	}
	http.NewPostHandler(deps.PostService).Register(api, postExtra...)
	http.NewFollowHandler(deps.FollowService).Register(api, middleware.ValidateParam("username", middleware.UsernamePattern))

	return app
}
