package bootstrap

import (
	"context"
	"os"
	"time"

	"feed_server/adapter/out/graph"
	"feed_server/adapter/out/persistence"
	"feed_server/adapter/out/realtime"
	"feed_server/config"
	"feed_server/core/port/out"
	"feed_server/core/service/follow"
	"feed_server/core/service/post"
	"feed_server/infra/database"
	"feed_server/infra/middleware"
	"feed_server/internal/stream"
	"feed_server/pkg/cache"
	"feed_server/pkg/logger"
	"feed_server/pkg/metrics"
	"feed_server/pkg/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Neo4j  neo4j.DriverWithContext

	// Repositories
	FollowRepo  out.FollowRepository
	AccountRepo out.AccountRepository
	PostRepo    out.PostRepository
	FollowCache out.FollowCache

	// Messaging (stream fan-out mode only)
	Stream   *stream.RedisStream
	Producer out.EventProducer
	Consumer *stream.Consumer

	// Realtime
	Table    *realtime.SubscriptionTable
	Registry *realtime.Registry
	Hub      *realtime.Hub

	// Services
	FollowGraph   *follow.Graph
	FollowService *follow.Service
	PostService   *post.Service

	PostLimiter *ratelimit.SlidingWindowLimiter
	Pools       *metrics.PoolMonitor

	ZLog zerolog.Logger
}

func newZeroLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var zlog zerolog.Logger
	if cfg.IsProduction() {
		zlog = zerolog.New(os.Stdout)
	} else {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return zlog.Level(level).With().Timestamp().Str("service", "feed").Logger()
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, ZLog: newZeroLogger(cfg)}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := deps.connect(ctx, &cleanups); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Pools = metrics.NewPoolMonitor()
	deps.Pools.Register("postgres", func() metrics.PoolStats { return metrics.PgxPoolStats(deps.DB) })
	deps.Pools.Register("sqlx", func() metrics.PoolStats { return metrics.SQLPoolStats(deps.SQLDB.DB) })

	// Repositories
	deps.AccountRepo = persistence.NewAccountAdapter(deps.SQLDB)
	deps.PostRepo = persistence.NewPostAdapter(deps.DB)

	switch cfg.FollowGraphBackend {
	case config.FollowBackendNeo4j:
		graphAdapter := graph.NewFollowGraphAdapter(deps.Neo4j, cfg.Neo4jDatabase)
		if err := graphAdapter.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to ensure Neo4j indexes: %v", err)
		}
		deps.FollowRepo = graphAdapter
		logger.Info("Follow graph backed by Neo4j")
	default:
		deps.FollowRepo = persistence.NewFollowAdapter(deps.SQLDB)
		logger.Info("Follow graph backed by PostgreSQL")
	}

	if deps.Redis != nil {
		redisCache := cache.NewRedisCache(deps.Redis, "feed:")
		deps.FollowCache = persistence.NewFollowCache(redisCache, cfg.FollowCacheTTL)
		deps.PostLimiter = ratelimit.NewSlidingWindowLimiter(deps.Redis, "ratelimit:posts:", cfg.PostRateLimit, cfg.PostRateWindow)
	}

	// Follow graph reads used by connection bootstrap
	deps.FollowGraph = follow.NewGraph(deps.FollowRepo, deps.FollowCache, follow.DefaultGraphConfig(), logger.Default())

	// Realtime engine
	hubCfg := realtime.DefaultHubConfig()
	hubCfg.AuthOverConnection = cfg.WSAuthMode == config.WSAuthFrame
	hubCfg.MaxMessageSize = int64(cfg.WSMaxMessageSize)
	hubCfg.PingInterval = cfg.WSPingInterval()
	hubCfg.PongWait = cfg.WSPongWait()
	hubCfg.WriteWait = cfg.WSWriteWait()

	var validate realtime.TokenValidator
	if hubCfg.AuthOverConnection {
		validate = middleware.TokenValidator(cfg.JWTSecret)
	}

	deps.Table = realtime.NewSubscriptionTable(deps.ZLog)
	deps.Registry = realtime.NewRegistry(deps.Table, deps.ZLog)
	deps.Hub = realtime.NewHub(deps.Table, deps.Registry, deps.FollowGraph, validate, hubCfg, deps.ZLog)
	cleanups = append(cleanups, deps.Hub.Shutdown)

	// Stream fan-out
	if cfg.PostFanoutMode == config.FanoutStream {
		deps.Stream = stream.NewRedisStream(deps.Redis, cfg.StreamConsumerGroup, logger.Default())
		deps.Producer = stream.NewProducer(deps.Stream)
		logger.Info("Post fan-out through Redis streams (group=%s, consumer=%s)", cfg.StreamConsumerGroup, cfg.StreamConsumerName)
	}

	// Services
	limits := post.Limits{
		TitleMin:   cfg.PostTitleMin,
		TitleMax:   cfg.PostTitleMax,
		ContentMin: cfg.PostContentMin,
		ContentMax: cfg.PostContentMax,
	}
	deps.PostService = post.NewService(deps.PostRepo, deps.Hub, deps.Producer, limits, logger.Default())
	deps.FollowService = follow.NewService(deps.FollowRepo, deps.AccountRepo, deps.FollowGraph, deps.Hub, deps.Producer, logger.Default())

	if deps.Stream != nil {
		deps.Consumer = stream.NewConsumer(deps.Stream, deps.PostService, deps.FollowService, cfg.StreamConsumerName, logger.Default())
	}

	return deps, cleanup, nil
}

// connect opens the data stores concurrently. PostgreSQL is required, Redis
// only in stream mode, Neo4j only when it backs the follow graph.
func (d *Dependencies) connect(ctx context.Context, cleanups *[]func()) error {
	cfg := d.Config
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pgCfg := database.DefaultPostgresConfig()
		pgCfg.MaxConns = int32(cfg.DBMaxConns)
		db, err := database.NewPostgresWithConfig(gctx, cfg.DatabaseURL, pgCfg)
		if err != nil {
			logger.Error("PostgreSQL connection failed: %v", err)
			return err
		}
		d.DB = db
		return nil
	})

	g.Go(func() error {
		sqlDB, err := database.NewSQLX(cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			logger.Error("sqlx connection failed: %v", err)
			return err
		}
		d.SQLDB = sqlDB
		return nil
	})

	if cfg.RedisEnabled {
		g.Go(func() error {
			client, err := database.NewRedis(gctx, cfg.RedisURL)
			if err != nil {
				if cfg.PostFanoutMode == config.FanoutStream {
					logger.Error("Redis connection failed: %v", err)
					return err
				}
				logger.Warn("Redis connection failed, running without cache and blacklist: %v", err)
				return nil
			}
			d.Redis = client
			return nil
		})
	}

	if cfg.FollowGraphBackend == config.FollowBackendNeo4j {
		g.Go(func() error {
			driver, err := graph.NewDriver(gctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
			if err != nil {
				logger.Error("Neo4j connection failed: %v", err)
				return err
			}
			d.Neo4j = driver
			return nil
		})
	}

	err := g.Wait()

	// register whatever was opened, even on failure, so cleanup closes it
	if d.DB != nil {
		*cleanups = append(*cleanups, d.DB.Close)
	}
	if d.SQLDB != nil {
		*cleanups = append(*cleanups, func() { d.SQLDB.Close() })
	}
	if d.Redis != nil {
		*cleanups = append(*cleanups, func() { d.Redis.Close() })
	}
	if d.Neo4j != nil {
		*cleanups = append(*cleanups, func() { d.Neo4j.Close(context.Background()) })
	}
	if err != nil {
		return err
	}

	logger.Info("Data stores connected (redis=%t, neo4j=%t)", d.Redis != nil, d.Neo4j != nil)
	return nil
}
