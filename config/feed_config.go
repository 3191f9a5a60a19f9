package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	FollowBackendPostgres = "postgres"
	FollowBackendNeo4j    = "neo4j"

	WSAuthUpgrade = "upgrade"
	WSAuthFrame   = "frame"

	FanoutDirect = "direct"
	FanoutStream = "stream"
)

// generateConsumerName creates a unique stream consumer name using hostname and PID
func generateConsumerName() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "feed"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL  string
	DBMaxConns   int
	RedisURL     string
	RedisEnabled bool

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	// Follow graph
	FollowGraphBackend string
	FollowCacheTTL     time.Duration

	// JWT
	JWTSecret string

	// WebSocket
	WSAuthMode        string
	WSMaxMessageSize  int
	WSPingIntervalSec int
	WSPongWaitSec     int
	WSWriteWaitSec    int

	// Fan-out (Redis Stream)
	PostFanoutMode      string
	StreamConsumerGroup string
	StreamConsumerName  string

	// Post validation
	PostTitleMin   int
	PostTitleMax   int
	PostContentMin int
	PostContentMax int

	// Rate limiting
	PostRateLimit       int
	PostRateWindow      time.Duration
	WSUpgradeRateLimit  int
	WSUpgradeRateWindow time.Duration

	// CORS
	AllowedOrigins []string

	MaxBodyBytes int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 25),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),

		// Follow graph
		FollowGraphBackend: strings.ToLower(getEnv("FOLLOW_GRAPH_BACKEND", FollowBackendPostgres)),
		FollowCacheTTL:     time.Duration(getEnvInt("FOLLOW_CACHE_TTL_SEC", 300)) * time.Second,

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// WebSocket
		WSAuthMode:        strings.ToLower(getEnv("WS_AUTH_MODE", WSAuthUpgrade)),
		WSMaxMessageSize:  getEnvInt("WS_MAX_MESSAGE_SIZE", 524288),
		WSPingIntervalSec: getEnvInt("WS_PING_INTERVAL_SEC", 25),
		WSPongWaitSec:     getEnvInt("WS_PONG_WAIT_SEC", 60),
		WSWriteWaitSec:    getEnvInt("WS_WRITE_WAIT_SEC", 10),

		// Fan-out
		PostFanoutMode:      strings.ToLower(getEnv("POST_FANOUT_MODE", FanoutDirect)),
		StreamConsumerGroup: getEnv("STREAM_CONSUMER_GROUP", "feed-fanout"),
		StreamConsumerName:  getEnv("STREAM_CONSUMER_NAME", generateConsumerName()),

		// Post validation
		PostTitleMin:   getEnvInt("POST_TITLE_MIN", 3),
		PostTitleMax:   getEnvInt("POST_TITLE_MAX", 50),
		PostContentMin: getEnvInt("POST_CONTENT_MIN", 10),
		PostContentMax: getEnvInt("POST_CONTENT_MAX", 1000),

		// Rate limiting
		PostRateLimit:       getEnvInt("POST_RATE_LIMIT", 30),
		PostRateWindow:      time.Duration(getEnvInt("POST_RATE_WINDOW_SEC", 60)) * time.Second,
		WSUpgradeRateLimit:  getEnvInt("WS_UPGRADE_RATE_LIMIT", 60),
		WSUpgradeRateWindow: time.Duration(getEnvInt("WS_UPGRADE_RATE_WINDOW_SEC", 60)) * time.Second,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		MaxBodyBytes: getEnvInt("MAX_BODY_BYTES", 64*1024),
	}
	cfg.RedisEnabled = cfg.RedisURL != ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.FollowGraphBackend {
	case FollowBackendPostgres:
	case FollowBackendNeo4j:
		if c.Neo4jURL == "" {
			return fmt.Errorf("NEO4J_URL is required when FOLLOW_GRAPH_BACKEND=neo4j")
		}
	default:
		return fmt.Errorf("invalid FOLLOW_GRAPH_BACKEND %q: want %s or %s", c.FollowGraphBackend, FollowBackendPostgres, FollowBackendNeo4j)
	}

	if c.WSAuthMode != WSAuthUpgrade && c.WSAuthMode != WSAuthFrame {
		return fmt.Errorf("invalid WS_AUTH_MODE %q: want %s or %s", c.WSAuthMode, WSAuthUpgrade, WSAuthFrame)
	}

	switch c.PostFanoutMode {
	case FanoutDirect:
	case FanoutStream:
		if !c.RedisEnabled {
			return fmt.Errorf("REDIS_URL is required when POST_FANOUT_MODE=stream")
		}
	default:
		return fmt.Errorf("invalid POST_FANOUT_MODE %q: want %s or %s", c.PostFanoutMode, FanoutDirect, FanoutStream)
	}

	if c.PostTitleMin > c.PostTitleMax || c.PostContentMin > c.PostContentMax {
		return fmt.Errorf("post length limits are inverted")
	}

	if c.WSPingIntervalSec < 0 || c.WSPongWaitSec < 0 {
		return fmt.Errorf("WS_PING_INTERVAL_SEC and WS_PONG_WAIT_SEC must not be negative")
	}
	if c.WSPingIntervalSec > 0 && c.WSPongWaitSec > 0 && c.WSPingIntervalSec >= c.WSPongWaitSec {
		return fmt.Errorf("WS_PING_INTERVAL_SEC (%d) must be shorter than WS_PONG_WAIT_SEC (%d)", c.WSPingIntervalSec, c.WSPongWaitSec)
	}

	if c.WSUpgradeRateLimit <= 0 || c.WSUpgradeRateWindow <= 0 {
		return fmt.Errorf("WS_UPGRADE_RATE_LIMIT and WS_UPGRADE_RATE_WINDOW_SEC must be positive")
	}
	if c.PostRateLimit <= 0 || c.PostRateWindow <= 0 {
		return fmt.Errorf("POST_RATE_LIMIT and POST_RATE_WINDOW_SEC must be positive")
	}
	return nil
}

// WSPingInterval, WSPongWait and WSWriteWait convert the keepalive settings.
func (c *Config) WSPingInterval() time.Duration {
	return time.Duration(c.WSPingIntervalSec) * time.Second
}

func (c *Config) WSPongWait() time.Duration {
	return time.Duration(c.WSPongWaitSec) * time.Second
}

func (c *Config) WSWriteWait() time.Duration {
	return time.Duration(c.WSWriteWaitSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
