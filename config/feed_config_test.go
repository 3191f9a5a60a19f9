package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/feed")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, FollowBackendPostgres, cfg.FollowGraphBackend)
	assert.Equal(t, WSAuthUpgrade, cfg.WSAuthMode)
	assert.Equal(t, FanoutDirect, cfg.PostFanoutMode)
	assert.Equal(t, 3, cfg.PostTitleMin)
	assert.Equal(t, 1000, cfg.PostContentMax)
	assert.Equal(t, 25*time.Second, cfg.WSPingInterval())
	assert.Equal(t, 5*time.Minute, cfg.FollowCacheTTL)
	assert.False(t, cfg.RedisEnabled)
	assert.NotEmpty(t, cfg.StreamConsumerName)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WS_AUTH_MODE", "FRAME")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("POST_FANOUT_MODE", "stream")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WS_PING_INTERVAL_SEC", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, WSAuthFrame, cfg.WSAuthMode)
	assert.Equal(t, FanoutStream, cfg.PostFanoutMode)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 25, cfg.WSPingIntervalSec, "malformed values fall back to the default")
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}},
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown backend", map[string]string{"FOLLOW_GRAPH_BACKEND": "mysql"}},
		{"neo4j without url", map[string]string{"FOLLOW_GRAPH_BACKEND": "neo4j"}},
		{"unknown auth mode", map[string]string{"WS_AUTH_MODE": "cookie"}},
		{"stream without redis", map[string]string{"POST_FANOUT_MODE": "stream"}},
		{"unknown fanout", map[string]string{"POST_FANOUT_MODE": "kafka"}},
		{"inverted limits", map[string]string{"POST_TITLE_MIN": "60"}},
		{"ping not shorter than pong wait", map[string]string{"WS_PING_INTERVAL_SEC": "60", "WS_PONG_WAIT_SEC": "60"}},
		{"negative pong wait", map[string]string{"WS_PONG_WAIT_SEC": "-1"}},
		{"zero upgrade window", map[string]string{"WS_UPGRADE_RATE_WINDOW_SEC": "0"}},
		{"zero upgrade limit", map[string]string{"WS_UPGRADE_RATE_LIMIT": "0"}},
		{"zero post window", map[string]string{"POST_RATE_WINDOW_SEC": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
