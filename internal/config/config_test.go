package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := New()

	req.NoError(err)
	req.Equal("8080", cfg.APIServerPort)
	req.Equal([]string{"*"}, cfg.AllowedOrigins)
	req.Equal(EnvProd, cfg.Env)
	req.Equal(int64(4096), cfg.MaxMessageSize)
	req.Equal(100, cfg.MaxRoomNameLength)
	req.Equal(16, cfg.SendBufferSize)
	req.False(cfg.RedisEnabled)
	req.Equal("roomcast:announcements", cfg.RedisAnnouncementsChannel)
	req.Equal(30*time.Minute, cfg.SessionTTL)
	req.Empty(cfg.KeepAliveURL)
	req.Equal(10*time.Minute, cfg.KeepAliveInterval)
}

func TestNew_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Setenv("ENV", "dev")
	t.Setenv("API_SERVER_PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "example.com,*.example.org")
	t.Setenv("RATE_LIMIT_PER_SECOND", "2.5")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("KEEPALIVE_URL", "http://localhost:9000/health")
	t.Setenv("KEEPALIVE_INTERVAL", "30s")

	cfg, err := New()

	req.NoError(err)
	req.Equal(EnvDev, cfg.Env)
	req.Equal("9000", cfg.APIServerPort)
	req.Equal([]string{"example.com", "*.example.org"}, cfg.AllowedOrigins)
	req.Equal(2.5, cfg.RateLimitPerSec)
	req.True(cfg.RedisEnabled)
	req.Equal(5*time.Minute, cfg.SessionTTL)
	req.Equal(30*time.Second, cfg.KeepAliveInterval)
}

func TestNew_InvalidEnv(t *testing.T) {
	t.Setenv("ENV", "staging")

	_, err := New()

	require.ErrorContains(t, err, "invalid env variable")
}

func TestNew_InvalidLimits(t *testing.T) {
	req := require.New(t)
	t.Setenv("MAX_MESSAGE_SIZE", "0")
	t.Setenv("SEND_BUFFER_SIZE", "1")

	_, err := New()

	req.ErrorContains(err, "MAX_MESSAGE_SIZE")
	req.ErrorContains(err, "SEND_BUFFER_SIZE")
}

func TestNew_Unparsable(t *testing.T) {
	t.Setenv("MAX_ROOM_NAME_LENGTH", "lots")

	_, err := New()

	require.ErrorContains(t, err, "failed to load config")
}
