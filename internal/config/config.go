package config

import (
	"errors"
	"fmt"
	"github.com/caarlos0/env/v11"
	"time"
)

type Env string

const (
	EnvProd Env = "prod"
	EnvDev  Env = "dev"
)

func (e Env) IsValid() bool {
	switch e {
	case EnvProd, EnvDev:
		return true
	}
	return false
}

type Config struct {
	APIServerHost  string   `env:"API_SERVER_HOST"`
	APIServerPort  string   `env:"API_SERVER_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	Env            Env      `env:"ENV" envDefault:"prod"`

	MaxMessageSize    int64   `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	MaxRoomNameLength int     `env:"MAX_ROOM_NAME_LENGTH" envDefault:"100"`
	SendBufferSize    int     `env:"SEND_BUFFER_SIZE" envDefault:"16"`
	RateLimitPerSec   float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"5"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	RedisEnabled              bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost                 string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort                 string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisAnnouncementsChannel string        `env:"REDIS_ANNOUNCEMENTS_CHANNEL" envDefault:"roomcast:announcements"`
	RedisSessionPrefix        string        `env:"REDIS_SESSION_PREFIX" envDefault:"roomcast:"`
	SessionTTL                time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	KeepAliveURL      string        `env:"KEEPALIVE_URL"`
	KeepAliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"10m"`
}

func New() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !c.Env.IsValid() {
		return fmt.Errorf("invalid env variable (must be 'prod' or 'dev')")
	}

	var errs []error
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize))
	}
	if c.MaxRoomNameLength <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ROOM_NAME_LENGTH must be positive, got %d", c.MaxRoomNameLength))
	}
	if c.SendBufferSize < 2 {
		errs = append(errs, fmt.Errorf("SEND_BUFFER_SIZE must be at least 2, got %d", c.SendBufferSize))
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %g/s burst %d", c.RateLimitPerSec, c.RateLimitBurst))
	}
	if c.RedisEnabled && c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.KeepAliveURL != "" && c.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("KEEPALIVE_INTERVAL must be positive, got %s", c.KeepAliveInterval))
	}
	return errors.Join(errs...)
}
