package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv         string   `env:"APP_ENV" default:"development"`
	Port           string   `env:"PORT" default:"8080"`
	AppURL         string   `env:"APP_URL" default:"http://localhost:8080"`
	// AllowedOrigins lists extra browser origins allowed to open ports, comma separated.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`
	RedisURL       string   `env:"REDIS_URL"`
	// InstanceID scopes the persisted upstream session. Generated when empty.
	InstanceID     string   `env:"INSTANCE_ID"`
	LogLevel       string   `env:"LOG_LEVEL" default:"info"`
	LogFormat      string   `env:"LOG_FORMAT" default:"text"`

	UpstreamURL              string        `env:"UPSTREAM_URL" default:"wss://events.7tv.io/v3"`
	UpstreamHandshakeTimeout time.Duration `env:"UPSTREAM_HANDSHAKE_TIMEOUT" default:"10s"`
	UpstreamWriteTimeout     time.Duration `env:"UPSTREAM_WRITE_TIMEOUT" default:"5s"`
	ReconnectDelay           time.Duration `env:"RECONNECT_DELAY" default:"1s"`
	ReconnectMaxAttempts     int           `env:"RECONNECT_MAX_ATTEMPTS" default:"10"`
	ReconnectMaxBackoff      time.Duration `env:"RECONNECT_MAX_BACKOFF" default:"30s"`
	RateLimitBackoff         time.Duration `env:"RATE_LIMIT_BACKOFF" default:"10s"`
	ResumeEnabled            bool          `env:"RESUME_ENABLED" default:"true"`
	SubscriptionLimit        int           `env:"SUBSCRIPTION_LIMIT" default:"500"`
	SessionTTL               time.Duration `env:"SESSION_TTL" default:"10m"`

	MaxPorts       int     `env:"MAX_PORTS" default:"1000"`
	PortBufferSize int     `env:"PORT_BUFFER_SIZE" default:"16"`
	PortRateLimit  float64 `env:"PORT_RATE_LIMIT" default:"20"`
	PortRateBurst  int     `env:"PORT_RATE_BURST" default:"40"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"10"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"20"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("UPSTREAM_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("UPSTREAM_URL must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("UPSTREAM_URL must include a host")
	}
	if cfg.AppEnv == "production" && u.Scheme != "wss" {
		return errors.New("UPSTREAM_URL uses ws which is not allowed in production")
	}

	if cfg.RedisURL != "" {
		if r, err := url.Parse(cfg.RedisURL); err != nil || (r.Scheme != "redis" && r.Scheme != "rediss") {
			return errors.New("REDIS_URL must be a redis:// or rediss:// URL")
		}
	}

	positive := map[string]int{
		"SUBSCRIPTION_LIMIT": cfg.SubscriptionLimit,
		"MAX_PORTS":          cfg.MaxPorts,
		"PORT_BUFFER_SIZE":   cfg.PortBufferSize,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.ReconnectMaxAttempts < 0 {
		return errors.New("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if cfg.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if cfg.ReconnectMaxBackoff < cfg.ReconnectDelay {
		return errors.New("RECONNECT_MAX_BACKOFF must not be shorter than RECONNECT_DELAY")
	}
	if cfg.PortRateLimit < 0 || cfg.APIRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}

	return nil
}
