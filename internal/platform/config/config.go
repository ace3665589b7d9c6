package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	IdentityServiceURL   string        `env:"IDENTITY_SERVICE_URL"`
	IdentityValidatePath string        `env:"IDENTITY_VALIDATE_PATH" default:"/api/user/validate"`
	IdentityTimeout      time.Duration `env:"IDENTITY_TIMEOUT" default:"5s"`

	MaxSessionsPerUser int    `env:"MAX_SESSIONS_PER_USER" default:"5"`
	HubBufferSize      int    `env:"HUB_BUFFER_SIZE" default:"256"`
	SendBufferSize     int    `env:"SEND_BUFFER_SIZE" default:"16"`
	RelayMode          string `env:"RELAY_MODE" default:"relay"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	IdleScanInterval  time.Duration `env:"IDLE_SCAN_INTERVAL" default:"1m"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" default:"5m"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.IdentityServiceURL == "" {
		return errors.New("IDENTITY_SERVICE_URL is required")
	}
	u, err := url.Parse(cfg.IdentityServiceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("IDENTITY_SERVICE_URL must be an absolute URL, got %q", cfg.IdentityServiceURL)
	}

	switch cfg.RelayMode {
	case "relay", "hub", "echo":
	default:
		return fmt.Errorf("RELAY_MODE must be one of relay, hub, echo, got %q", cfg.RelayMode)
	}

	positive := map[string]time.Duration{
		"IDENTITY_TIMEOUT":   cfg.IdentityTimeout,
		"HEARTBEAT_INTERVAL": cfg.HeartbeatInterval,
		"IDLE_SCAN_INTERVAL": cfg.IdleScanInterval,
		"IDLE_TIMEOUT":       cfg.IdleTimeout,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.MaxSessionsPerUser < 1 {
		return errors.New("MAX_SESSIONS_PER_USER must be at least 1")
	}
	if cfg.HubBufferSize < 0 {
		return errors.New("HUB_BUFFER_SIZE must not be negative (0 means unbounded)")
	}
	if cfg.SendBufferSize < 1 {
		return errors.New("SEND_BUFFER_SIZE must be at least 1")
	}
	if cfg.MaxWebSocketConnections < 1 || cfg.MaxConnectionsPerIP < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_RATE must be positive and CONNECTION_BURST at least 1")
	}

	return nil
}
