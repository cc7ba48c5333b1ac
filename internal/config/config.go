package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the sync core and its collaborators.
type Config struct {
	// BrokerURL is the websocket endpoint of the messaging broker.
	BrokerURL string `env:"CHATSYNC_BROKER_URL" validate:"required,uri"`
	// DirectoryURL is the base URL of the room directory / history service.
	DirectoryURL string `env:"CHATSYNC_DIRECTORY_URL" validate:"required,uri"`
	// Token is the bearer credential handed out by the auth collaborator.
	// It may be empty; connecting without one fails fast with AuthRequired.
	Token string `env:"CHATSYNC_TOKEN"`
	// UserID is the local client identity, injected at activation time.
	UserID string `env:"CHATSYNC_USER_ID" validate:"required"`

	HeartbeatInterval time.Duration `env:"CHATSYNC_HEARTBEAT_INTERVAL" envDefault:"25s" validate:"gt=0"`
	ReconnectDelay    time.Duration `env:"CHATSYNC_RECONNECT_DELAY" envDefault:"3s" validate:"gt=0"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// New loads configuration from a .env file (if present) and the environment.
func New() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
