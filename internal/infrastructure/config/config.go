package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	APIBaseURL        string `env:"API_BASE_URL, default=http://localhost:8000"`
	LogLevel          string `env:"LOG_LEVEL,    default=info"`
	SessionFile       string `env:"SESSION_FILE, default=.waitingroom-session.json"`
	RequireJoinReason bool   `env:"REQUIRE_JOIN_REASON, default=true"`

	PubNub    PubNubConfig
	DevServer DevServerConfig
}

type PubNubConfig struct {
	SubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	AuthKey      string `env:"PUBNUB_AUTH_KEY"`
}

// Enabled reports whether a PubNub keyset was provided; without one the
// client runs REST-only and relies on manual refresh.
func (p PubNubConfig) Enabled() bool {
	return p.SubscribeKey != ""
}

type DevServerConfig struct {
	Port          string `env:"DEVSERVER_PORT,         default=8000"`
	JWTSecret     string `env:"DEVSERVER_JWT_SECRET,   default=dev-only-secret"`
	TokenLifetime int    `env:"DEVSERVER_TOKEN_TTL,    default=3600"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return &cfg, nil
}
