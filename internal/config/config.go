// Package config reads gateway runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Default policies applied when no rule matches a command.
const (
	PolicyAllow = "allow"
	PolicyDeny  = "deny"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	GRPCAddr     string        `envconfig:"GRPC_ADDR" default:""`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	PGDSN string `envconfig:"PG_DSN" default:""`

	RateBurst    int   `envconfig:"RATE_BURST" default:"20"`
	RatePerSec   int   `envconfig:"RATE_PER_SEC" default:"10"`
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	DefaultPolicy string `envconfig:"DEFAULT_POLICY" default:"allow"`
	CommandCost   int64  `envconfig:"COMMAND_COST" default:"1"`

	AdminKey      string `envconfig:"ADMIN_KEY" default:"admin-secret-key-123"`
	AdminUsername string `envconfig:"ADMIN_USERNAME" default:"SuperAdmin"`
	AdminCredits  int64  `envconfig:"ADMIN_CREDITS" default:"9999"`

	StreamEnabled bool `envconfig:"STREAM_ENABLED" default:"true"`
}

// Load reads configuration from CMDGATE_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("cmdgate", &cfg); err != nil {
		return nil, err
	}
	if cfg.DefaultPolicy != PolicyAllow && cfg.DefaultPolicy != PolicyDeny {
		return nil, fmt.Errorf("invalid default policy %q (want %q or %q)",
			cfg.DefaultPolicy, PolicyAllow, PolicyDeny)
	}
	if cfg.CommandCost <= 0 {
		return nil, fmt.Errorf("command cost must be positive, got %d", cfg.CommandCost)
	}
	return &cfg, nil
}
