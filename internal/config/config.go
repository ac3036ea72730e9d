// Package config holds livesync's environment configuration. Command-line
// flags override these values.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/roach88/livesync/internal/schema"
	"github.com/roach88/livesync/internal/transport"
)

// Config is shared by the client and the authority.
type Config struct {
	// ServerURL is the authority's WebSocket sync endpoint.
	ServerURL string `env:"LIVESYNC_SERVER_URL" envDefault:"ws://127.0.0.1:9797/sync"`

	// ListenAddr is where the authority serves HTTP.
	ListenAddr string `env:"LIVESYNC_LISTEN_ADDR" envDefault:"0.0.0.0:9797"`

	// DBPath is the authority's SQLite database.
	DBPath string `env:"LIVESYNC_DB_PATH" envDefault:"livesync.db"`

	// SchemaDir holds CUE collection schemas. Empty uses the built-in album
	// schema.
	SchemaDir string `env:"LIVESYNC_SCHEMA_DIR"`

	DialTimeout time.Duration `env:"LIVESYNC_DIAL_TIMEOUT" envDefault:"5s"`

	Backoff Backoff
}

// Backoff is the client's reconnect policy.
type Backoff struct {
	Initial    time.Duration `env:"LIVESYNC_BACKOFF_INITIAL" envDefault:"100ms"`
	Max        time.Duration `env:"LIVESYNC_BACKOFF_MAX" envDefault:"10s"`
	Multiplier float64       `env:"LIVESYNC_BACKOFF_MULTIPLIER" envDefault:"2"`
	Jitter     float64       `env:"LIVESYNC_BACKOFF_JITTER" envDefault:"0.5"`
}

// Load reads Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			return fmt.Errorf("server url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("server url %q: scheme must be ws or wss", c.ServerURL)
		}
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", c.Backoff.Multiplier)
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff jitter must be within [0, 1], got %v", c.Backoff.Jitter)
	}
	if c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("backoff max %s is below initial %s", c.Backoff.Max, c.Backoff.Initial)
	}
	return nil
}

// TransportBackoff converts the reconnect policy for the transport.
func (c Config) TransportBackoff() transport.BackoffConfig {
	return transport.BackoffConfig{
		Initial:    c.Backoff.Initial,
		Max:        c.Backoff.Max,
		Multiplier: c.Backoff.Multiplier,
		Jitter:     c.Backoff.Jitter,
	}
}

// Schemas loads the collection schemas from SchemaDir, or the built-in ones.
func (c Config) Schemas() (*schema.Registry, error) {
	if c.SchemaDir == "" {
		return schema.Builtin(), nil
	}
	return schema.LoadDir(c.SchemaDir)
}
