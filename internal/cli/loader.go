package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/schema"
)

// Flag names shared by several commands. Each overrides the matching
// LIVESYNC_* environment variable when set.
const (
	flagServer  = "server"
	flagListen  = "listen"
	flagDB      = "db"
	flagSchemas = "schemas"
)

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagServer, "", "authority sync URL (env LIVESYNC_SERVER_URL)")
}

func addDBFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagDB, "", "path to SQLite database (env LIVESYNC_DB_PATH)")
}

func addSchemasFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagSchemas, "", "directory of CUE collection schemas (env LIVESYNC_SCHEMA_DIR)")
}

// loadConfig reads the environment, applies the flags the user set, and
// validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	flags := cmd.Flags()
	override(flags, flagServer, &cfg.ServerURL)
	override(flags, flagListen, &cfg.ListenAddr)
	override(flags, flagDB, &cfg.DBPath)
	override(flags, flagSchemas, &cfg.SchemaDir)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func override(flags *pflag.FlagSet, name string, target *string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		*target = f.Value.String()
	}
}

// loadSchemas loads the configured schemas, or the built-in ones.
func loadSchemas(cfg config.Config) (*schema.Registry, error) {
	reg, err := cfg.Schemas()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schemas", err)
	}
	return reg, nil
}

// httpBaseURL derives the authority's HTTP root from its sync URL:
// ws://host:port/sync becomes http://host:port.
func httpBaseURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("server url %q: scheme must be ws or wss", serverURL)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/sync")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
