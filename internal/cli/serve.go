package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/authority"
	"github.com/roach88/livesync/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authority",
		Long: `Run the livesync authority.

The authority owns the record store (a SQLite database, created if it does
not exist), serves the record API over HTTP, and streams snapshots and change
events to clients connected on /sync.

Example:
  livesync serve --db ./livesync.db --listen 127.0.0.1:9797
  livesync serve --schemas ./schemas --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}

	addDBFlag(cmd)
	addSchemasFlag(cmd)
	cmd.Flags().String(flagListen, "", "HTTP listen address (env LIVESYNC_LISTEN_ADDR)")

	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), logLevel(opts.Verbose, slog.LevelInfo))

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := loadSchemas(cfg)
	if err != nil {
		return err
	}
	slog.Info("schemas loaded", "collections", reg.Names())

	slog.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	hub := authority.NewHub(st, authority.WithSchemas(reg))
	server := authority.NewServer(hub)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Authority listening on %s\n", cfg.ListenAddr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		return WrapExitError(ExitFailure, "authority error", err)
	}

	slog.Info("authority stopped gracefully")
	return nil
}
