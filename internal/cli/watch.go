package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/client"
	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/observe"
	"github.com/roach88/livesync/internal/predicate"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Once    bool
	Timeout time.Duration
}

// watchUpdate is one line of watch output.
type watchUpdate struct {
	Version int64       `json:"version"`
	Count   int         `json:"count"`
	Records []ir.Record `json:"records"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <collection> [query]",
		Short: "Open a live query and print its results as they change",
		Long: `Connect to the authority, open a live query, and print the result set
every time it changes. Connection status changes go to stderr.

With --once the command waits until the client is live, prints the result
once and exits.

Examples:
  livesync watch album "year > 1985 ORDER BY year DESC"
  livesync watch album "artist = 'Prince'" --once --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := ""
			if len(args) == 2 {
				expr = args[1]
			}
			return runWatch(opts, args[0], expr, cmd)
		},
	}

	addServerFlag(cmd)
	cmd.Flags().BoolVar(&opts.Once, "once", false, "print the result once live, then exit")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long --once waits for the authority")

	return cmd
}

func runWatch(opts *WatchOptions, collection, expr string, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), logLevel(opts.Verbose, slog.LevelWarn))
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	q, err := predicate.Parse(collection, expr)
	if err != nil {
		_ = formatter.Error(ErrCodeParse, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid query", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := client.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create client", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start client", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Shutdown(shutdownCtx); err != nil {
			slog.Error("client shutdown failed", "error", err)
		}
	}()

	h, err := c.Open(q)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open live query", err)
	}
	defer h.Close()

	waitCtx := ctx
	if opts.Once {
		var waitCancel context.CancelFunc
		waitCtx, waitCancel = context.WithTimeout(ctx, opts.Timeout)
		defer waitCancel()
	}
	if err := c.WaitLive(waitCtx); err != nil {
		if ctx.Err() != nil {
			return nil // interrupted
		}
		_ = formatter.Error(ErrCodeUnreachable, err.Error(), cfg.ServerURL)
		return WrapExitError(ExitCommandError, "authority not reachable", err)
	}
	if opts.Once {
		return printUpdate(formatter, h.Result())
	}

	// Observers run on the client's scheduler goroutine; the mutex keeps
	// their lines whole.
	var mu sync.Mutex
	statusObs := c.Observe("watch:status", func(s *observe.Scope) {
		st := c.Status().Get(s)
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(formatter.GetErrWriter(), "status: %s\n", st)
	})
	defer statusObs.Dispose()

	resultObs := c.Observe("watch:results", func(s *observe.Scope) {
		h.Get(s)
		mu.Lock()
		defer mu.Unlock()
		if err := printUpdate(formatter, h.Result()); err != nil {
			slog.Error("failed to print results", "error", err)
		}
	})
	defer resultObs.Dispose()

	<-ctx.Done()
	return nil
}

func printUpdate(f *OutputFormatter, rs *engine.ResultSet) error {
	if f.Format == "json" {
		records := rs.Records
		if records == nil {
			records = []ir.Record{}
		}
		return json.NewEncoder(f.Writer).Encode(watchUpdate{
			Version: rs.Version,
			Count:   len(records),
			Records: records,
		})
	}
	fmt.Fprintf(f.Writer, "v%d %d %s %s\n", rs.Version, len(rs.Records), plural(len(rs.Records), "record"), joinIDs(rs.Records))
	return nil
}
