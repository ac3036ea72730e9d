package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	After int64
	Limit int
}

// historyEntry is one change log row as printed. Fields is the record image
// for inserts; Deltas the changed fields of an update.
type historyEntry struct {
	Seq        int64           `json:"seq"`
	Kind       ir.ChangeKind   `json:"kind"`
	Collection string          `json:"collection"`
	ID         ir.RecordID     `json:"id"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Deltas     json.RawMessage `json:"deltas,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [record-id]",
		Short: "Print the authority's change log",
		Long: `Read the change log straight from an authority database.

Without a record id the log is printed in sequence order, starting after
--after and capped at --limit entries. With a record id every change to that
record is printed.

Examples:
  livesync history --db ./livesync.db
  livesync history --db ./livesync.db --after 120 --limit 20
  livesync history a1 --db ./livesync.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runHistory(opts, id, cmd)
		},
	}

	addDBFlag(cmd)
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only changes with a greater seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of changes (0 = all)")

	return cmd
}

func runHistory(opts *HistoryOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Opening creates missing databases, which is wrong for a read.
	if _, err := os.Stat(cfg.DBPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error(ErrCodeNotFound, "database not found", cfg.DBPath)
			return WrapExitError(ExitCommandError, "database not found", err)
		}
		return WrapExitError(ExitCommandError, "failed to access database", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := commandContext(cmd)
	var changes []store.Change
	if id != "" {
		changes, err = st.History(ctx, ir.RecordID(id))
	} else {
		changes, err = st.Changes(ctx, opts.After, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	entries := make([]historyEntry, 0, len(changes))
	for _, c := range changes {
		e, err := toHistoryEntry(c)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to render change", err)
		}
		entries = append(entries, e)
	}

	if opts.Format == "json" {
		return formatter.Success(entries)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		detail := e.Deltas
		if detail == nil {
			detail = e.Fields
		}
		fmt.Fprintf(tw, "%d\t%s\t%s/%s\t%s\n", e.Seq, e.Kind, e.Collection, e.ID, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "(%d %s)\n", len(entries), plural(len(entries), "change"))
	return nil
}

func toHistoryEntry(c store.Change) (historyEntry, error) {
	e := historyEntry{
		Seq:        c.Seq,
		Kind:       c.Kind,
		Collection: c.Collection,
		ID:         c.RecordID,
	}
	var err error
	switch c.Kind {
	case ir.ChangeInsert:
		if c.After != nil {
			e.Fields, err = ir.MarshalCanonical(c.After.Fields)
		}
	case ir.ChangeUpdate:
		e.Deltas, err = ir.MarshalCanonical(c.Deltas())
	}
	if err != nil {
		return historyEntry{}, fmt.Errorf("change %d: %w", c.Seq, err)
	}
	return e, nil
}
