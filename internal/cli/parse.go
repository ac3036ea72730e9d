package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/schema"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	Filter string
}

// parseResult is the output of the parse command.
type parseResult struct {
	Query    string          `json:"query"`
	Key      string          `json:"key"`
	Form     json.RawMessage `json:"form"`
	Warnings []string        `json:"warnings"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse <collection> [query]",
		Short: "Parse a query and print its normalized form",
		Long: `Parse a query offline and print its normalized text, its structural key
and its canonical form. Two queries with the same key share one
subscription.

When the collection has a schema, the query is also checked against it and
every suspicious comparison is reported as a warning.

Examples:
  livesync parse album "year > 1985 AND (artist = 'Prince')"
  livesync parse album --filter 'year > 1985' --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := ""
			if len(args) == 2 {
				expr = args[1]
			}
			return runParse(opts, args[0], expr, cmd)
		},
	}

	addSchemasFlag(cmd)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "parse an AIP-160 filter instead")

	return cmd
}

func runParse(opts *ParseOptions, collection, expr string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := loadSchemas(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeSchema, err.Error(), cfg.SchemaDir)
		return err
	}
	sch, hasSchema := reg.Get(collection)

	var q predicate.Query
	switch {
	case opts.Filter != "" && expr != "":
		_ = formatter.Error(ErrCodeParse, "use either a query or --filter", nil)
		return NewExitError(ExitFailure, "use either a query or --filter")
	case opts.Filter != "":
		if !hasSchema {
			err = fmt.Errorf("filter requires a schema: %w: %q", schema.ErrUnknownCollection, collection)
		} else {
			q, err = predicate.ParseFilter(sch, opts.Filter)
		}
	default:
		q, err = predicate.Parse(collection, expr)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeParse, err.Error(), nil)
		return WrapExitError(ExitFailure, "parse failed", err)
	}

	key, err := predicate.Key(q)
	if err != nil {
		return WrapExitError(ExitFailure, "parse failed", err)
	}
	form, err := ir.MarshalCanonical(predicate.Form(q))
	if err != nil {
		return WrapExitError(ExitFailure, "parse failed", err)
	}

	result := parseResult{Query: q.String(), Key: key, Form: form, Warnings: []string{}}
	if hasSchema {
		result.Warnings = predicate.Validate(q, sch).Warnings
	} else {
		formatter.VerboseLog("no schema for collection %q; skipping checks", collection)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	out := formatter.Writer
	fmt.Fprintf(out, "query: %s\n", result.Query)
	fmt.Fprintf(out, "key:   %s\n", result.Key)
	fmt.Fprintf(out, "form:  %s\n", result.Form)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}
