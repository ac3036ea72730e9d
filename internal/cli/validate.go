package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/schema"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [schema-dir]",
		Short: "Check collection schemas",
		Long: `Compile the CUE schemas in a directory and list the collections they
declare. Without a directory the configured schemas (or the built-in album
schema) are checked.

Examples:
  livesync validate ./schemas
  livesync validate --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	addSchemasFlag(cmd)

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var (
		reg *schema.Registry
		err error
	)
	if dir != "" {
		reg, err = schema.LoadDir(dir)
	} else {
		cfg, cfgErr := loadConfig(cmd)
		if cfgErr != nil {
			return cfgErr
		}
		reg, err = cfg.Schemas()
	}
	if err != nil {
		_ = formatter.Error(ErrCodeSchema, err.Error(), dir)
		return WrapExitError(ExitFailure, "schema validation failed", err)
	}

	names := reg.Names()
	schemas := make([]ir.CollectionSchema, 0, len(names))
	for _, name := range names {
		s, _ := reg.Get(name)
		schemas = append(schemas, s)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"collections": schemas})
	}

	out := formatter.Writer
	for _, s := range schemas {
		fields := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			fields[i] = fmt.Sprintf("%s %s", f.Name, f.Kind)
		}
		fmt.Fprintf(out, "%s: %s\n", s.Name, strings.Join(fields, ", "))
	}
	fmt.Fprintf(out, "OK: %d %s\n", len(schemas), plural(len(schemas), "collection"))
	return nil
}
