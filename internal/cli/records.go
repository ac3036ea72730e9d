package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
)

// apiClient talks to the authority's record API.
type apiClient struct {
	base string
	http *http.Client
}

// apiError is a non-2xx answer from the authority.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("authority returned %d: %s", e.Status, e.Message)
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	base, err := httpBaseURL(cfg.ServerURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid server url", err)
	}
	return &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

func recordsPath(collection string) string {
	return "/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

// do sends body (if any) as JSON and decodes a 2xx answer into out (if any).
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) != nil || payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// reportAPIError prints err and maps it to an exit code: answers from the
// authority are failures, transport errors are command errors.
func reportAPIError(f *OutputFormatter, action string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		code := ErrCodeRejected
		if apiErr.Status == http.StatusNotFound {
			code = ErrCodeNotFound
		}
		_ = f.Error(code, apiErr.Message, map[string]int{"status": apiErr.Status})
		return WrapExitError(ExitFailure, action, err)
	}
	_ = f.Error(ErrCodeUnreachable, err.Error(), nil)
	return WrapExitError(ExitCommandError, action, err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one record",
		Long: `Fetch a single record from the authority.

Example:
  livesync get album a1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			api, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var rec ir.Record
			if err := api.do(commandContext(cmd), http.MethodGet, recordPath(args[0], args[1]), nil, &rec); err != nil {
				return reportAPIError(formatter, "get failed", err)
			}
			return formatter.Records([]ir.Record{rec})
		},
	}
	addServerFlag(cmd)
	return cmd
}

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Filter string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <collection> [query]",
		Short: "Run a one-shot query against the authority",
		Long: `Evaluate a query on the authority and print the matching records.

The query is written in the livesync query language, or as an AIP-160
filter with --filter. Without either, every record of the collection is
printed.

Examples:
  livesync query album "year > 1985 ORDER BY year DESC"
  livesync query album --filter 'artist = "Prince" AND year >= 1984'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := ""
			if len(args) == 2 {
				expr = args[1]
			}
			return runQuery(opts, args[0], expr, cmd)
		},
	}

	addServerFlag(cmd)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "AIP-160 filter instead of a query")

	return cmd
}

func runQuery(opts *QueryOptions, collection, expr string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if expr != "" && opts.Filter != "" {
		_ = formatter.Error(ErrCodeParse, "use either a query or --filter", nil)
		return NewExitError(ExitFailure, "use either a query or --filter")
	}

	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	params := url.Values{}
	if expr != "" {
		params.Set("q", expr)
	}
	if opts.Filter != "" {
		params.Set("filter", opts.Filter)
	}
	path := recordsPath(collection)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Query   string      `json:"query"`
		Records []ir.Record `json:"records"`
	}
	if err := api.do(commandContext(cmd), http.MethodGet, path, nil, &resp); err != nil {
		return reportAPIError(formatter, "query failed", err)
	}
	formatter.VerboseLog("query: %s", resp.Query)
	return formatter.Records(resp.Records)
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Fields string
	Patch  bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <collection> [id]",
		Short: "Create, replace or patch a record",
		Long: `Write a record through the authority.

Without an id the authority creates the record and assigns its id. With an
id the record is replaced (or created under that id). With --patch the
fields are applied as deltas; a null field removes it.

Examples:
  livesync put album --fields '{"name":"Purple Rain","artist":"Prince","year":1984}'
  livesync put album a1 --fields '{"name":"Low","artist":"Bowie","year":1977}'
  livesync put album a1 --patch --fields '{"year":1978}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			return runPut(opts, args[0], id, cmd)
		},
	}

	addServerFlag(cmd)
	cmd.Flags().StringVar(&opts.Fields, "fields", "", "record fields as a JSON object (required)")
	cmd.Flags().BoolVar(&opts.Patch, "patch", false, "apply fields as deltas to an existing record")
	_ = cmd.MarkFlagRequired("fields")

	return cmd
}

func runPut(opts *PutOptions, collection, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var fields ir.IRObject
	if err := json.Unmarshal([]byte(opts.Fields), &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("expected a JSON object")
		}
		_ = formatter.Error(ErrCodeParse, "invalid --fields: "+err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid --fields", err)
	}
	if opts.Patch && id == "" {
		_ = formatter.Error(ErrCodeGeneric, "--patch needs a record id", nil)
		return NewExitError(ExitFailure, "--patch needs a record id")
	}

	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	method, path := http.MethodPost, recordsPath(collection)
	switch {
	case opts.Patch:
		method, path = http.MethodPatch, recordPath(collection, id)
	case id != "":
		method, path = http.MethodPut, recordPath(collection, id)
	}

	var rec ir.Record
	if err := api.do(commandContext(cmd), method, path, fields, &rec); err != nil {
		return reportAPIError(formatter, "write failed", err)
	}
	return formatter.Records([]ir.Record{rec})
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <collection> <id>",
		Short: "Delete a record",
		Long: `Delete a record through the authority.

Example:
  livesync rm album a1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			api, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := api.do(commandContext(cmd), http.MethodDelete, recordPath(args[0], args[1]), nil, nil); err != nil {
				return reportAPIError(formatter, "delete failed", err)
			}
			return formatter.Success(fmt.Sprintf("deleted %s/%s", args[0], args[1]))
		},
	}
	addServerFlag(cmd)
	return cmd
}
