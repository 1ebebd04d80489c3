package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/notesync/internal/model"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	NotesDir string
	Database string
}

// ExportResult is the export command's JSON payload.
type ExportResult struct {
	Sessions    int      `json:"sessions"`
	Quarantined []string `json:"quarantined"`
	Dirty       []string `json:"dirty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every session of the backing database to the notes directory",
		Long: `Hydrate from the backing database, merge any notes already in the
directory, write every session once and exit. No peers are contacted.

Exit codes:
  0 - Every session written
  1 - One or more sessions could not be written
  2 - Command error (missing database, bad config, etc.)

Example:
  notesync export --db ~/hyprnote.db --notes-dir ~/notes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.NotesDir, "notes-dir", "", "notes directory (overrides notes_dir)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "backing SQLite database (overrides database)")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	overrideString(cmd, "notes-dir", &cfg.NotesDir, opts.NotesDir)
	overrideString(cmd, "db", &cfg.Database, opts.Database)
	if cfg.NotesDir == "" || cfg.Database == "" {
		return NewExitError(ExitCommandError, "both a notes directory and a database are required")
	}

	a, err := newApp(cfg, false, logWarning)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure", err)
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.adapter.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load", err)
	}
	p := a.adapter.Persister()
	result := ExportResult{
		Sessions:    len(a.store.RowIDs(model.TableSessions)),
		Quarantined: p.Quarantined(),
	}
	result.Dirty = shutdown(a.adapter)
	if result.Dirty == nil {
		result.Dirty = []string{}
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Exported %d session(s) to %s\n", result.Sessions, cfg.NotesDir)
	for _, path := range result.Quarantined {
		fmt.Fprintf(&text, "  quarantined %s\n", path)
	}
	for _, sid := range result.Dirty {
		fmt.Fprintf(&text, "  not written: %s\n", sid)
	}

	var failure *ResponseError
	if len(result.Dirty) > 0 {
		failure = &ResponseError{Code: "E_DIRTY", Message: fmt.Sprintf("%d session(s) not written", len(result.Dirty))}
	}
	if err := (Output{Format: opts.Format, Writer: cmd.OutOrStdout()}).Result(result, text.String(), failure); err != nil {
		return err
	}
	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}
