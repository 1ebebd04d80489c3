package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/notesync/internal/persister"
)

// CheckedFile is one entry of the check command's JSON payload.
type CheckedFile struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

// CheckResult is the check command's JSON payload.
type CheckResult struct {
	Files   []CheckedFile `json:"files"`
	Valid   int           `json:"valid"`
	Invalid int           `json:"invalid"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [notes-dir]",
		Short: "Validate every notes file without changing anything",
		Long: `Parse every memo, enhanced note and transcript file in the notes
directory, plus the human and organization files in its humans/ and
organizations/ subdirectories, and report the ones that would be
quarantined.

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error (directory not found, etc.)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Config.NotesDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return NewExitError(ExitCommandError, "notes directory is required")
			}
			return runCheck(rootOpts, dir, cmd)
		},
	}
}

func runCheck(opts *RootOptions, dir string, cmd *cobra.Command) error {
	reports, err := persister.Check(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot check notes", err)
	}

	result := CheckResult{Files: make([]CheckedFile, 0, len(reports))}
	var text strings.Builder
	for _, r := range reports {
		f := CheckedFile{Path: r.Path, Kind: r.Kind, SessionID: r.SessionID, EntityID: r.EntityID, Valid: r.Valid()}
		if r.Valid() {
			result.Valid++
			fmt.Fprintf(&text, "✓ %s\n", r.Path)
		} else {
			result.Invalid++
			f.Error = r.Err.Error()
			fmt.Fprintf(&text, "✗ %s\n  %v\n", r.Path, r.Err)
		}
		result.Files = append(result.Files, f)
	}
	fmt.Fprintf(&text, "\nCheck Summary: %d valid, %d invalid\n", result.Valid, result.Invalid)

	var failure *ResponseError
	if result.Invalid > 0 {
		failure = &ResponseError{Code: "E_INVALID_NOTES", Message: fmt.Sprintf("%d file(s) invalid", result.Invalid)}
	}
	if err := (Output{Format: opts.Format, Writer: cmd.OutOrStdout()}).Result(result, text.String(), failure); err != nil {
		return err
	}
	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}
