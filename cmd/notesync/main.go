// notesync keeps a local-first note store in sync across windows and
// processes and mirrors it to a directory of Markdown notes.
//
// Usage:
//
//	notesync run --notes-dir ~/notes --db ~/hyprnote.db
//	notesync relay --listen 127.0.0.1:7420
//	notesync export --notes-dir ~/notes --db ~/hyprnote.db
//	notesync check ~/notes
//	notesync test ./scenarios
package main

import (
	"fmt"
	"os"

	"github.com/roach88/notesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
