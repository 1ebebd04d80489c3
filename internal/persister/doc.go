// Package persister mirrors the store into a notes directory and reads
// external edits back.
//
// Each session is written as a Markdown memo with YAML frontmatter, one
// Markdown file per enhanced note, and a JSON transcript sidecar:
//
//	<dir>/<session-id>.md
//	<dir>/<session-id>.enhanced.<note-id>.md
//	<dir>/<session-id>.transcript.json
//	<dir>/humans/<human-id>.md
//	<dir>/organizations/<organization-id>.md
//
// Writes are debounced per session (or per human or organization) and
// performed by a single worker with write-temp-then-rename. Files edited
// outside the app are parsed, validated against an embedded CUE schema
// and merged into the store as file-origin transactions. Only the fields
// that changed since the file was last written or read are merged. Files
// that fail to parse are renamed with an .invalid suffix and never merged.
package persister
