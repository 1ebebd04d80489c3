package persister

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReportsEveryNotesFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"s1.md":              "---\nid: s1\nsession_id: s1\ntype: memo\n---\n\nhello\n",
		"s1.enhanced.n1.md":  "---\nid: n1\nsession_id: s1\ntype: enhanced_note\nposition: 0\n---\n\n# Summary\n",
		"s1.transcript.json": "{\"transcripts\": []}\n",
		"s2.md":              "no frontmatter here\n",
		"s3.md":              "---\nid: other\nsession_id: other\ntype: memo\n---\n",
		"s2.transcript.json": "{not json",
		"s4.md.invalid":      "skipped",
		"s5.md.123.tmp":      "skipped",
		"README.txt":         "unrelated",
		"s6.enhanced.n2.md":  "---\nid: n2\nsession_id: s6\ntype: memo\n---\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	reports, err := Check(dir)
	require.NoError(t, err)

	got := map[string]FileReport{}
	for _, r := range reports {
		got[filepath.Base(r.Path)] = r
	}
	require.Len(t, got, 7)

	for _, name := range []string{"s1.md", "s1.enhanced.n1.md", "s1.transcript.json"} {
		assert.True(t, got[name].Valid(), "%s: %v", name, got[name].Err)
	}
	assert.True(t, IsParseError(got["s2.md"].Err, ErrCodeMissingDelimiter))
	assert.True(t, IsParseError(got["s3.md"].Err, ErrCodeSchemaViolation))
	assert.True(t, IsParseError(got["s2.transcript.json"].Err, ErrCodeInvalidJSON))
	assert.True(t, IsParseError(got["s6.enhanced.n2.md"].Err, ErrCodeSchemaViolation))

	assert.Equal(t, "enhanced_note", got["s1.enhanced.n1.md"].Kind)
	assert.Equal(t, "s6", got["s6.enhanced.n2.md"].SessionID)

	// Check never moves files.
	_, err = os.Stat(filepath.Join(dir, "s2.md"))
	assert.NoError(t, err)
}

func TestCheckMissingDirectory(t *testing.T) {
	_, err := Check(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
