package persister

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// splitDocument separates a Markdown file into its raw frontmatter and
// body. Leading whitespace is ignored, CRLF line endings are accepted and
// the single blank line after the closing delimiter is not part of the
// body.
func splitDocument(path string, data []byte) (front string, body string, err error) {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	s = strings.TrimLeft(s, " \t\n")

	if !strings.HasPrefix(s, delimiter+"\n") {
		return "", "", newParseError(ErrCodeMissingDelimiter, path, "missing opening --- delimiter", nil)
	}
	rest := s[len(delimiter)+1:]

	var after string
	switch {
	case rest == delimiter || strings.HasPrefix(rest, delimiter+"\n"):
		after = rest[len(delimiter):]
	default:
		end := strings.Index(rest, "\n"+delimiter+"\n")
		if end < 0 {
			if !strings.HasSuffix(rest, "\n"+delimiter) {
				return "", "", newParseError(ErrCodeMissingDelimiter, path, "missing closing --- delimiter", nil)
			}
			end = len(rest) - len(delimiter) - 1
		}
		front = rest[:end+1]
		after = rest[end+1+len(delimiter):]
	}

	after = strings.TrimPrefix(after, "\n")
	after = strings.TrimPrefix(after, "\n")
	return front, after, nil
}

// renderDocument writes frontmatter and body in the form splitDocument
// reads. Mapping keys are emitted in sorted order.
func renderDocument(front map[string]any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(front); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}
