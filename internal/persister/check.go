package persister

import (
	"fmt"
	"os"
)

// decodeFile decodes a Markdown notes file and checks that the
// frontmatter type and ids match the file path.
func (s *frontmatterSchema) decodeFile(path string, ref fileRef, data []byte) (Frontmatter, string, error) {
	fm, body, err := s.decodeDocument(path, data)
	if err != nil {
		return Frontmatter{}, "", err
	}

	switch ref.kind {
	case kindMemo:
		if fm.Type != TypeMemo || fm.ID != ref.sessionID {
			return Frontmatter{}, "", newParseError(ErrCodeSchemaViolation, path,
				fmt.Sprintf("memo file holds %s %q", fm.Type, fm.ID), nil)
		}
	case kindEnhanced:
		if fm.Type != TypeEnhancedNote || fm.ID != ref.noteID || fm.SessionID != ref.sessionID {
			return Frontmatter{}, "", newParseError(ErrCodeSchemaViolation, path,
				fmt.Sprintf("enhanced note file holds %s %q of session %q", fm.Type, fm.ID, fm.SessionID), nil)
		}
	case kindHuman:
		if fm.Type != TypeHuman || fm.ID != ref.entityID {
			return Frontmatter{}, "", newParseError(ErrCodeSchemaViolation, path,
				fmt.Sprintf("human file holds %s %q", fm.Type, fm.ID), nil)
		}
	case kindOrganization:
		if fm.Type != TypeOrganization || fm.ID != ref.entityID {
			return Frontmatter{}, "", newParseError(ErrCodeSchemaViolation, path,
				fmt.Sprintf("organization file holds %s %q", fm.Type, fm.ID), nil)
		}
	}
	return fm, body, nil
}

// FileReport is the outcome of checking one notes file.
type FileReport struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`

	// Err is nil for a valid file, otherwise usually a *ParseError.
	Err error `json:"-"`
}

// Valid reports whether the file parsed cleanly.
func (r FileReport) Valid() bool {
	return r.Err == nil
}

// Check parses every notes file in dir and its people subdirectories
// without touching a store or moving any file. Reports are sorted by
// path. Temporary and quarantined files are skipped.
func Check(dir string) ([]FileReport, error) {
	schema, err := newFrontmatterSchema()
	if err != nil {
		return nil, err
	}
	paths, err := listNotesFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("read notes directory: %w", err)
	}

	reports := make([]FileReport, 0, len(paths))
	for _, path := range paths {
		ref, _ := classifyPath(dir, path)
		report := FileReport{Path: path, Kind: ref.kind.String(), SessionID: ref.sessionID, EntityID: ref.entityID}

		data, err := os.ReadFile(path)
		switch {
		case err != nil:
			report.Err = err
		case ref.kind == kindTranscript:
			_, report.Err = decodeTranscripts(path, data)
		default:
			_, _, report.Err = schema.decodeFile(path, ref, data)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
