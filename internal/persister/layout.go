package persister

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/notesync/internal/model"
)

const (
	memoExt        = ".md"
	enhancedInfix  = ".enhanced."
	transcriptExt  = ".transcript.json"
	tempExt        = ".tmp"
	quarantinedExt = ".invalid"
)

// entityDirs are the subdirectories holding one file per human or
// organization. Each is named after its table.
var entityDirs = []string{model.TableHumans, model.TableOrganizations}

type fileKind int

const (
	kindMemo fileKind = iota + 1
	kindEnhanced
	kindTranscript
	kindHuman
	kindOrganization
)

func (k fileKind) String() string {
	switch k {
	case kindMemo:
		return "memo"
	case kindEnhanced:
		return "enhanced_note"
	case kindTranscript:
		return "transcript"
	case kindHuman:
		return "human"
	case kindOrganization:
		return "organization"
	default:
		return "unknown"
	}
}

// target is the unit the persister writes: a session with all of its
// files, or a single human or organization.
type target struct {
	table string
	id    string
}

func sessionTarget(sid string) target {
	return target{table: model.TableSessions, id: sid}
}

// String renders sessions as their id and entities as table/id.
func (t target) String() string {
	if t.table == model.TableSessions {
		return t.id
	}
	return t.table + "/" + t.id
}

func compareTargets(a, b target) int {
	return strings.Compare(a.String(), b.String())
}

// fileRef identifies what a notes file holds, derived from its path.
type fileRef struct {
	kind      fileKind
	sessionID string
	noteID    string
	entityID  string
}

// owner returns the target whose write renders the file.
func (r fileRef) owner() target {
	switch r.kind {
	case kindHuman:
		return target{table: model.TableHumans, id: r.entityID}
	case kindOrganization:
		return target{table: model.TableOrganizations, id: r.entityID}
	default:
		return sessionTarget(r.sessionID)
	}
}

// validID reports whether an id can be used in a file name.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.ContainsAny(id, `/\`) &&
		!strings.Contains(id, enhancedInfix)
}

func memoPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+memoExt)
}

func enhancedPath(dir, sessionID, noteID string) string {
	return filepath.Join(dir, sessionID+enhancedInfix+noteID+memoExt)
}

func transcriptPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+transcriptExt)
}

func entityPath(dir, table, id string) string {
	return filepath.Join(dir, table, id+memoExt)
}

// ignored reports whether a file name belongs to an in-flight write or a
// quarantined file.
func ignored(name string) bool {
	return strings.HasSuffix(name, tempExt) || strings.HasSuffix(name, quarantinedExt)
}

// classify maps a top-level file name to its contents. Unrelated files
// are rejected.
func classify(name string) (fileRef, bool) {
	if ignored(name) {
		return fileRef{}, false
	}

	if sid, ok := strings.CutSuffix(name, transcriptExt); ok {
		if !validID(sid) {
			return fileRef{}, false
		}
		return fileRef{kind: kindTranscript, sessionID: sid}, true
	}

	base, ok := strings.CutSuffix(name, memoExt)
	if !ok {
		return fileRef{}, false
	}
	if sid, nid, ok := strings.Cut(base, enhancedInfix); ok {
		if !validID(sid) || !validID(nid) {
			return fileRef{}, false
		}
		return fileRef{kind: kindEnhanced, sessionID: sid, noteID: nid}, true
	}
	if !validID(base) {
		return fileRef{}, false
	}
	return fileRef{kind: kindMemo, sessionID: base}, true
}

// classifyPath maps a path under root to its contents. Session files live
// at the top level, people files one level down in their entity dir.
func classifyPath(root, path string) (fileRef, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fileRef{}, false
	}
	sub, name := filepath.Split(rel)
	if sub == "" {
		return classify(name)
	}

	if ignored(name) {
		return fileRef{}, false
	}
	id, ok := strings.CutSuffix(name, memoExt)
	if !ok || !validID(id) {
		return fileRef{}, false
	}
	switch filepath.Clean(sub) {
	case model.TableHumans:
		return fileRef{kind: kindHuman, entityID: id}, true
	case model.TableOrganizations:
		return fileRef{kind: kindOrganization, entityID: id}, true
	}
	return fileRef{}, false
}

// listNotesFiles returns the sorted paths of every notes file under dir.
// Missing entity dirs are not an error.
func listNotesFiles(dir string) ([]string, error) {
	var paths []string
	for _, sub := range append([]string{""}, entityDirs...) {
		d := filepath.Join(dir, sub)
		entries, err := os.ReadDir(d)
		if sub != "" && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			path := filepath.Join(d, e.Name())
			if _, ok := classifyPath(dir, path); ok {
				paths = append(paths, path)
			}
		}
	}
	slices.Sort(paths)
	return paths, nil
}
