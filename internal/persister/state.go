package persister

import (
	"cmp"
	"maps"
	"slices"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/model"
	"github.com/roach88/notesync/internal/store"
)

// rowKey addresses one store row.
type rowKey struct {
	table string
	rowID string
}

func compareRowKeys(a, b rowKey) int {
	if c := cmp.Compare(a.table, b.table); c != 0 {
		return c
	}
	return cmp.Compare(a.rowID, b.rowID)
}

// fileState is the set of rows a notes file describes. String columns are
// always present; an empty string stands for a cleared cell.
type fileState map[rowKey]ir.Row

func (s fileState) keys() []rowKey {
	return slices.SortedFunc(maps.Keys(s), compareRowKeys)
}

// removed returns the rows of s that next no longer describes.
func (s fileState) removed(next fileState) []rowKey {
	var out []rowKey
	for _, k := range s.keys() {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// applyState merges next into the store. With a base (the state last
// written to or read from the same file) only the cells the file changed
// relative to base are written, so edits made in the app since then
// survive, and rows deleted in the app since then stay deleted. Without a
// base every cell is written. stale rows are deleted.
func applyState(tx *store.Tx, base, next fileState, stale []rowKey) {
	for _, k := range next.keys() {
		row := next[k]
		prev, seen := base[k]
		exists := tx.HasRow(k.table, k.rowID)
		if seen && !exists {
			continue
		}
		for _, col := range row.SortedKeys() {
			v := row[col]
			if pv, ok := prev[col]; ok && ir.ValueEqual(pv, v) {
				continue
			}
			setValue(tx, k, col, v)
		}
		if !exists && !tx.HasRow(k.table, k.rowID) && len(row) > 0 {
			// Every cell was empty; store one so the row exists.
			col := row.SortedKeys()[0]
			tx.SetCell(k.table, k.rowID, col, row[col])
		}
	}
	for _, k := range stale {
		if _, ok := next[k]; !ok {
			tx.DeleteRow(k.table, k.rowID)
		}
	}
}

// setValue writes v, except that an empty string only clears a cell that
// holds something.
func setValue(tx *store.Tx, k rowKey, col string, v ir.Value) {
	if s, ok := v.(ir.String); ok && s == "" {
		if cur, ok := tx.Cell(k.table, k.rowID, col); !ok || ir.AsString(cur) == "" {
			return
		}
	}
	tx.SetCell(k.table, k.rowID, col, v)
}

func stringCells(pairs ...string) ir.Row {
	r := make(ir.Row, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		r[pairs[i]] = ir.String(pairs[i+1])
	}
	return r
}

func memoState(s model.Session, participants []string) fileState {
	st := fileState{
		{model.TableSessions, s.ID}: stringCells(
			model.ColTitle, s.Title,
			model.ColCreatedAt, s.CreatedAt,
			model.ColVisitedAt, s.VisitedAt,
			model.ColUserID, s.UserID,
			model.ColCalendarEventID, s.CalendarEventID,
			model.ColRawMemoHTML, s.RawMemoHTML,
			model.ColEnhancedMemoHTML, s.EnhancedMemoHTML,
			model.ColWords, s.Words,
		),
	}
	for _, humanID := range participants {
		jp := model.SessionParticipant{Key: model.ParticipantKey{SessionID: s.ID, HumanID: humanID}}
		st[rowKey{model.TableParticipants, jp.Key.RowID()}] = jp.Row()
	}
	return st
}

func enhancedState(n model.EnhancedNote, hasPosition bool) fileState {
	r := stringCells(
		model.ColSessionID, n.SessionID,
		model.ColContent, n.Content,
		model.ColTemplateID, n.TemplateID,
		model.ColTitle, n.Title,
	)
	if hasPosition {
		r[model.ColPosition] = ir.Int(n.Position)
	}
	return fileState{{model.TableEnhancedNotes, n.ID}: r}
}

func transcriptState(rows map[string]ir.Row) fileState {
	st := make(fileState, len(rows))
	for id, r := range rows {
		st[rowKey{model.TableTranscripts, id}] = r
	}
	return st
}

func humanState(h model.Human) fileState {
	r := stringCells(
		model.ColOrganizationID, h.OrganizationID,
		model.ColFullName, h.FullName,
		model.ColEmail, h.Email,
		model.ColJobTitle, h.JobTitle,
		model.ColLinkedinUsername, h.LinkedinUsername,
	)
	r[model.ColIsUser] = ir.Bool(h.IsUser)
	return fileState{{model.TableHumans, h.ID}: r}
}

func organizationState(o model.Organization) fileState {
	return fileState{{model.TableOrganizations, o.ID}: stringCells(
		model.ColName, o.Name,
		model.ColDescription, o.Description,
	)}
}
