package harness

import (
	"fmt"

	"github.com/roach88/notesync/internal/ir"
	"github.com/roach88/notesync/internal/store"
)

// toRow converts YAML cell values to store values. Only strings,
// integers and booleans are cell values.
func toRow(cells map[string]any) (ir.Row, error) {
	r := make(ir.Row, len(cells))
	for col, raw := range cells {
		v, err := toValue(raw)
		if err != nil {
			return nil, fmt.Errorf("cell %q: %w", col, err)
		}
		r[col] = v
	}
	return r, nil
}

func toValue(raw any) (ir.Value, error) {
	switch v := raw.(type) {
	case string:
		return ir.String(v), nil
	case int:
		return ir.Int(int64(v)), nil
	case int64:
		return ir.Int(v), nil
	case bool:
		return ir.Bool(v), nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// checkExpectations returns one message per failed expectation.
func checkExpectations(st *store.Store, expects []RowExpect) []string {
	var failures []string
	for _, e := range expects {
		visible := st.HasRow(e.Table, e.Row)
		if e.Absent {
			if visible {
				failures = append(failures, fmt.Sprintf("%s/%s: expected absent, found %v", e.Table, e.Row, st.GetRow(e.Table, e.Row)))
			}
			continue
		}
		if !visible {
			failures = append(failures, fmt.Sprintf("%s/%s: expected row, not found", e.Table, e.Row))
			continue
		}

		want, _ := toRow(e.Cells) // validated at load
		got := st.GetRow(e.Table, e.Row)
		for _, col := range want.SortedKeys() {
			if !ir.ValueEqual(got[col], want[col]) {
				failures = append(failures, fmt.Sprintf("%s/%s.%s: expected %v, got %v", e.Table, e.Row, col, want[col], got[col]))
			}
		}
	}
	return failures
}
