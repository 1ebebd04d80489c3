package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// CellChange is one stamped write: either a cell value or a row tombstone.
//
// Wire form:
//
//	{"table":"sessions","rowId":"s1","column":"title","value":"Sync","clock":{"counter":5,"clientId":"W2"}}
//	{"table":"sessions","rowId":"s1","clock":{"counter":6,"clientId":"W1"},"tombstone":true}
type CellChange struct {
	Table     string
	RowID     string
	Column    string
	Value     Value
	Clock     Stamp
	Tombstone bool
}

// Delta is an ordered list of changes. Merge order does not affect the result.
type Delta []CellChange

type cellChangeJSON struct {
	Table     string          `json:"table"`
	RowID     string          `json:"rowId"`
	Column    string          `json:"column,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Clock     Stamp           `json:"clock"`
	Tombstone bool            `json:"tombstone,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c CellChange) MarshalJSON() ([]byte, error) {
	out := cellChangeJSON{
		Table:     c.Table,
		RowID:     c.RowID,
		Column:    c.Column,
		Clock:     c.Clock,
		Tombstone: c.Tombstone,
	}
	if !c.Tombstone {
		raw, err := MarshalValue(c.Value)
		if err != nil {
			return nil, fmt.Errorf("change %s/%s/%s: %w", c.Table, c.RowID, c.Column, err)
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
// A value that is not a string, int or bool is rejected.
func (c *CellChange) UnmarshalJSON(data []byte) error {
	var in cellChangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = CellChange{
		Table:     in.Table,
		RowID:     in.RowID,
		Column:    in.Column,
		Clock:     in.Clock,
		Tombstone: in.Tombstone,
	}
	if !in.Tombstone && len(in.Value) > 0 {
		v, err := UnmarshalValue(in.Value)
		if err != nil {
			return fmt.Errorf("change %s/%s/%s: %w", in.Table, in.RowID, in.Column, err)
		}
		c.Value = v
	}
	return nil
}

// Validate reports why a change cannot be merged, or nil.
func (c CellChange) Validate() error {
	var errs []error
	if c.Table == "" {
		errs = append(errs, errors.New("missing table"))
	}
	if c.RowID == "" {
		errs = append(errs, errors.New("missing row id"))
	}
	if c.Clock.IsZero() {
		errs = append(errs, errors.New("missing clock"))
	}
	if !c.Tombstone {
		if c.Column == "" {
			errs = append(errs, errors.New("missing column"))
		}
		if c.Value == nil {
			errs = append(errs, errors.New("missing value"))
		}
	}
	return errors.Join(errs...)
}

// Sort orders changes by table, row, tombstone-first, then column.
func (d Delta) Sort() {
	slices.SortStableFunc(d, func(a, b CellChange) int {
		if c := strings.Compare(a.Table, b.Table); c != 0 {
			return c
		}
		if c := strings.Compare(a.RowID, b.RowID); c != 0 {
			return c
		}
		if a.Tombstone != b.Tombstone {
			if a.Tombstone {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.Column, b.Column); c != 0 {
			return c
		}
		return a.Clock.Compare(b.Clock)
	})
}

// MaxCounter returns the highest clock counter in the delta.
func (d Delta) MaxCounter() int64 {
	var highest int64
	for _, c := range d {
		if c.Clock.Counter > highest {
			highest = c.Clock.Counter
		}
	}
	return highest
}
