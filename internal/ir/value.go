package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface for cell values.
// Only String, Int and Bool implement it.
// There is no float type: floats break deterministic hashing.
type Value interface {
	cellValue() // Sealed
}

// String is a string cell value.
type String string

func (String) cellValue() {}

// Int is an integer cell value. Always int64, never float64.
type Int int64

func (Int) cellValue() {}

// Bool is a boolean cell value.
type Bool bool

func (Bool) cellValue() {}

// Row maps column names to cell values.
// Use SortedKeys() for deterministic iteration.
type Row map[string]Value

// SortedKeys returns column names in RFC 8785 canonical order (UTF-16 code units).
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether two rows hold the same columns with equal values.
func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		ov, ok := other[k]
		if !ok || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}

// ValueEqual compares two cell values by type and content.
// A nil value only equals another nil value.
func ValueEqual(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	default:
		return false
	}
}

// AsString returns the string content of v, or "" when v is not a String.
func AsString(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return ""
}

// AsInt returns the integer content of v and whether v is an Int.
func AsInt(v Value) (int64, bool) {
	if n, ok := v.(Int); ok {
		return int64(n), true
	}
	return 0, false
}

// AsBool returns the boolean content of v, or false when v is not a Bool.
func AsBool(v Value) bool {
	if b, ok := v.(Bool); ok {
		return bool(b)
	}
	return false
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785. Go's string comparison uses UTF-8 bytes,
// which orders supplementary-plane characters differently.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// MarshalValue marshals a cell value to JSON bytes.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case nil:
		return nil, fmt.Errorf("null is not a cell value")
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes a JSON scalar into a cell value with strict validation.
// Rejects null, floats, arrays and objects.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	switch val := raw.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a cell value")
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not cell values: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	default:
		return nil, fmt.Errorf("unsupported cell value: %T", raw)
	}
}
