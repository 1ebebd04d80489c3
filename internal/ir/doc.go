// Package ir provides the wire and value types shared by every notesync package.
//
// ir imports nothing internal. Everything that crosses a boundary (the
// broadcast channel, the digest exchange, the on-disk transcript sidecar)
// is expressed with these types.
//
// Key constraints:
//   - NO float types anywhere - numbers are int64
//   - No null cell values; absence is the lack of a cell
//   - Logical clocks (Stamp) only, never wall-clock timestamps for ordering
package ir
