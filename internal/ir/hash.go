package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Domain prefixes for digests. Version suffix enables future algorithm migration.
const (
	DomainRow   = "notesync/row/v1"
	DomainTable = "notesync/table/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RowHash digests the full stamped state of one row: its tombstone (if any)
// and every stored cell with its clock. Two replicas holding the same row
// versions produce the same hash regardless of merge order.
func RowHash(state Delta) (string, error) {
	sorted := slices.Clone(state)
	sorted.Sort()

	entries := make([]any, 0, len(sorted))
	for _, c := range sorted {
		entry := map[string]any{
			"counter": c.Clock.Counter,
			"client":  c.Clock.ClientID,
		}
		if c.Tombstone {
			entry["tombstone"] = true
		} else {
			entry["column"] = c.Column
			entry["value"] = c.Value
		}
		entries = append(entries, entry)
	}

	canonical, err := MarshalCanonical(entries)
	if err != nil {
		return "", fmt.Errorf("RowHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRow, canonical), nil
}

// TableHash digests a table from its per-row hashes.
func TableHash(rowHashes map[string]string) string {
	ids := make([]string, 0, len(rowHashes))
	for id := range rowHashes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte(0x00)
		b.WriteString(rowHashes[id])
		b.WriteByte('\n')
	}
	return hashWithDomain(DomainTable, []byte(b.String()))
}
