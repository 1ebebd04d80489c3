package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/notesync/internal/ir"
)

// Kind distinguishes broadcast messages.
type Kind string

const (
	// KindDelta carries stamped changes to merge.
	KindDelta Kind = "delta"
	// KindDigest announces one hash per table.
	KindDigest Kind = "digest"
	// KindRows answers a digest mismatch with per-row hashes for one table.
	KindRows Kind = "rows"
	// KindRequest asks a peer for the full state of some rows.
	KindRequest Kind = "request"
)

// Message is the broadcast payload. To is empty for messages meant for
// every peer.
type Message struct {
	Version int               `json:"v"`
	Kind    Kind              `json:"kind"`
	From    string            `json:"from"`
	To      string            `json:"to,omitempty"`
	Changes ir.Delta          `json:"changes,omitempty"`
	Tables  map[string]string `json:"tables,omitempty"`
	Table   string            `json:"table,omitempty"`
	Rows    map[string]string `json:"rows,omitempty"`
	RowIDs  []string          `json:"row_ids,omitempty"`
}

// Encode serializes a message, stamping the protocol version.
func Encode(m Message) ([]byte, error) {
	m.Version = ir.ProtocolVersion
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind, err)
	}
	return data, nil
}

// Decode parses a message. Messages from a different protocol version or
// without a sender are rejected.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Version != ir.ProtocolVersion {
		return Message{}, fmt.Errorf("decode message: unsupported protocol version %d", m.Version)
	}
	if m.From == "" {
		return Message{}, fmt.Errorf("decode message: missing sender")
	}
	switch m.Kind {
	case KindDelta, KindDigest, KindRows, KindRequest:
	default:
		return Message{}, fmt.Errorf("decode message: unknown kind %q", m.Kind)
	}
	return m, nil
}
