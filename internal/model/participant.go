package model

import (
	"encoding/json"
	"fmt"
)

// ParticipantKey identifies a session participant join row.
//
// The row id is the JSON array [session_id, human_id], so any id contents,
// including separators, round-trip without ambiguity.
type ParticipantKey struct {
	SessionID string
	HumanID   string
}

// RowID returns the store row id for the join row.
func (k ParticipantKey) RowID() string {
	data, _ := json.Marshal([2]string{k.SessionID, k.HumanID}) // strings always marshal
	return string(data)
}

// ParseParticipantKey decodes a join row id.
func ParseParticipantKey(rowID string) (ParticipantKey, error) {
	var parts []string
	if err := json.Unmarshal([]byte(rowID), &parts); err != nil {
		return ParticipantKey{}, fmt.Errorf("participant row id %q: %w", rowID, err)
	}
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ParticipantKey{}, fmt.Errorf("participant row id %q: want [session_id, human_id]", rowID)
	}
	return ParticipantKey{SessionID: parts[0], HumanID: parts[1]}, nil
}
