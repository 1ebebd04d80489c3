package model

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/notesync/internal/ir"
)

// Word is one transcribed word.
type Word struct {
	ID           string  `json:"id"`
	TranscriptID string  `json:"transcript_id"`
	Text         string  `json:"text"`
	StartMS      int64   `json:"start_ms"`
	EndMS        int64   `json:"end_ms"`
	Channel      int64   `json:"channel"`
	Speaker      *string `json:"speaker,omitempty"`
}

// Speaker hint types.
const (
	HintHuman      = "human"
	HintUnassigned = "unassigned"
)

// SpeakerHintValue carries the attribution payload of a hint.
type SpeakerHintValue struct {
	HumanID      string `json:"human_id,omitempty"`
	SpeakerIndex *int64 `json:"speaker_index,omitempty"`
	Channel      *int64 `json:"channel,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// SpeakerHint attributes a word to a speaker.
type SpeakerHint struct {
	ID           string           `json:"id"`
	TranscriptID string           `json:"transcript_id"`
	WordID       string           `json:"word_id"`
	Type         string           `json:"type"`
	Value        SpeakerHintValue `json:"value"`
}

// Transcript is a transcript with its words and speaker hints inlined
// (TranscriptWithData in the sidecar file).
type Transcript struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	StartedAt    int64         `json:"started_at"`
	EndedAt      *int64        `json:"ended_at,omitempty"`
	Words        []Word        `json:"words"`
	SpeakerHints []SpeakerHint `json:"speaker_hints"`
}

// Row converts the transcript to store cells. Words and hints are stored
// as JSON strings.
func (t Transcript) Row() (ir.Row, error) {
	words := t.Words
	if words == nil {
		words = []Word{}
	}
	hints := t.SpeakerHints
	if hints == nil {
		hints = []SpeakerHint{}
	}

	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return nil, fmt.Errorf("transcript %s words: %w", t.ID, err)
	}
	hintsJSON, err := json.Marshal(hints)
	if err != nil {
		return nil, fmt.Errorf("transcript %s speaker hints: %w", t.ID, err)
	}

	r := ir.Row{
		ColSessionID:    ir.String(t.SessionID),
		ColStartedAt:    ir.Int(t.StartedAt),
		ColWords:        ir.String(wordsJSON),
		ColSpeakerHints: ir.String(hintsJSON),
	}
	if t.EndedAt != nil {
		r[ColEndedAt] = ir.Int(*t.EndedAt)
	}
	return r, nil
}

// TranscriptFromRow reads a transcript from store cells.
func TranscriptFromRow(id string, r ir.Row) (Transcript, error) {
	t := Transcript{
		ID:           id,
		SessionID:    ir.AsString(r[ColSessionID]),
		Words:        []Word{},
		SpeakerHints: []SpeakerHint{},
	}
	t.StartedAt, _ = ir.AsInt(r[ColStartedAt])
	if ended, ok := ir.AsInt(r[ColEndedAt]); ok {
		t.EndedAt = &ended
	}
	if raw := ir.AsString(r[ColWords]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Words); err != nil {
			return Transcript{}, fmt.Errorf("transcript %s words: %w", id, err)
		}
	}
	if raw := ir.AsString(r[ColSpeakerHints]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.SpeakerHints); err != nil {
			return Transcript{}, fmt.Errorf("transcript %s speaker hints: %w", id, err)
		}
	}
	return t, nil
}
