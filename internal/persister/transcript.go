package persister

import (
	"bytes"
	"encoding/json"

	"github.com/roach88/notesync/internal/model"
)

// transcriptFile is the sidecar JSON document.
type transcriptFile struct {
	Transcripts []model.Transcript `json:"transcripts"`
}

func renderTranscripts(ts []model.Transcript) ([]byte, error) {
	if ts == nil {
		ts = []model.Transcript{}
	}
	data, err := json.MarshalIndent(transcriptFile{Transcripts: ts}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decodeTranscripts(path string, data []byte) ([]model.Transcript, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var f transcriptFile
	if err := dec.Decode(&f); err != nil {
		return nil, newParseError(ErrCodeInvalidJSON, path, "transcript sidecar is not valid JSON", err)
	}
	if dec.More() {
		return nil, newParseError(ErrCodeInvalidJSON, path, "trailing data after transcript document", nil)
	}
	for i, t := range f.Transcripts {
		if !validID(t.ID) {
			return nil, newParseError(ErrCodeInvalidJSON, path, "transcript without a usable id", nil)
		}
		if t.Words == nil {
			f.Transcripts[i].Words = []model.Word{}
		}
		if t.SpeakerHints == nil {
			f.Transcripts[i].SpeakerHints = []model.SpeakerHint{}
		}
	}
	return f.Transcripts, nil
}
