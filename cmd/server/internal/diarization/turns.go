package diarization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
)

// turnJSON accepts both {start, end} and {start, duration}.
type turnJSON struct {
	Start    float64  `json:"start"`
	End      *float64 `json:"end"`
	Duration *float64 `json:"duration"`
	Speaker  string   `json:"speaker"`
}

// ParseTurnsJSON reads diarization output: either {"segments": [...],
// "error": "..."} or a bare array. Leading log lines before the JSON are
// skipped.
func ParseTurnsJSON(data []byte) ([]capability.SpeakerTimeSegment, error) {
	if i := bytes.IndexAny(data, "{["); i > 0 {
		data = data[i:]
	}

	var raw []turnJSON
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid diarization JSON: %w", err)
		}
	} else {
		var payload struct {
			Segments []turnJSON `json:"segments"`
			Error    string     `json:"error"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("invalid diarization JSON: %w", err)
		}
		if payload.Error != "" {
			return nil, fmt.Errorf("diarization error: %s", payload.Error)
		}
		raw = payload.Segments
	}

	turns := make([]capability.SpeakerTimeSegment, 0, len(raw))
	for _, t := range raw {
		seg := capability.SpeakerTimeSegment{Start: t.Start, SpeakerID: t.Speaker}
		switch {
		case t.Duration != nil:
			seg.Duration = *t.Duration
		case t.End != nil:
			seg.Duration = *t.End - t.Start
		}
		turns = append(turns, seg)
	}
	return validTurns(turns), nil
}

// ReadTurnsFile loads a diarization JSON file.
func ReadTurnsFile(path string) ([]capability.SpeakerTimeSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	turns, err := ParseTurnsJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return turns, nil
}
