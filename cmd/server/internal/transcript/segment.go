// Package transcript holds the processed segment type shared by the
// pipeline stages and the writers for the supported output formats.
package transcript

import (
	"strings"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
)

// Segment is one processed span of the transcript. Times are absolute
// seconds into the source audio.
type Segment struct {
	ID      int               `json:"id"`
	Start   float64           `json:"start"`
	End     float64           `json:"end"`
	Speaker string            `json:"speaker,omitempty"`
	Text    string            `json:"text"`
	Words   []capability.Word `json:"words,omitempty"`
	// Error is set when processing of this span failed; Text is then empty.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the segment carries a processing error.
func (s Segment) Failed() bool { return s.Error != "" }

func (s Segment) Duration() float64 { return s.End - s.Start }

// JoinWords concatenates word texts with single spaces.
func JoinWords(words []capability.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Renumber sets ID to the position of each segment.
func Renumber(segs []Segment) {
	for i := range segs {
		segs[i].ID = i
	}
}

// Transcription is the document written by the JSON writer.
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}
