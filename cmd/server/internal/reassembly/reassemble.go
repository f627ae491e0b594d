// Package reassembly joins per-chunk transcription results back into one
// transcript and summarizes how the chunks fared.
package reassembly

import (
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Piece is the outcome of one chunk (or segment) in playback order.
type Piece struct {
	Index int
	// Text is the post-processed text; RawText is the ASR output before
	// punctuation/denormalization.
	Text       string
	RawText    string
	StartMs    int64
	EndMs      int64
	DurationMs int64
	Failed     bool
}

func (p Piece) text(useRaw bool) string {
	if useRaw {
		return p.RawText
	}
	return p.Text
}

// Reassemble joins the texts of non-failed pieces in Index order with a
// single space. Overlapping text is not deduplicated here; see DedupOverlap.
func Reassemble(pieces []Piece, useRaw bool) string {
	ordered := slices.Clone(pieces)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	parts := make([]string, 0, len(ordered))
	for _, p := range ordered {
		if p.Failed {
			continue
		}
		if t := strings.TrimSpace(p.text(useRaw)); t != "" {
			parts = append(parts, t)
		}
	}
	return Normalize(strings.Join(parts, " "))
}

// Normalize converts text to Unicode NFC so that pieces produced by
// different providers compare and render consistently.
func Normalize(text string) string {
	return norm.NFC.String(text)
}

// ChunkingMetadata describes the chunk batch behind a transcript.
type ChunkingMetadata struct {
	OriginalChunks   int   `json:"original_chunks"`
	SuccessfulChunks int   `json:"successful_chunks"`
	FailedChunks     int   `json:"failed_chunks"`
	FailedIndices    []int `json:"failed_indices,omitempty"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
	AvgDurationMs    int64 `json:"avg_duration_ms"`
	MinDurationMs    int64 `json:"min_duration_ms"`
	MaxDurationMs    int64 `json:"max_duration_ms"`
}

// SummarizeChunks aggregates counts and duration statistics over all
// pieces, failed ones included.
func SummarizeChunks(pieces []Piece) ChunkingMetadata {
	var m ChunkingMetadata
	m.OriginalChunks = len(pieces)
	if len(pieces) == 0 {
		return m
	}

	m.MinDurationMs = pieces[0].DurationMs
	for _, p := range pieces {
		if p.Failed {
			m.FailedChunks++
			m.FailedIndices = append(m.FailedIndices, p.Index)
		} else {
			m.SuccessfulChunks++
		}
		m.TotalDurationMs += p.DurationMs
		m.MinDurationMs = min(m.MinDurationMs, p.DurationMs)
		m.MaxDurationMs = max(m.MaxDurationMs, p.DurationMs)
	}
	m.AvgDurationMs = m.TotalDurationMs / int64(len(pieces))
	sort.Ints(m.FailedIndices)
	return m
}
