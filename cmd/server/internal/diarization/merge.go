// Package diarization reconciles speaker turns from a diarization
// capability with transcribed text and word timings.
package diarization

import (
	"slices"
	"sort"
	"strings"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/transcript"
)

// SortSegments returns a copy of segs ordered by Start. Equal starts keep
// their input order.
func SortSegments(segs []capability.SpeakerTimeSegment) []capability.SpeakerTimeSegment {
	out := slices.Clone(segs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// MergeShortSegmentsForASR joins adjacent turns of the same speaker when at
// least one of the pair is shorter than minDur and the joined span stays
// within maxDur. Single greedy pass over segs sorted by Start; turns of
// different speakers are never joined.
func MergeShortSegmentsForASR(segs []capability.SpeakerTimeSegment, minDur, maxDur float64) []capability.SpeakerTimeSegment {
	if len(segs) == 0 {
		return nil
	}
	sorted := SortSegments(segs)

	out := make([]capability.SpeakerTimeSegment, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		short := cur.Duration < minDur || next.Duration < minDur
		if cur.SpeakerID == next.SpeakerID && short && next.End()-cur.Start <= maxDur {
			cur.Duration = max(cur.End(), next.End()) - cur.Start
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// speakerAt picks the turn for time t: the first turn (in Start order) whose
// closed interval contains t, else the nearest turn by boundary distance.
// Equal distances resolve to the earlier turn. segs must be sorted.
func speakerAt(segs []capability.SpeakerTimeSegment, t float64) (capability.SpeakerTimeSegment, bool) {
	if len(segs) == 0 {
		return capability.SpeakerTimeSegment{}, false
	}
	for _, s := range segs {
		if t >= s.Start && t <= s.End() {
			return s, true
		}
	}

	best := 0
	bestDist := boundaryDistance(segs[0], t)
	for i := 1; i < len(segs); i++ {
		if d := boundaryDistance(segs[i], t); d < bestDist {
			best, bestDist = i, d
		}
	}
	return segs[best], true
}

func boundaryDistance(s capability.SpeakerTimeSegment, t float64) float64 {
	if t < s.Start {
		return s.Start - t
	}
	return t - s.End()
}

// MergeWordsWithSpeakers labels every word with the speaker whose turn holds
// the word's midpoint and groups consecutive same-speaker words into
// segments. The result does not depend on map iteration order.
func MergeWordsWithSpeakers(words []capability.Word, speakerSegs []capability.SpeakerTimeSegment, namer *SpeakerNamer) []transcript.Segment {
	if len(words) == 0 {
		return nil
	}
	turns := SortSegments(speakerSegs)
	sorted := slices.Clone(words)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []transcript.Segment
	for _, w := range sorted {
		if turn, ok := speakerAt(turns, (w.Start+w.End)/2); ok {
			w.Speaker = namer.Name(turn.SpeakerID)
		}

		if n := len(out); n > 0 && out[n-1].Speaker == w.Speaker {
			last := &out[n-1]
			last.Words = append(last.Words, w)
			last.End = max(last.End, w.End)
			continue
		}
		out = append(out, transcript.Segment{
			Start:   w.Start,
			End:     w.End,
			Speaker: w.Speaker,
			Words:   []capability.Word{w},
		})
	}

	for i := range out {
		out[i].ID = i
		out[i].Text = transcript.JoinWords(out[i].Words)
	}
	return out
}

// AssignSpeakers labels whole segments by their midpoint, for transcripts
// that carry no word timings.
func AssignSpeakers(segs []transcript.Segment, speakerSegs []capability.SpeakerTimeSegment, namer *SpeakerNamer) []transcript.Segment {
	turns := SortSegments(speakerSegs)
	out := slices.Clone(segs)
	for i := range out {
		if turn, ok := speakerAt(turns, (out[i].Start+out[i].End)/2); ok {
			out[i].Speaker = namer.Name(turn.SpeakerID)
		}
	}
	return out
}

// MergeConsecutiveSpeakerSegments concatenates adjacent segments that share
// a speaker label. Failed segments are never merged so their error stays
// visible. Applying it to its own output changes nothing.
func MergeConsecutiveSpeakerSegments(segs []transcript.Segment) []transcript.Segment {
	out := make([]transcript.Segment, 0, len(segs))
	for _, s := range segs {
		if n := len(out); n > 0 && mergeable(out[n-1], s) {
			last := &out[n-1]
			last.Text = joinText(last.Text, s.Text)
			last.Start = min(last.Start, s.Start)
			last.End = max(last.End, s.End)
			last.Words = append(last.Words, s.Words...)
			continue
		}
		s.Words = slices.Clone(s.Words)
		out = append(out, s)
	}
	transcript.Renumber(out)
	return out
}

func mergeable(a, b transcript.Segment) bool {
	return a.Speaker == b.Speaker && !a.Failed() && !b.Failed()
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

// FormatTranscriptWithSpeakers renders "Speaker 1: ... Speaker 2: ...",
// one prefix per speaker turn. Failed and empty segments are skipped.
func FormatTranscriptWithSpeakers(segs []transcript.Segment) string {
	var kept []transcript.Segment
	for _, s := range segs {
		if !s.Failed() && strings.TrimSpace(s.Text) != "" {
			kept = append(kept, s)
		}
	}

	parts := make([]string, 0, len(kept))
	for _, s := range MergeConsecutiveSpeakerSegments(kept) {
		if s.Speaker == "" {
			parts = append(parts, s.Text)
			continue
		}
		parts = append(parts, s.Speaker+": "+s.Text)
	}
	return strings.Join(parts, " ")
}
