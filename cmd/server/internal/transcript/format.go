package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
)

// ValidFormat reports whether f names a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatSRT, FormatVTT:
		return true
	default:
		return false
	}
}

// Write renders tr in the given format. Failed segments are skipped in the
// subtitle formats and kept (with their error) in JSON.
func Write(w io.Writer, format string, tr Transcription) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(tr)
	case FormatSRT:
		return writeEach(w, tr.Segments, WriteSegmentSRT)
	case FormatVTT:
		if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
			return err
		}
		return writeEach(w, tr.Segments, WriteSegmentVTT)
	case FormatText, "":
		if len(tr.Segments) == 0 {
			_, err := fmt.Fprintln(w, tr.Text)
			return err
		}
		return writeEach(w, tr.Segments, func(w io.Writer, s Segment) error {
			if err := WriteSegmentText(w, s); err != nil {
				return err
			}
			_, err := io.WriteString(w, "\n")
			return err
		})
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeEach(w io.Writer, segs []Segment, fn func(io.Writer, Segment) error) error {
	n := 0
	for _, s := range segs {
		if s.Failed() || strings.TrimSpace(s.Text) == "" {
			continue
		}
		s.ID = n
		if err := fn(w, s); err != nil {
			return err
		}
		n++
	}
	return nil
}

// WriteSegmentText writes "[HH:MM:SS.mmm --> HH:MM:SS.mmm] [Speaker] Text".
func WriteSegmentText(w io.Writer, s Segment) error {
	speaker := ""
	if s.Speaker != "" {
		speaker = fmt.Sprintf(" [%s]", s.Speaker)
	}
	_, err := fmt.Fprintf(w, "[%s --> %s]%s %s", FormatTimestamp(s.Start, '.'), FormatTimestamp(s.End, '.'), speaker, s.Text)
	return err
}

// WriteSegmentSRT writes one SRT cue. The cue number is ID+1.
func WriteSegmentSRT(w io.Writer, s Segment) error {
	_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", s.ID+1, FormatTimestamp(s.Start, ','), FormatTimestamp(s.End, ','), cueText(s))
	return err
}

// WriteSegmentVTT writes one WebVTT cue, using a voice tag for the speaker.
func WriteSegmentVTT(w io.Writer, s Segment) error {
	text := s.Text
	if s.Speaker != "" {
		text = fmt.Sprintf("<v %s>%s", s.Speaker, s.Text)
	}
	_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n", FormatTimestamp(s.Start, '.'), FormatTimestamp(s.End, '.'), text)
	return err
}

func cueText(s Segment) string {
	if s.Speaker == "" {
		return s.Text
	}
	return s.Speaker + ": " + s.Text
}

// FormatTimestamp formats seconds as HH:MM:SS<sep>mmm. SRT uses ',' and
// WebVTT uses '.'.
func FormatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	h := total / 3_600_000
	total -= h * 3_600_000
	m := total / 60_000
	total -= m * 60_000
	sec := total / 1000
	ms := total - sec*1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, sec, sep, ms)
}
