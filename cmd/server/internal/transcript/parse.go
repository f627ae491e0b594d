package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoSegments is returned when an input file holds no usable segments.
var ErrNoSegments = errors.New("no segments found")

var (
	reSrtTime = regexp.MustCompile(`^(\d\d):(\d\d):(\d\d),(\d\d\d)\s+-->\s+(\d\d):(\d\d):(\d\d),(\d\d\d)`)
	reVttTime = regexp.MustCompile(`^(\d\d):(\d\d):(\d\d)\.(\d\d\d)\s+-->\s+(\d\d):(\d\d):(\d\d)\.(\d\d\d)`)
)

// ParseFile reads segments from a .json, .srt or .vtt file. JSON may be a
// Transcription document, a bare array or NDJSON.
func ParseFile(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".ndjson":
		return ParseJSON(data)
	case ".srt":
		return ParseSRT(bytes.NewReader(data))
	case ".vtt":
		return ParseVTT(bytes.NewReader(data))
	default:
		if segs, err := ParseSRT(bytes.NewReader(data)); err == nil {
			return segs, nil
		}
		if segs, err := ParseVTT(bytes.NewReader(data)); err == nil {
			return segs, nil
		}
		return nil, fmt.Errorf("unsupported segments file: %s", path)
	}
}

// ParseJSON accepts {"segments": [...]}, [...] or one segment per line.
func ParseJSON(data []byte) ([]Segment, error) {
	var tr Transcription
	if err := json.Unmarshal(data, &tr); err == nil && len(tr.Segments) > 0 {
		return tr.Segments, nil
	}
	var arr []Segment
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var res []Segment
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var s Segment
		if err := json.Unmarshal([]byte(line), &s); err == nil && (s.Text != "" || s.End > 0) {
			res = append(res, s)
		}
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w in JSON", ErrNoSegments)
	}
	return res, nil
}

func ParseSRT(r io.Reader) ([]Segment, error) {
	return parseCues(r, reSrtTime, false, "SRT")
}

func ParseVTT(r io.Reader) ([]Segment, error) {
	return parseCues(r, reVttTime, true, "VTT")
}

// parseCues scans "time line + text lines + blank" blocks. Index lines and
// the WEBVTT header are skipped because they never match the time pattern.
func parseCues(r io.Reader, re *regexp.Regexp, vtt bool, name string) ([]Segment, error) {
	scanner := bufio.NewScanner(r)
	var segs []Segment
	for scanner.Scan() {
		m := re.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		var b strings.Builder
		for scanner.Scan() {
			l := scanner.Text()
			if strings.TrimSpace(l) == "" {
				break
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(l)
		}
		seg := Segment{
			ID:    len(segs),
			Start: hmsToSeconds(m[1], m[2], m[3], m[4]),
			End:   hmsToSeconds(m[5], m[6], m[7], m[8]),
			Text:  b.String(),
		}
		if vtt {
			seg.Speaker, seg.Text = splitVoiceTag(seg.Text)
		}
		segs = append(segs, seg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSegments, name)
	}
	return segs, nil
}

// splitVoiceTag turns "<v Speaker 1>hello" into ("Speaker 1", "hello").
func splitVoiceTag(text string) (string, string) {
	if !strings.HasPrefix(text, "<v ") {
		return "", text
	}
	end := strings.IndexByte(text, '>')
	if end < 0 {
		return "", text
	}
	return strings.TrimSpace(text[3:end]), text[end+1:]
}

func hmsToSeconds(hh, mm, ss, ms string) float64 {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	milli, _ := strconv.Atoi(ms)
	return float64((h*3600+m*60+s)*1000+milli) / 1000
}
