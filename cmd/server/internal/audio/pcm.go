// Package audio holds the in-memory audio representation used by the
// pipeline plus chunking, segment extraction and silence detection.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSampleRate is the rate every input is converted to before chunking.
const DefaultSampleRate = 16000

var (
	// ErrDecode marks audio that cannot be decoded or has zero duration.
	ErrDecode = errors.New("audio decode failed")

	// ErrInvalidRange marks an extraction range outside the audio.
	ErrInvalidRange = errors.New("invalid audio range")
)

// PCM is mono signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// NewPCM wraps samples, rejecting empty audio and bad sample rates.
func NewPCM(samples []int16, sampleRate int) (*PCM, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrDecode, sampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: zero-duration audio", ErrDecode)
	}
	return &PCM{Samples: samples, SampleRate: sampleRate}, nil
}

// DurationMs returns the audio length in milliseconds.
func (p *PCM) DurationMs() int64 {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return int64(len(p.Samples)) * 1000 / int64(p.SampleRate)
}

// Duration returns the audio length.
func (p *PCM) Duration() time.Duration {
	return time.Duration(p.DurationMs()) * time.Millisecond
}

// Seconds returns the audio length in seconds.
func (p *PCM) Seconds() float64 {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// sampleIndex converts a millisecond offset to a clamped sample index.
func (p *PCM) sampleIndex(ms int64) int {
	idx := ms * int64(p.SampleRate) / 1000
	if idx < 0 {
		return 0
	}
	if idx > int64(len(p.Samples)) {
		return len(p.Samples)
	}
	return int(idx)
}

// Slice returns the [startMs, endMs) sub-range. The result shares the
// underlying sample buffer.
func (p *PCM) Slice(startMs, endMs int64) *PCM {
	from := p.sampleIndex(startMs)
	to := p.sampleIndex(endMs)
	if to < from {
		to = from
	}
	return &PCM{Samples: p.Samples[from:to], SampleRate: p.SampleRate}
}
