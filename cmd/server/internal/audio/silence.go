package audio

import (
	"context"
	"math"
	"time"
)

// Silence is a quiet interval in absolute milliseconds of the source audio.
type Silence struct {
	StartMs int64
	EndMs   int64
}

// SilenceDetector finds silences of at least minSilence inside [fromMs, toMs].
// Returned intervals are ordered by start and clipped to the search range.
type SilenceDetector interface {
	DetectSilences(ctx context.Context, pcm *PCM, fromMs, toMs int64, minSilence time.Duration, thresholdDB float64) ([]Silence, error)
}

// EnergySilenceDetector classifies fixed windows by RMS level in dBFS.
type EnergySilenceDetector struct {
	// Window is the analysis frame length (default 20ms).
	Window time.Duration
}

var _ SilenceDetector = (*EnergySilenceDetector)(nil)

func (d *EnergySilenceDetector) DetectSilences(ctx context.Context, pcm *PCM, fromMs, toMs int64, minSilence time.Duration, thresholdDB float64) ([]Silence, error) {
	window := d.Window
	if window <= 0 {
		window = 20 * time.Millisecond
	}
	winMs := window.Milliseconds()
	if winMs <= 0 {
		winMs = 1
	}
	if fromMs < 0 {
		fromMs = 0
	}
	if dur := pcm.DurationMs(); toMs > dur {
		toMs = dur
	}

	var (
		out     []Silence
		runFrom int64 = -1
	)
	flush := func(end int64) {
		if runFrom >= 0 && end-runFrom >= minSilence.Milliseconds() {
			out = append(out, Silence{StartMs: runFrom, EndMs: end})
		}
		runFrom = -1
	}

	for t := fromMs; t < toMs; t += winMs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := t + winMs
		if end > toMs {
			end = toMs
		}
		if rmsDBFS(pcm.Slice(t, end).Samples) < thresholdDB {
			if runFrom < 0 {
				runFrom = t
			}
			continue
		}
		flush(t)
	}
	flush(toMs)
	return out, nil
}

// rmsDBFS returns the RMS level relative to full scale; empty or all-zero
// input is -Inf.
func rmsDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}
