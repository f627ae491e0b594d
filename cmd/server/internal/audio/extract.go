package audio

import (
	"fmt"
	"math"
)

// Extract returns the audio in [start-padBefore, end+padAfter] seconds,
// clamped to [0, duration], along with the range actually returned.
func Extract(pcm *PCM, start, end, padBefore, padAfter float64) (*PCM, float64, float64, error) {
	if pcm == nil || len(pcm.Samples) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty source audio", ErrDecode)
	}
	duration := pcm.Seconds()
	if math.IsNaN(start) || math.IsNaN(end) || end < start {
		return nil, 0, 0, fmt.Errorf("%w: end %.3fs before start %.3fs", ErrInvalidRange, end, start)
	}
	if start >= duration {
		return nil, 0, 0, fmt.Errorf("%w: start %.3fs beyond audio duration %.3fs", ErrInvalidRange, start, duration)
	}
	if padBefore < 0 {
		padBefore = 0
	}
	if padAfter < 0 {
		padAfter = 0
	}

	actualStart := math.Max(0, start-padBefore)
	actualEnd := math.Min(duration, end+padAfter)

	from := int(math.Round(actualStart * float64(pcm.SampleRate)))
	to := int(math.Round(actualEnd * float64(pcm.SampleRate)))
	if to > len(pcm.Samples) {
		to = len(pcm.Samples)
	}
	if from > to {
		from = to
	}
	return &PCM{Samples: pcm.Samples[from:to], SampleRate: pcm.SampleRate}, actualStart, actualEnd, nil
}
