package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/dependency"
)

// FFmpegSilenceDetector runs ffmpeg silencedetect through the dependency
// client. When SourcePath is empty the search window is written to a
// temporary WAV first.
type FFmpegSilenceDetector struct {
	Client     *dependency.Client
	SourcePath string
	// TempDir holds the temporary WAV. When Client runs ffmpeg through a
	// remote deps-service this must be a volume the service can read;
	// config validation requires pipeline.scratch_dir in that case.
	TempDir string
}

var _ SilenceDetector = (*FFmpegSilenceDetector)(nil)

func (d *FFmpegSilenceDetector) DetectSilences(ctx context.Context, pcm *PCM, fromMs, toMs int64, minSilence time.Duration, thresholdDB float64) ([]Silence, error) {
	if d.Client == nil {
		return nil, fmt.Errorf("ffmpeg silence detector has no dependency client")
	}

	path, rangeFrom := d.SourcePath, fromMs
	if path == "" {
		f, err := os.CreateTemp(d.TempDir, "silence-*.wav")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		path = f.Name()
		f.Close()
		defer os.Remove(path)

		if err := WriteWAVFile(path, pcm.Slice(fromMs, toMs)); err != nil {
			return nil, err
		}
		rangeFrom = 0
	}

	intervals, err := d.Client.DetectSilence(ctx, path, rangeFrom, rangeFrom+(toMs-fromMs), thresholdDB, minSilence)
	if err != nil {
		return nil, err
	}
	out := make([]Silence, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, Silence{StartMs: fromMs + iv.StartMs, EndMs: fromMs + iv.EndMs})
	}
	return out, nil
}
