package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default chunking parameters.
const (
	DefaultTargetChunk         = 240 * time.Second
	DefaultChunkOverlap        = 5 * time.Second
	DefaultSilenceSearchWindow = 30 * time.Second
	DefaultMinSilence          = 500 * time.Millisecond
	DefaultSilenceThresholdDB  = -40.0
)

// ErrInvalidOptions is returned for chunk options that cannot make progress.
var ErrInvalidOptions = errors.New("invalid chunk options")

// Chunk is one contiguous, possibly overlapping, range of the source audio.
type Chunk struct {
	Index      int
	Audio      *PCM
	StartMs    int64
	EndMs      int64
	DurationMs int64
	// Path is set when the chunk was written to scratch storage.
	Path string
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d: %dms-%dms", c.Index, c.StartMs, c.EndMs)
}

// ChunkOptions controls boundary placement.
type ChunkOptions struct {
	Target              time.Duration `yaml:"target"`
	Overlap             time.Duration `yaml:"overlap"`
	UseSilenceDetection bool          `yaml:"use_silence_detection"`
	SilenceSearchWindow time.Duration `yaml:"silence_search_window"`
	MinSilence          time.Duration `yaml:"min_silence"`
	SilenceThresholdDB  float64       `yaml:"silence_threshold_db"`
}

// DefaultChunkOptions returns 240s chunks with 5s overlap, snapping to silence.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		Target:              DefaultTargetChunk,
		Overlap:             DefaultChunkOverlap,
		UseSilenceDetection: true,
		SilenceSearchWindow: DefaultSilenceSearchWindow,
		MinSilence:          DefaultMinSilence,
		SilenceThresholdDB:  DefaultSilenceThresholdDB,
	}
}

// Validate checks that the walk always advances.
func (o ChunkOptions) Validate() error {
	if o.Target <= 0 {
		return fmt.Errorf("%w: target must be positive, got %v", ErrInvalidOptions, o.Target)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %v", ErrInvalidOptions, o.Overlap)
	}
	if o.Overlap >= o.Target {
		return fmt.Errorf("%w: overlap %v >= target %v", ErrInvalidOptions, o.Overlap, o.Target)
	}
	if o.UseSilenceDetection {
		if o.SilenceSearchWindow < 0 {
			return fmt.Errorf("%w: silence search window must not be negative", ErrInvalidOptions)
		}
		// 窗口伸入重叠区后，吸附到的边界可能让下一个块几乎不前进
		if o.SilenceSearchWindow >= o.Target-o.Overlap {
			return fmt.Errorf("%w: silence search window %v must be shorter than target - overlap (%v)",
				ErrInvalidOptions, o.SilenceSearchWindow, o.Target-o.Overlap)
		}
	}
	return nil
}

// Chunker splits long audio into overlapping chunks, preferring boundaries
// at the end of a silence near the target length.
type Chunker struct {
	detector SilenceDetector
	store    *ChunkStore
	logger   *slog.Logger
}

// NewChunker builds a Chunker. detector nil means EnergySilenceDetector;
// store nil keeps chunks in memory only.
func NewChunker(detector SilenceDetector, store *ChunkStore, logger *slog.Logger) *Chunker {
	if detector == nil {
		detector = &EnergySilenceDetector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{detector: detector, store: store, logger: logger}
}

// Chunk returns chunks ordered by Index whose union covers [0, duration].
// Audio no longer than Target comes back as a single chunk that references
// pcm itself.
func (c *Chunker) Chunk(ctx context.Context, pcm *PCM, opts ChunkOptions) ([]Chunk, error) {
	if pcm == nil || len(pcm.Samples) == 0 || pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: zero-duration audio", ErrDecode)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	total := pcm.DurationMs()
	if total <= 0 {
		return nil, fmt.Errorf("%w: audio shorter than 1ms", ErrDecode)
	}
	target := opts.Target.Milliseconds()
	overlap := opts.Overlap.Milliseconds()

	if total <= target {
		return []Chunk{{Index: 0, Audio: pcm, StartMs: 0, EndMs: total, DurationMs: total}}, nil
	}

	var chunks []Chunk
	pos := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := pos + target
		if end > total {
			end = total
		}
		if opts.UseSilenceDetection && end < total {
			end = c.snapToSilence(ctx, pcm, pos, end, opts)
		}

		chunk := Chunk{
			Index:      len(chunks),
			Audio:      pcm.Slice(pos, end),
			StartMs:    pos,
			EndMs:      end,
			DurationMs: end - pos,
		}
		if c.store != nil {
			path := c.store.ChunkPath(chunk.Index)
			if err := c.store.Write(path, chunk.Audio); err != nil {
				return nil, fmt.Errorf("failed to materialize %s: %w", chunk, err)
			}
			chunk.Path = path
		}
		chunks = append(chunks, chunk)

		if end >= total {
			break
		}
		pos = end - overlap
	}

	c.logger.Debug("audio chunked",
		"chunks", len(chunks),
		"duration_ms", total,
		"target_ms", target,
		"overlap_ms", overlap,
	)
	return chunks, nil
}

// snapToSilence moves targetEnd to the end of the last silence found in
// the search window. The candidate must lie strictly after pos+overlap so
// the next chunk starts after this one.
func (c *Chunker) snapToSilence(ctx context.Context, pcm *PCM, pos, targetEnd int64, opts ChunkOptions) int64 {
	overlap := opts.Overlap.Milliseconds()
	from := targetEnd - opts.SilenceSearchWindow.Milliseconds()
	if from < pos {
		from = pos
	}

	silences, err := c.detector.DetectSilences(ctx, pcm, from, targetEnd, opts.MinSilence, opts.SilenceThresholdDB)
	if err != nil {
		c.logger.Warn("silence detection failed, using fixed boundary",
			"from_ms", from,
			"to_ms", targetEnd,
			"error", err,
		)
		return targetEnd
	}

	for i := len(silences) - 1; i >= 0; i-- {
		end := silences[i].EndMs
		if end > targetEnd {
			end = targetEnd
		}
		if end > pos+overlap {
			return end
		}
	}
	return targetEnd
}
