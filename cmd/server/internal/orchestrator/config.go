package orchestrator

import (
	"errors"
	"fmt"

	"github.com/houzhh15/scribeflow/cmd/server/internal/audio"
	"github.com/houzhh15/scribeflow/cmd/server/internal/diarization"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
	"github.com/houzhh15/scribeflow/cmd/server/internal/reassembly"
)

// PostProcessMode selects where punctuation and denormalization run.
type PostProcessMode string

const (
	// PostProcessPerSegment runs on every segment (or chunk) separately.
	PostProcessPerSegment PostProcessMode = "segment"
	// PostProcessTranscript runs once on the joined transcript. Diarized
	// transcripts are still processed per speaker turn.
	PostProcessTranscript PostProcessMode = "transcript"
)

// Config holds the per-job pipeline parameters. Build it with DefaultConfig
// and check it with Validate before use.
type Config struct {
	Chunk          audio.ChunkOptions `yaml:"chunk"`
	MaxConcurrency int                `yaml:"max_concurrency"`
	// MaterializeChunks writes each chunk to ScratchDir before dispatch.
	MaterializeChunks bool   `yaml:"materialize_chunks"`
	ScratchDir        string `yaml:"scratch_dir"`
	KeepScratch       bool   `yaml:"keep_scratch"`

	EnableDiarization bool                `yaml:"enable_diarization"`
	Diarization       diarization.Options `yaml:"diarization"`
	EnableAlignment   bool                `yaml:"enable_alignment"`

	EnablePunctuation     bool            `yaml:"enable_punctuation"`
	EnableDenormalization bool            `yaml:"enable_denormalization"`
	DenormalizationStyle  string          `yaml:"denormalization_style"`
	PostProcessMode       PostProcessMode `yaml:"post_process_mode"`

	Dedup reassembly.DedupOptions `yaml:"dedup"`
}

// DefaultConfig: 240s chunks with 5s overlap, 4 workers, no diarization,
// post-processing per segment, overlap dedup off.
func DefaultConfig() Config {
	return Config{
		Chunk:                audio.DefaultChunkOptions(),
		MaxConcurrency:       dispatch.DefaultMaxConcurrency,
		Diarization:          diarization.DefaultOptions(),
		EnableAlignment:      true,
		DenormalizationStyle: "default",
		PostProcessMode:      PostProcessPerSegment,
		Dedup:                reassembly.DefaultDedupOptions(),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Chunk.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency))
	}
	if c.EnableDiarization {
		if err := c.Diarization.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.PostProcessMode {
	case PostProcessPerSegment, PostProcessTranscript:
	default:
		errs = append(errs, fmt.Errorf("unknown post_process_mode %q", c.PostProcessMode))
	}
	if c.Dedup.Enabled && (c.Dedup.MaxDistance < 0 || c.Dedup.MaxDistance > 64) {
		errs = append(errs, fmt.Errorf("dedup.max_distance must be within [0, 64], got %d", c.Dedup.MaxDistance))
	}
	return errors.Join(errs...)
}
