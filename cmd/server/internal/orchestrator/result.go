package orchestrator

import (
	"github.com/houzhh15/scribeflow/cmd/server/internal/reassembly"
	"github.com/houzhh15/scribeflow/cmd/server/internal/transcript"
)

// Pipeline step names reported in Result.PipelineStepsApplied.
const (
	StepChunking         = "chunking"
	StepTranscription    = "transcription"
	StepAlignment        = "alignment"
	StepDiarization      = "diarization"
	StepDiarizationEmpty = "diarization_empty_fallback"
	StepPunctuation      = "punctuation"
	StepDenormalization  = "denormalization"
	StepOverlapDedup     = "overlap_dedup"
)

// Result is the output of one transcription job.
type Result struct {
	JobID string `json:"job_id"`
	// Text is the final transcript; RawText is the same before punctuation
	// and denormalization.
	Text                 string                       `json:"text"`
	RawText              string                       `json:"raw_text"`
	Segments             []transcript.Segment         `json:"segments"`
	PipelineStepsApplied []string                     `json:"pipeline_steps_applied"`
	DiarizationApplied   bool                         `json:"diarization_applied"`
	SpeakerCountDetected int                          `json:"speaker_count_detected"`
	ChunkingMetadata     *reassembly.ChunkingMetadata `json:"chunking_metadata,omitempty"`
}

// Transcription converts the result for the output writers.
func (r *Result) Transcription() transcript.Transcription {
	return transcript.Transcription{Text: r.Text, Segments: r.Segments}
}

func (r *Result) addStep(step string) {
	for _, s := range r.PipelineStepsApplied {
		if s == step {
			return
		}
	}
	r.PipelineStepsApplied = append(r.PipelineStepsApplied, step)
}
