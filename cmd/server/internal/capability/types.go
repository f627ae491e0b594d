// Package capability defines the external speech capabilities the pipeline
// delegates to (ASR, diarization, forced alignment, punctuation,
// denormalization) and the remote clients that implement them.
package capability

import "context"

// Capability names, used for routing, metrics and logs.
const (
	CapTranscribe  = "transcribe"
	CapDiarize     = "diarize"
	CapAlign       = "align"
	CapPunctuate   = "punctuate"
	CapDenormalize = "denormalize"
)

// SpeakerTimeSegment is one diarization turn. SpeakerID is opaque.
type SpeakerTimeSegment struct {
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
	SpeakerID string  `json:"speaker"`
}

// End returns Start + Duration.
func (s SpeakerTimeSegment) End() float64 {
	return s.Start + s.Duration
}

// Word is a timed token. Empty Speaker means unassigned.
type Word struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

// DiarizeOptions are speaker-count hints; zero means unknown.
type DiarizeOptions struct {
	KnownSpeakers int
	MaxSpeakers   int
}

// Transcriber turns a WAV payload into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Diarizer returns speaker turns for a WAV payload.
type Diarizer interface {
	Diarize(ctx context.Context, wav []byte, opts DiarizeOptions) ([]SpeakerTimeSegment, error)
}

// Aligner returns word timings of text within the WAV payload.
type Aligner interface {
	Align(ctx context.Context, wav []byte, text string) ([]Word, error)
}

// Punctuator restores punctuation and casing.
type Punctuator interface {
	Punctuate(ctx context.Context, text string) (string, error)
}

// Denormalizer rewrites spoken forms ("twenty five") into written forms ("25").
type Denormalizer interface {
	Denormalize(ctx context.Context, text, style string) (string, error)
}

// MonitoredTranscriber is a Transcriber that can be health checked and
// swapped by the degradation controller.
type MonitoredTranscriber interface {
	Transcriber
	HealthCheck(ctx context.Context) (bool, error)
	Name() string
}
