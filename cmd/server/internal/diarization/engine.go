package diarization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/houzhh15/scribeflow/cmd/server/internal/audio"
	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
	"github.com/houzhh15/scribeflow/cmd/server/internal/transcript"
	"github.com/houzhh15/scribeflow/pkg/logger"
)

// ErrNoSpeakers is returned when diarization finds no speaker turns. The
// caller is expected to fall back to plain transcription.
var ErrNoSpeakers = errors.New("diarization returned no speaker segments")

// Options tunes the diarization pipeline. Durations are in seconds.
type Options struct {
	MinDurationForASR       float64 `yaml:"min_duration_for_asr"`
	MaxDurationForASR       float64 `yaml:"max_duration_for_asr"`
	MinDurationForAlignment float64 `yaml:"min_duration_for_alignment"`
	Padding                 float64 `yaml:"padding"`
	MaxConcurrency          int     `yaml:"max_concurrency"`
	KnownSpeakers           int     `yaml:"known_speakers"`
	MaxSpeakers             int     `yaml:"max_speakers"`
}

func DefaultOptions() Options {
	return Options{
		MinDurationForASR:       3,
		MaxDurationForASR:       30,
		MinDurationForAlignment: 2,
		Padding:                 0.5,
		MaxConcurrency:          dispatch.DefaultMaxConcurrency,
	}
}

func (o Options) Validate() error {
	var problems []string
	if o.MinDurationForASR < 0 {
		problems = append(problems, "min_duration_for_asr must not be negative")
	}
	if o.MaxDurationForASR <= 0 {
		problems = append(problems, "max_duration_for_asr must be positive")
	}
	if o.MaxDurationForASR > 0 && o.MinDurationForASR > o.MaxDurationForASR {
		problems = append(problems, "min_duration_for_asr exceeds max_duration_for_asr")
	}
	if o.MinDurationForAlignment < 0 {
		problems = append(problems, "min_duration_for_alignment must not be negative")
	}
	if o.Padding < 0 {
		problems = append(problems, "padding must not be negative")
	}
	if o.KnownSpeakers < 0 || o.MaxSpeakers < 0 {
		problems = append(problems, "speaker counts must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid diarization options: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Result is the output of Engine.Run.
type Result struct {
	// Segments are speaker turns in time order, including failed ones.
	Segments []transcript.Segment
	// Turns is the sorted raw diarization output.
	Turns []capability.SpeakerTimeSegment
	// Merged is the ASR segmentation after short-turn merging.
	Merged       []capability.SpeakerTimeSegment
	SpeakerCount int
	// Failed lists indices into Merged whose processing failed.
	Failed   []int
	Aligned  bool
	Speakers map[string]string
}

// Engine runs diarization-aware transcription of one audio file.
type Engine struct {
	diarizer    capability.Diarizer
	transcriber capability.Transcriber
	aligner     capability.Aligner
	logger      *slog.Logger

	// Gate, when set, is awaited by every segment worker.
	Gate *dispatch.Gate
}

// NewEngine builds an Engine. aligner may be nil, in which case segments
// carry text without word timings.
func NewEngine(diarizer capability.Diarizer, transcriber capability.Transcriber, aligner capability.Aligner, l *slog.Logger) *Engine {
	return &Engine{
		diarizer:    diarizer,
		transcriber: transcriber,
		aligner:     aligner,
		logger:      logger.OrDefault(l),
	}
}

// Run diarizes pcm, transcribes each merged speaker turn in parallel and
// merges the results into speaker turns. namer must be scoped to the job.
func (e *Engine) Run(ctx context.Context, pcm *audio.PCM, opts Options, namer *SpeakerNamer) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if namer == nil {
		namer = NewSpeakerNamer()
	}

	// A: one diarization call over the full audio
	wav, err := audio.EncodeWAV(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio for diarization: %w", err)
	}
	start := time.Now()
	raw, err := e.diarizer.Diarize(ctx, wav, capability.DiarizeOptions{
		KnownSpeakers: opts.KnownSpeakers,
		MaxSpeakers:   opts.MaxSpeakers,
	})
	if err != nil {
		logger.LogAudioProcessing(e.logger, "diarize", "error", 0, time.Since(start).Milliseconds(), "CAPABILITY_FAILED")
		return nil, fmt.Errorf("diarization failed: %w", err)
	}
	turns := SortSegments(validTurns(raw))
	if len(turns) == 0 {
		return nil, ErrNoSpeakers
	}
	// names follow the time order of turns, not worker completion order
	for _, t := range turns {
		namer.Name(t.SpeakerID)
	}
	logger.LogAudioProcessing(e.logger, "diarize", "success", 0, time.Since(start).Milliseconds(), "")

	// B
	merged := MergeShortSegmentsForASR(turns, opts.MinDurationForASR, opts.MaxDurationForASR)
	e.logger.Info("speaker segments prepared",
		"raw_segments", len(turns),
		"merged_segments", len(merged),
		"speakers", namer.Count(),
	)

	// C
	dopts := []dispatch.Option{dispatch.WithLogger(e.logger), dispatch.WithComponent("segment")}
	if e.Gate != nil {
		dopts = append(dopts, dispatch.WithGate(e.Gate))
	}
	outcome, err := dispatch.DispatchAll(ctx, merged, opts.MaxConcurrency,
		func(ctx context.Context, i int, seg capability.SpeakerTimeSegment) (transcript.Segment, error) {
			return e.processSegment(ctx, pcm, i, seg, opts, namer)
		}, dopts...)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Turns:        turns,
		Merged:       merged,
		SpeakerCount: namer.Count(),
		Failed:       outcome.Failed,
		Speakers:     namer.Mapping(),
	}

	// D: re-check aligned words against the raw turns
	var segs []transcript.Segment
	for i, seg := range merged {
		if !outcome.OK(i) {
			segs = append(segs, transcript.Segment{
				Start:   seg.Start,
				End:     seg.End(),
				Speaker: namer.Name(seg.SpeakerID),
				Error:   outcome.Errors[i].Error(),
			})
			continue
		}
		done := outcome.Results[i]
		if len(done.Words) == 0 {
			segs = append(segs, done)
			continue
		}
		res.Aligned = true
		segs = append(segs, MergeWordsWithSpeakers(done.Words, turns, namer)...)
	}

	// E
	res.Segments = MergeConsecutiveSpeakerSegments(segs)
	return res, nil
}

// processSegment is step C for one merged turn: extract padded audio,
// transcribe and, for long enough turns, align.
func (e *Engine) processSegment(ctx context.Context, pcm *audio.PCM, index int, seg capability.SpeakerTimeSegment, opts Options, namer *SpeakerNamer) (transcript.Segment, error) {
	start := time.Now()
	out := transcript.Segment{
		ID:      index,
		Start:   seg.Start,
		End:     seg.End(),
		Speaker: namer.Name(seg.SpeakerID),
	}

	clip, actualStart, _, err := audio.Extract(pcm, seg.Start, seg.End(), opts.Padding, opts.Padding)
	if err != nil {
		return out, err
	}
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return out, err
	}

	text, err := e.transcriber.Transcribe(ctx, wav)
	if err != nil {
		logger.LogAudioProcessing(e.logger, "asr", "error", index, time.Since(start).Milliseconds(), "CAPABILITY_FAILED")
		return out, err
	}
	out.Text = strings.TrimSpace(text)

	if e.aligner != nil && out.Text != "" && seg.Duration >= opts.MinDurationForAlignment {
		words, err := e.aligner.Align(ctx, wav, out.Text)
		if err != nil {
			// keep the text; only word timings are lost
			e.logger.Warn("alignment failed, keeping unaligned text",
				"index", index,
				"speaker", out.Speaker,
				"error", err,
			)
		} else if len(words) > 0 {
			out.Words = shiftWords(words, actualStart, out.Speaker)
			out.Text = transcript.JoinWords(out.Words)
		}
	}

	logger.LogAudioProcessing(e.logger, "segment", "success", index, time.Since(start).Milliseconds(), "")
	return out, nil
}

// shiftWords converts clip-relative word times to absolute times.
func shiftWords(words []capability.Word, offset float64, speaker string) []capability.Word {
	out := make([]capability.Word, len(words))
	for i, w := range words {
		w.Start += offset
		w.End += offset
		w.Speaker = speaker
		out[i] = w
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// validTurns drops turns with negative duration or no speaker id.
func validTurns(segs []capability.SpeakerTimeSegment) []capability.SpeakerTimeSegment {
	out := make([]capability.SpeakerTimeSegment, 0, len(segs))
	for _, s := range segs {
		if s.Duration < 0 || s.SpeakerID == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
