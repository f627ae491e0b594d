// Package orchestrator runs long-form transcription jobs: chunking,
// parallel transcription, optional diarization and reassembly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/scribeflow/cmd/server/internal/audio"
	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/diarization"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
	"github.com/houzhh15/scribeflow/cmd/server/internal/metrics"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/scribeflow/cmd/server/internal/reassembly"
	"github.com/houzhh15/scribeflow/cmd/server/internal/transcript"
	"github.com/houzhh15/scribeflow/pkg/logger"
)

// Capabilities are the external providers a job may use. Only Transcriber
// is required.
type Capabilities struct {
	Transcriber  capability.Transcriber
	Diarizer     capability.Diarizer
	Aligner      capability.Aligner
	Punctuator   capability.Punctuator
	Denormalizer capability.Denormalizer
}

// Stats counts jobs since start.
type Stats struct {
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Orchestrator runs transcription jobs. It is safe for concurrent use; all
// per-job state lives in the job.
type Orchestrator struct {
	cfg       Config
	caps      Capabilities
	detector  audio.SilenceDetector
	converter *dependency.Client
	gate      *dispatch.Gate
	logger    *slog.Logger

	running, completed, failed atomic.Int64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithSilenceDetector overrides the in-process energy detector.
func WithSilenceDetector(d audio.SilenceDetector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithConverter enables non-WAV input through ffmpeg.
func WithConverter(c *dependency.Client) Option { return func(o *Orchestrator) { o.converter = c } }

// WithGate makes every chunk and segment worker wait for g. Without it the
// gate starts open.
func WithGate(g *dispatch.Gate) Option { return func(o *Orchestrator) { o.gate = g } }

// New validates cfg and caps and builds an Orchestrator.
func New(cfg Config, caps Capabilities, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(err)
	}
	if caps.Transcriber == nil {
		return nil, NewConfigError(errors.New("a transcriber is required"))
	}
	if cfg.EnableDiarization && caps.Diarizer == nil {
		return nil, NewConfigError(errors.New("diarization enabled without a diarizer"))
	}

	o := &Orchestrator{cfg: cfg, caps: caps}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrDefault(o.logger)
	if o.gate == nil {
		o.gate = dispatch.NewGate()
		o.gate.Open(nil)
	}
	return o, nil
}

// Gate returns the readiness gate workers wait on.
func (o *Orchestrator) Gate() *dispatch.Gate { return o.gate }

// Config returns the job configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

func (o *Orchestrator) Stats() Stats {
	return Stats{Running: o.running.Load(), Completed: o.completed.Load(), Failed: o.failed.Load()}
}

// TranscribeFile loads path and transcribes it. WAV files are decoded
// directly; anything else needs a converter.
func (o *Orchestrator) TranscribeFile(ctx context.Context, path, jobID string) (*Result, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	pcm, err := o.loadAudio(ctx, path, jobID)
	if err != nil {
		o.failed.Add(1)
		metrics.RecordError("job", string(CodeOf(err)))
		return nil, err
	}
	return o.Transcribe(ctx, pcm, jobID)
}

func (o *Orchestrator) loadAudio(ctx context.Context, path, jobID string) (*audio.PCM, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewInputError("音频文件不可读", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		pcm, err := audio.ReadWAVFile(path)
		if err == nil {
			return pcm, nil
		}
		if o.converter == nil {
			return nil, NewDecodeError(err)
		}
		o.logger.Info("WAV not directly decodable, converting with ffmpeg", "path", path, "error", err)
	}
	if o.converter == nil {
		return nil, NewDecodeError(fmt.Errorf("%s: only WAV input is supported without ffmpeg", path))
	}

	root := o.cfg.ScratchDir
	if root == "" {
		root = o.converter.Config().ScratchRoot
	}
	store, err := audio.NewChunkStore(root, jobID+"-input")
	if err != nil {
		return nil, NewInputError("无法创建临时目录", err)
	}
	defer store.Cleanup()

	wavPath := filepath.Join(store.Dir(), "input.wav")
	if err := o.converter.ConvertToWAV(ctx, path, wavPath); err != nil {
		return nil, NewDecodeError(err)
	}
	pcm, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return nil, NewDecodeError(err)
	}
	return pcm, nil
}

// Transcribe runs one job over pcm. With diarization enabled the speaker
// pipeline runs first; if it finds no speakers the job continues as plain
// chunked transcription.
func (o *Orchestrator) Transcribe(ctx context.Context, pcm *audio.PCM, jobID string) (*Result, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	log := o.logger.With("job_id", jobID)
	start := time.Now()
	o.running.Add(1)
	defer o.running.Add(-1)

	res, err := o.transcribe(ctx, pcm, jobID, log)
	metrics.RecordDuration("job", time.Since(start).Seconds())
	if err != nil {
		o.failed.Add(1)
		metrics.RecordError("job", string(CodeOf(err)))
		log.Error("transcription job failed", "error", err, "code", CodeOf(err))
		return nil, err
	}
	o.completed.Add(1)
	log.Info("transcription job completed",
		"duration", time.Since(start),
		"steps", res.PipelineStepsApplied,
		"speakers", res.SpeakerCountDetected,
		"segments", len(res.Segments),
	)
	return res, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, pcm *audio.PCM, jobID string, log *slog.Logger) (*Result, error) {
	if pcm == nil || len(pcm.Samples) == 0 || pcm.SampleRate <= 0 {
		return nil, NewInputError("音频为空", audio.ErrDecode)
	}
	res := &Result{JobID: jobID}

	if o.cfg.EnableDiarization {
		err := o.runDiarized(ctx, pcm, res, log)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, diarization.ErrNoSpeakers) {
			return nil, err
		}
		log.Warn("diarization returned no speakers, falling back to plain transcription")
		metrics.RecordError("diarize", string(DIARIZATION_EMPTY))
		res.addStep(StepDiarizationEmpty)
	}

	if err := o.runChunked(ctx, pcm, res, log); err != nil {
		return nil, err
	}
	return res, nil
}

// runDiarized fills res from the speaker pipeline.
func (o *Orchestrator) runDiarized(ctx context.Context, pcm *audio.PCM, res *Result, log *slog.Logger) error {
	var aligner capability.Aligner
	if o.cfg.EnableAlignment {
		aligner = o.caps.Aligner
	}
	engine := diarization.NewEngine(o.caps.Diarizer, o.caps.Transcriber, aligner, log)
	engine.Gate = o.gate

	opts := o.cfg.Diarization
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = o.cfg.MaxConcurrency
	}
	dres, err := engine.Run(ctx, pcm, opts, diarization.NewSpeakerNamer())
	if err != nil {
		return classifyPipelineError(err, "segment", capability.CapDiarize)
	}

	res.DiarizationApplied = true
	res.SpeakerCountDetected = dres.SpeakerCount
	res.addStep(StepDiarization)
	res.addStep(StepTranscription)
	if dres.Aligned {
		res.addStep(StepAlignment)
	}

	segs := dres.Segments
	res.RawText = reassembly.Normalize(diarization.FormatTranscriptWithSpeakers(segs))

	// 说话人标签不能交给后处理改写，因此两种模式都按轮次处理
	pp := o.newPostProcessor()
	switch {
	case !pp.enabled:
		res.Text = res.RawText
	default:
		texts := make([]string, len(segs))
		for i, s := range segs {
			texts[i] = s.Text
		}
		processed, ok := pp.applyAll(ctx, texts)
		segs = cloneSegments(segs)
		for i := range segs {
			if processed[i] != segs[i].Text {
				segs[i].Words = retimeWords(segs[i].Words, processed[i])
				segs[i].Text = processed[i]
			}
		}
		if ok {
			pp.record(res)
		}
		res.Text = reassembly.Normalize(diarization.FormatTranscriptWithSpeakers(segs))
	}
	res.Segments = segs

	pieces := make([]reassembly.Piece, len(dres.Merged))
	for i, m := range dres.Merged {
		pieces[i] = reassembly.Piece{
			Index:      i,
			StartMs:    int64(m.Start * 1000),
			EndMs:      int64(m.End() * 1000),
			DurationMs: int64(m.Duration * 1000),
		}
	}
	for _, i := range dres.Failed {
		pieces[i].Failed = true
	}
	meta := reassembly.SummarizeChunks(pieces)
	res.ChunkingMetadata = &meta
	return nil
}

type chunkOutput struct {
	text  string
	words []capability.Word
}

// runChunked fills res from chunked transcription.
func (o *Orchestrator) runChunked(ctx context.Context, pcm *audio.PCM, res *Result, log *slog.Logger) error {
	var store *audio.ChunkStore
	if o.cfg.MaterializeChunks {
		s, err := audio.NewChunkStore(o.cfg.ScratchDir, res.JobID)
		if err != nil {
			return NewInputError("无法创建临时目录", err)
		}
		store = s
		if !o.cfg.KeepScratch {
			defer func() {
				if err := store.Cleanup(); err != nil {
					log.Warn("failed to clean scratch directory", "dir", store.Dir(), "error", err)
				}
			}()
		}
	}

	chunks, err := audio.NewChunker(o.detector, store, log).Chunk(ctx, pcm, o.cfg.Chunk)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidOptions) {
			return NewConfigError(err)
		}
		if ctx.Err() != nil {
			return NewInputError("任务已取消", err)
		}
		return NewDecodeError(err)
	}
	res.addStep(StepChunking)

	alignChunks := o.cfg.EnableAlignment && o.caps.Aligner != nil
	outcome, err := dispatch.DispatchAll(ctx, chunks, o.cfg.MaxConcurrency,
		func(ctx context.Context, i int, c audio.Chunk) (chunkOutput, error) {
			return o.transcribeChunk(ctx, c, alignChunks, log)
		},
		dispatch.WithLogger(log), dispatch.WithComponent("chunk"), dispatch.WithGate(o.gate))
	if err != nil {
		return classifyPipelineError(err, "chunk", capability.CapTranscribe)
	}
	res.addStep(StepTranscription)

	pieces := make([]reassembly.Piece, len(chunks))
	segs := make([]transcript.Segment, len(chunks))
	aligned := false
	for i, c := range chunks {
		pieces[i] = reassembly.Piece{
			Index:      c.Index,
			StartMs:    c.StartMs,
			EndMs:      c.EndMs,
			DurationMs: c.DurationMs,
		}
		segs[i] = transcript.Segment{
			ID:    c.Index,
			Start: float64(c.StartMs) / 1000,
			End:   float64(c.EndMs) / 1000,
		}
		if !outcome.OK(i) {
			pieces[i].Failed = true
			segs[i].Error = outcome.Errors[i].Error()
			continue
		}
		out := outcome.Results[i]
		pieces[i].Text, pieces[i].RawText = out.text, out.text
		segs[i].Text, segs[i].Words = out.text, out.words
		aligned = aligned || len(out.words) > 0
	}
	if aligned {
		res.addStep(StepAlignment)
	}

	if o.cfg.Dedup.Enabled {
		pieces = reassembly.DedupOverlap(pieces, o.cfg.Dedup, true)
		for i := range pieces {
			pieces[i].Text = pieces[i].RawText
			if pieces[i].Failed || pieces[i].RawText == segs[i].Text {
				continue
			}
			// 去重只删除开头的句子，保留的词是原词序列的后缀
			segs[i].Words = trimLeadingWords(segs[i].Words, pieces[i].RawText)
			segs[i].Text = pieces[i].RawText
		}
		res.addStep(StepOverlapDedup)
	}
	res.RawText = reassembly.Reassemble(pieces, true)

	pp := o.newPostProcessor()
	switch {
	case !pp.enabled:
		res.Text = res.RawText
	case o.cfg.PostProcessMode == PostProcessTranscript:
		text, err := pp.apply(ctx, res.RawText)
		if err != nil {
			log.Warn("transcript post-processing failed, keeping raw text", "error", err)
		} else {
			pp.record(res)
		}
		res.Text = reassembly.Normalize(text)
	default:
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			if !p.Failed {
				texts[i] = p.Text
			}
		}
		processed, ok := pp.applyAll(ctx, texts)
		for i := range pieces {
			if pieces[i].Failed {
				continue
			}
			pieces[i].Text = processed[i]
			if processed[i] != segs[i].Text {
				segs[i].Words = retimeWords(segs[i].Words, processed[i])
			}
			segs[i].Text = processed[i]
		}
		if ok {
			pp.record(res)
		}
		res.Text = reassembly.Reassemble(pieces, false)
	}

	res.Segments = segs
	meta := reassembly.SummarizeChunks(pieces)
	res.ChunkingMetadata = &meta
	if meta.FailedChunks > 0 {
		log.Warn("returning partial transcript",
			"failed_chunks", meta.FailedChunks,
			"failed_indices", meta.FailedIndices,
			"total_chunks", meta.OriginalChunks,
		)
	}
	return nil
}

// transcribeChunk sends one chunk to ASR and, when enabled, alignment.
// Word times come back relative to the chunk and are shifted to absolute.
func (o *Orchestrator) transcribeChunk(ctx context.Context, c audio.Chunk, align bool, log *slog.Logger) (chunkOutput, error) {
	start := time.Now()
	var (
		wav []byte
		err error
	)
	if c.Path != "" {
		wav, err = os.ReadFile(c.Path)
	} else {
		wav, err = audio.EncodeWAV(c.Audio)
	}
	if err != nil {
		return chunkOutput{}, fmt.Errorf("%s: %w", c, err)
	}

	text, err := o.caps.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		logger.LogAudioProcessing(log, "asr", "error", c.Index, time.Since(start).Milliseconds(), string(CAPABILITY_FAILED))
		return chunkOutput{}, err
	}
	out := chunkOutput{text: strings.TrimSpace(text)}

	if align && out.text != "" {
		words, err := o.caps.Aligner.Align(ctx, wav, out.text)
		if err != nil {
			log.Warn("chunk alignment failed, keeping unaligned text", "chunk", c.Index, "error", err)
		} else {
			offset := float64(c.StartMs) / 1000
			for _, w := range words {
				w.Start += offset
				w.End += offset
				out.words = append(out.words, w)
			}
			if len(out.words) > 0 {
				out.text = transcript.JoinWords(out.words)
			}
		}
	}

	logger.LogAudioProcessing(log, "chunk", "success", c.Index, time.Since(start).Milliseconds(), "")
	return out, nil
}

// classifyPipelineError maps engine and dispatcher errors onto OrchError.
func classifyPipelineError(err error, component, capName string) error {
	var batchErr *dispatch.BatchError
	switch {
	case errors.As(err, &batchErr):
		return NewBatchError(component, batchErr)
	case errors.Is(err, diarization.ErrNoSpeakers):
		return err
	case errors.Is(err, audio.ErrDecode):
		return NewDecodeError(err)
	case errors.Is(err, audio.ErrInvalidRange):
		return NewInputError("片段范围非法", err)
	default:
		return NewCapabilityError(capName, err)
	}
}

func cloneSegments(segs []transcript.Segment) []transcript.Segment {
	return append([]transcript.Segment(nil), segs...)
}
