package diarization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/scribeflow/cmd/server/internal/audio"
	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
)

const testRate = 1000

type fakeDiarizer struct {
	turns []capability.SpeakerTimeSegment
	err   error
	opts  capability.DiarizeOptions
}

func (f *fakeDiarizer) Diarize(ctx context.Context, wav []byte, opts capability.DiarizeOptions) ([]capability.SpeakerTimeSegment, error) {
	f.opts = opts
	return f.turns, f.err
}

// clipTranscriber answers by clip length in seconds.
type clipTranscriber struct {
	texts map[float64]string
	fail  map[float64]bool
}

func (f *clipTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	sec, err := clipSeconds(wav)
	if err != nil {
		return "", err
	}
	if f.fail[sec] {
		return "", fmt.Errorf("asr failed for %.1fs clip", sec)
	}
	return f.texts[sec], nil
}

// splitAligner spreads the words of text evenly over the clip unless a
// fixed answer is configured for that text.
type splitAligner struct {
	mu    sync.Mutex
	calls []string
	fixed map[string][]capability.Word
	err   error
}

func (a *splitAligner) Align(ctx context.Context, wav []byte, text string) ([]capability.Word, error) {
	a.mu.Lock()
	a.calls = append(a.calls, text)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if w, ok := a.fixed[text]; ok {
		return w, nil
	}
	sec, err := clipSeconds(wav)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(text)
	step := sec / float64(len(fields))
	words := make([]capability.Word, len(fields))
	for i, f := range fields {
		words[i] = capability.Word{Text: f, Start: float64(i) * step, End: float64(i+1) * step}
	}
	return words, nil
}

func clipSeconds(wav []byte) (float64, error) {
	pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return 0, err
	}
	return math.Round(pcm.Seconds()*10) / 10, nil
}

func silentPCM(t *testing.T, seconds int) *audio.PCM {
	t.Helper()
	pcm, err := audio.NewPCM(make([]int16, seconds*testRate), testRate)
	require.NoError(t, err)
	return pcm
}

// 三段：A[0,4] B[4,8] A[8,14]；加 0.5s 填充后的片段长度分别为 4.5/5/7 秒
func threeTurns() []capability.SpeakerTimeSegment {
	return []capability.SpeakerTimeSegment{turn(8, 6, "A"), turn(0, 4, "A"), turn(4, 4, "B")}
}

func threeTexts() map[float64]string {
	return map[float64]string{4.5: "hello there", 5: "hi", 7: "how are you"}
}

func TestEngine_RunWithoutAligner(t *testing.T) {
	d := &fakeDiarizer{turns: threeTurns()}
	e := NewEngine(d, &clipTranscriber{texts: threeTexts()}, nil, nil)

	opts := DefaultOptions()
	opts.MaxSpeakers = 4
	res, err := e.Run(context.Background(), silentPCM(t, 20), opts, NewSpeakerNamer())
	require.NoError(t, err)

	assert.Equal(t, 4, d.opts.MaxSpeakers)
	assert.Equal(t, 2, res.SpeakerCount)
	assert.False(t, res.Aligned)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Segments, 3)
	assert.Equal(t, "Speaker 1", res.Segments[0].Speaker)
	assert.Equal(t, "hello there", res.Segments[0].Text)
	assert.Equal(t, "Speaker 2", res.Segments[1].Speaker)
	assert.Equal(t, "hi", res.Segments[1].Text)
	assert.Equal(t, "Speaker 1", res.Segments[2].Speaker)
	assert.InDelta(t, 8.0, res.Segments[2].Start, 1e-9)
	assert.InDelta(t, 14.0, res.Segments[2].End, 1e-9)
	assert.Equal(t, "Speaker 1: hello there Speaker 2: hi Speaker 1: how are you", FormatTranscriptWithSpeakers(res.Segments))
}

func TestEngine_AlignmentShiftsAndReassigns(t *testing.T) {
	aligner := &splitAligner{fixed: map[string][]capability.Word{
		// "there" 的中点落在 B 的区间内
		"hello there": {{Text: "hello", Start: 0, End: 2}, {Text: "there", Start: 3.9, End: 4.5}},
	}}
	d := &fakeDiarizer{turns: append(threeTurns(), turn(14, 1.5, "C"))}
	texts := threeTexts()
	texts[2.5] = "bye"
	e := NewEngine(d, &clipTranscriber{texts: texts}, aligner, nil)

	res, err := e.Run(context.Background(), silentPCM(t, 20), DefaultOptions(), NewSpeakerNamer())
	require.NoError(t, err)
	assert.True(t, res.Aligned)
	assert.Equal(t, 3, res.SpeakerCount)
	assert.NotContains(t, aligner.calls, "bye", "turns shorter than 2s skip alignment")

	require.Len(t, res.Segments, 4)
	assert.Equal(t, "hello", res.Segments[0].Text)
	assert.Equal(t, "Speaker 2", res.Segments[1].Speaker)
	assert.Equal(t, "there hi", res.Segments[1].Text)
	assert.InDelta(t, 3.9, res.Segments[1].Start, 1e-9)

	third := res.Segments[2]
	assert.Equal(t, "how are you", third.Text)
	require.Len(t, third.Words, 3)
	// 片段从 7.5s 开始提取，词时间需加上该偏移
	assert.InDelta(t, 7.5, third.Words[0].Start, 1e-9)
	assert.Equal(t, "Speaker 1", third.Words[0].Speaker)

	assert.Equal(t, "Speaker 3", res.Segments[3].Speaker)
	assert.Equal(t, "bye", res.Segments[3].Text)
	assert.Empty(t, res.Segments[3].Words)
}

func TestEngine_AlignmentFailureKeepsText(t *testing.T) {
	aligner := &splitAligner{err: errors.New("aligner down")}
	e := NewEngine(&fakeDiarizer{turns: threeTurns()}, &clipTranscriber{texts: threeTexts()}, aligner, nil)

	res, err := e.Run(context.Background(), silentPCM(t, 20), DefaultOptions(), NewSpeakerNamer())
	require.NoError(t, err)
	assert.False(t, res.Aligned)
	assert.Equal(t, "hello there", res.Segments[0].Text)
}

func TestEngine_PartialFailure(t *testing.T) {
	tr := &clipTranscriber{texts: threeTexts(), fail: map[float64]bool{5: true}}
	e := NewEngine(&fakeDiarizer{turns: threeTurns()}, tr, nil, nil)

	res, err := e.Run(context.Background(), silentPCM(t, 20), DefaultOptions(), NewSpeakerNamer())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Failed)
	require.Len(t, res.Segments, 3)
	assert.True(t, res.Segments[1].Failed())
	assert.Equal(t, "Speaker 2", res.Segments[1].Speaker)
	assert.Empty(t, res.Segments[1].Text)
	assert.Contains(t, res.Segments[1].Error, "asr failed")
	assert.Equal(t, "Speaker 1: hello there how are you", FormatTranscriptWithSpeakers(res.Segments))
}

func TestEngine_AllSegmentsFail(t *testing.T) {
	tr := &clipTranscriber{fail: map[float64]bool{4.5: true, 5: true, 7: true}}
	e := NewEngine(&fakeDiarizer{turns: threeTurns()}, tr, nil, nil)

	_, err := e.Run(context.Background(), silentPCM(t, 20), DefaultOptions(), NewSpeakerNamer())
	var batchErr *dispatch.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []int{0, 1, 2}, batchErr.Failed)
}

func TestEngine_NoSpeakers(t *testing.T) {
	for _, turns := range [][]capability.SpeakerTimeSegment{nil, {turn(0, 1, "")}} {
		e := NewEngine(&fakeDiarizer{turns: turns}, &clipTranscriber{}, nil, nil)
		_, err := e.Run(context.Background(), silentPCM(t, 5), DefaultOptions(), nil)
		assert.ErrorIs(t, err, ErrNoSpeakers)
	}
}

func TestEngine_DiarizerError(t *testing.T) {
	boom := errors.New("diarizer unavailable")
	e := NewEngine(&fakeDiarizer{err: boom}, &clipTranscriber{}, nil, nil)
	_, err := e.Run(context.Background(), silentPCM(t, 5), DefaultOptions(), nil)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoSpeakers)
}

func TestEngine_FailedGate(t *testing.T) {
	e := NewEngine(&fakeDiarizer{turns: threeTurns()}, &clipTranscriber{texts: threeTexts()}, nil, nil)
	e.Gate = dispatch.NewGate()
	e.Gate.Open(errors.New("models not loaded"))

	_, err := e.Run(context.Background(), silentPCM(t, 20), DefaultOptions(), nil)
	assert.ErrorIs(t, err, dispatch.ErrGateFailed)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.MinDurationForASR = 40
	bad.Padding = -1
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Contains(t, err.Error(), "padding")
}
