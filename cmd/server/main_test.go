package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/scribeflow/cmd/server/internal/audio"
	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/config"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/degradation"
)

// fakeWhisper serves the go-whisper health and transcribe endpoints.
func fakeWhisper(t *testing.T, healthy bool, text string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/whisper/model", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"model":"ggml-base"}`)
	})
	mux.HandleFunc("/api/whisper/transcribe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"text": %q, "segments": []}`, text)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func whisperConfig(t *testing.T, url string) string {
	return writeFile(t, "scribeflow.yaml", fmt.Sprintf(`
log:
  level: error
pipeline:
  chunk:
    use_silence_detection: false
  enable_alignment: false
  scratch_dir: %s
capabilities:
  retry:
    max_attempts: 1
  whisper:
    url: %s
`, t.TempDir(), url))
}

func TestRunCmd(t *testing.T) {
	srv := fakeWhisper(t, true, "hello from whisper")
	cfgPath := whisperConfig(t, srv.URL)

	wavPath := filepath.Join(t.TempDir(), "meeting.wav")
	pcm, err := audio.NewPCM(make([]int16, 2*16000), 16000)
	require.NoError(t, err)
	require.NoError(t, audio.WriteWAVFile(wavPath, pcm))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", wavPath, "--config", cfgPath, "-f", "srt"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "1\n00:00:00,000 --> 00:00:02,000\nhello from whisper\n\n", out.String())
}

func TestRunCmd_TranscriberNotReady(t *testing.T) {
	srv := fakeWhisper(t, false, "")
	cfgPath := whisperConfig(t, srv.URL)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run", "meeting.wav", "--config", cfgPath, "--wait", "50ms"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestRunCmd_InvalidFormat(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "meeting.wav", "-f", "docx"})
	assert.ErrorContains(t, root.Execute(), "unsupported format")
}

func TestMergeCmd(t *testing.T) {
	srt := writeFile(t, "meeting.srt", `1
00:00:00,000 --> 00:00:02,000
hello there

2
00:00:02,000 --> 00:00:04,000
how are you

3
00:00:05,000 --> 00:00:07,000
fine thanks
`)
	speakers := writeFile(t, "diarization.json", `{"segments": [
  {"start": 0, "end": 4.5, "speaker": "SPEAKER_01"},
  {"start": 4.5, "end": 8, "speaker": "SPEAKER_00"}
]}`)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"merge", "--segments-file", srt, "--speaker-file", speakers})
	require.NoError(t, root.Execute())

	assert.Equal(t,
		"[00:00:00.000 --> 00:00:04.000] [Speaker 1] hello there how are you\n"+
			"[00:00:05.000 --> 00:00:07.000] [Speaker 2] fine thanks\n",
		out.String())
}

func TestMergeCmd_RequiresFiles(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"merge"})
	assert.Error(t, root.Execute())
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Capabilities.Health.Interval = time.Minute
	return cfg
}

func TestBuildCapabilities(t *testing.T) {
	t.Run("仅远程 worker", func(t *testing.T) {
		cfg := testConfig()
		cfg.Capabilities.Transcribe.Endpoint = "http://asr.invalid"
		cfg.Capabilities.Diarize.Endpoint = "http://diarize.invalid"
		a, err := newApp(cfg)
		require.NoError(t, err)
		assert.Nil(t, a.degrade)
		assert.NotNil(t, a.checker)
		assert.NotNil(t, a.converter)
		assert.False(t, a.gate.Ready())

		caps, err := a.buildCapabilities()
		require.NoError(t, err)
		assert.IsType(t, &capability.RemoteClient{}, caps.Transcriber)
		assert.NotNil(t, caps.Diarizer)
		assert.Nil(t, caps.Aligner)
		assert.Nil(t, caps.Punctuator)
	})

	t.Run("远程加 whisper 降级", func(t *testing.T) {
		cfg := testConfig()
		cfg.Capabilities.Transcribe.Endpoint = "http://asr.invalid"
		cfg.Capabilities.Whisper.URL = "http://whisper.invalid"
		a, err := newApp(cfg)
		require.NoError(t, err)
		require.NotNil(t, a.degrade)

		caps, err := a.buildCapabilities()
		require.NoError(t, err)
		assert.IsType(t, &degradation.Controller{}, caps.Transcriber)
	})

	t.Run("仅 whisper", func(t *testing.T) {
		cfg := testConfig()
		cfg.Capabilities.Whisper.URL = "http://whisper.invalid"
		cfg.Capabilities.Language = "zh"
		a, err := newApp(cfg)
		require.NoError(t, err)
		caps, err := a.buildCapabilities()
		require.NoError(t, err)
		assert.IsType(t, &capability.WhisperHTTPTranscriber{}, caps.Transcriber)
	})

	t.Run("没有转写服务", func(t *testing.T) {
		_, err := newApp(testConfig())
		assert.ErrorContains(t, err, "no transcriber configured")
	})
}

func TestWaitReady_OpensGate(t *testing.T) {
	srv := fakeWhisper(t, true, "")
	cfg := testConfig()
	cfg.Capabilities.Whisper.URL = srv.URL
	a, err := newApp(cfg)
	require.NoError(t, err)

	require.NoError(t, a.waitReady(context.Background(), 10*time.Millisecond))
	assert.True(t, a.gate.Ready())
	assert.NoError(t, a.gate.Wait(context.Background()))
}

func TestWaitReady_UnhealthyPrimaryServesFromFallback(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			primaryCalls.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(primary.Close)
	fallback := fakeWhisper(t, true, "hello from whisper")

	cfg := testConfig()
	cfg.Capabilities.Transcribe.Endpoint = primary.URL
	cfg.Capabilities.Whisper.URL = fallback.URL
	require.Equal(t, 3, cfg.Capabilities.Health.FailThreshold)
	a, err := newApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, a.degrade)

	// 一次失败的探测低于阈值，仍需立即切到 whisper
	require.NoError(t, a.waitReady(context.Background(), 10*time.Millisecond))
	assert.True(t, a.gate.Ready())
	assert.True(t, a.degrade.IsDegraded())

	text, err := a.degrade.Transcribe(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "hello from whisper", text)
	assert.Equal(t, int32(0), primaryCalls.Load())
}

func TestWaitReady_FailsGateOnTimeout(t *testing.T) {
	srv := fakeWhisper(t, false, "")
	cfg := testConfig()
	cfg.Capabilities.Whisper.URL = srv.URL
	a, err := newApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, a.waitReady(ctx, 10*time.Millisecond))
	assert.False(t, a.gate.Ready())
	assert.ErrorIs(t, a.gate.Wait(context.Background()), dispatch.ErrGateFailed)
}
