package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/dependency"
)

const sampleYAML = `
server:
  env: staging
  addr: ":9000"
log:
  level: debug
pipeline:
  scratch_dir: /data/scribeflow
  chunk:
    target: 120s
    overlap: 3s
    use_silence_detection: false
  max_concurrency: 8
  enable_diarization: true
  diarization:
    min_duration_for_asr: 2
    max_duration_for_asr: 20
    padding: 0.25
  post_process_mode: transcript
  dedup:
    enabled: true
capabilities:
  language: zh
  retry:
    max_attempts: 5
    base_delay: 500ms
    multiplier: 2
    max_delay: 10s
  transcribe:
    endpoint: http://asr.local
    token: secret-token-value
    timeout: 90s
  diarize:
    endpoint: http://diarize.local
dependency:
  mode: fallback
  service_url: http://deps.local:8080
  default_timeout: 5m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scribeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "staging", cfg.Server.Env)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "staging", cfg.Log.Environment)

	p := cfg.Pipeline
	assert.Equal(t, 120*time.Second, p.Chunk.Target)
	assert.Equal(t, 3*time.Second, p.Chunk.Overlap)
	assert.False(t, p.Chunk.UseSilenceDetection)
	assert.Equal(t, 500*time.Millisecond, p.Chunk.MinSilence, "未设置的字段保留默认值")
	assert.Equal(t, 8, p.MaxConcurrency)
	assert.Equal(t, 0.25, p.Diarization.Padding)
	assert.Equal(t, 2.0, p.Diarization.MinDurationForAlignment)
	assert.Equal(t, orchestrator.PostProcessTranscript, p.PostProcessMode)
	assert.True(t, p.Dedup.Enabled)
	assert.Equal(t, 3, p.Dedup.MaxDistance)

	c := cfg.Capabilities
	assert.Equal(t, "zh", c.Language)
	assert.Equal(t, 5, c.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.Retry.BaseDelay)
	assert.Equal(t, "http://asr.local", c.Transcribe.Endpoint)
	assert.Equal(t, "secret-token-value", c.Transcribe.Token)
	assert.Equal(t, 90*time.Second, c.Transcribe.Timeout)
	assert.Equal(t, 10*time.Minute, c.Diarize.Timeout)

	assert.Equal(t, dependency.ModeFallback, cfg.Dependency.Mode)
	assert.Equal(t, []string{"ffmpeg"}, cfg.Dependency.AllowedCommands)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ASR_ENDPOINT", "http://env-asr")
	t.Setenv("ALIGN_ENDPOINT", "http://env-align")
	t.Setenv("WORKER_TOKEN", "shared-token")
	t.Setenv("SCRIBEFLOW_MAX_CONCURRENCY", "2")
	t.Setenv("SCRIBEFLOW_ENABLE_DIARIZATION", "false")
	t.Setenv("FFMPEG_PATH", "/opt/bin/ffmpeg")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://env-asr", cfg.Capabilities.Transcribe.Endpoint)
	assert.Equal(t, "secret-token-value", cfg.Capabilities.Transcribe.Token, "单独配置的 token 不被覆盖")
	assert.Equal(t, "shared-token", cfg.Capabilities.Align.Token)
	assert.Equal(t, "shared-token", cfg.Capabilities.Diarize.Token)
	assert.Empty(t, cfg.Capabilities.Punctuate.Token, "未配置的 worker 不带 token")
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrency)
	assert.False(t, cfg.Pipeline.EnableDiarization)
	assert.Equal(t, "/opt/bin/ffmpeg", cfg.Dependency.LocalBinaryPaths["ffmpeg"])
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "pipeline: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config")

	t.Setenv("SCRIBEFLOW_MAX_CONCURRENCY", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "SCRIBEFLOW_MAX_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	t.Run("默认配置缺少转写服务", func(t *testing.T) {
		err := Default().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a transcriber is required")
	})

	t.Run("仅 whisper 即可", func(t *testing.T) {
		cfg := Default()
		cfg.Capabilities.Whisper.URL = "http://whisper.local"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("收集全部问题", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Env = "prod-ish"
		cfg.Server.Addr = "no-port"
		cfg.Log.Level = "loud"
		cfg.Pipeline.MaxConcurrency = 0
		cfg.Pipeline.EnableDiarization = true
		cfg.Capabilities.Transcribe.Endpoint = "http://asr"
		cfg.Capabilities.Transcribe.Timeout = 0
		cfg.Capabilities.Retry.MaxAttempts = 0
		cfg.Capabilities.SilenceDetector = "magic"
		cfg.Dependency.Mode = dependency.ModeRemote

		err := cfg.Validate()
		require.Error(t, err)
		for _, want := range []string{
			"invalid ENV",
			"invalid server.addr",
			"invalid LOG_LEVEL",
			"pipeline: max_concurrency must be positive",
			"diarization enabled but capabilities.diarize.endpoint is empty",
			"capabilities.transcribe.timeout must be positive",
			"retry: max_attempts",
			"invalid silence_detector",
			"dependency.service_url is required for remote mode",
			"pipeline.scratch_dir must be a volume shared with the deps-service in remote mode",
		} {
			assert.Contains(t, err.Error(), want)
		}
	})

	t.Run("远程 ffmpeg 需要共享临时目录", func(t *testing.T) {
		cfg := Default()
		cfg.Capabilities.Whisper.URL = "http://whisper.local"
		cfg.Capabilities.SilenceDetector = "ffmpeg"
		cfg.Dependency.Mode = dependency.ModeRemote
		cfg.Dependency.ServiceURL = "http://deps.local:8091"
		assert.ErrorContains(t, cfg.Validate(), "pipeline.scratch_dir must be a volume shared")

		cfg.Pipeline.ScratchDir = "/data/scribeflow"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("降级需要健康检查参数", func(t *testing.T) {
		cfg := Default()
		cfg.Capabilities.Transcribe.Endpoint = "http://asr"
		cfg.Capabilities.Whisper.URL = "http://whisper"
		cfg.Capabilities.Health.Interval = 0
		assert.ErrorContains(t, cfg.Validate(), "capabilities.health")
	})
}

func TestPrintConfig_MasksSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	out := cfg.PrintConfig()
	assert.NotContains(t, out, "secret-token-value")
	assert.Contains(t, out, "secr***alue")
	assert.Contains(t, out, "http://asr.local")
	assert.Contains(t, out, "Align: <not set>")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "<not set>", maskSecret(""))
	assert.Equal(t, "***", maskSecret("short"))
	assert.Equal(t, "abcd***mnop", maskSecret("abcdefghijklmnop"))
}
