package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/scribeflow/pkg/logger"
)

// Config 统一配置结构
type Config struct {
	Server       ServerConfig              `yaml:"server"`
	Log          logger.Config             `yaml:"log"`
	Pipeline     orchestrator.Config       `yaml:"pipeline"`
	Capabilities CapabilitiesConfig        `yaml:"capabilities"`
	Dependency   dependency.ExecutorConfig `yaml:"dependency"`
}

// ServerConfig 运维服务配置
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Addr string `yaml:"addr"`
}

// EndpointConfig 单个远程能力 worker
type EndpointConfig struct {
	capability.WorkerConfig `yaml:",inline"`
	Timeout                 time.Duration `yaml:"timeout"`
}

// Enabled 是否配置了该能力
func (e EndpointConfig) Enabled() bool { return e.Endpoint != "" }

// HealthConfig 转写服务健康检查与降级
type HealthConfig struct {
	Interval      time.Duration `yaml:"interval"`
	FailThreshold int           `yaml:"fail_threshold"`
}

// CapabilitiesConfig 外部能力配置
type CapabilitiesConfig struct {
	Language string                 `yaml:"language"`
	Retry    capability.RetryPolicy `yaml:"retry"`

	Transcribe  EndpointConfig `yaml:"transcribe"`
	Diarize     EndpointConfig `yaml:"diarize"`
	Align       EndpointConfig `yaml:"align"`
	Punctuate   EndpointConfig `yaml:"punctuate"`
	Denormalize EndpointConfig `yaml:"denormalize"`

	// Whisper 为 go-whisper 服务；与 Transcribe 同时配置时作为降级备选
	Whisper capability.WhisperConfig `yaml:"whisper"`
	Health  HealthConfig             `yaml:"health"`

	// SilenceDetector: energy（进程内）或 ffmpeg
	SilenceDetector string `yaml:"silence_detector"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Env: "dev", Addr: ":8090"},
		Log:      logger.Config{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Pipeline: orchestrator.DefaultConfig(),
		Capabilities: CapabilitiesConfig{
			Retry:           capability.DefaultRetryPolicy(),
			Transcribe:      EndpointConfig{Timeout: 5 * time.Minute},
			Diarize:         EndpointConfig{Timeout: 10 * time.Minute},
			Align:           EndpointConfig{Timeout: 2 * time.Minute},
			Punctuate:       EndpointConfig{Timeout: time.Minute},
			Denormalize:     EndpointConfig{Timeout: time.Minute},
			Health:          HealthConfig{Interval: 30 * time.Second, FailThreshold: 3},
			SilenceDetector: "energy",
		},
		Dependency: dependency.DefaultExecutorConfig(),
	}
}

// Load 读取 YAML 配置文件（可为空）并叠加环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 使用环境变量覆盖配置
func applyEnv(cfg *Config) error {
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)
	cfg.Server.Addr = getEnv("SCRIBEFLOW_ADDR", cfg.Server.Addr)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if cfg.Log.Environment == "" {
		cfg.Log.Environment = cfg.Server.Env
	}

	p := &cfg.Pipeline
	p.ScratchDir = getEnv("SCRIBEFLOW_SCRATCH_DIR", p.ScratchDir)
	var errs []string
	if err := getEnvInt("SCRIBEFLOW_MAX_CONCURRENCY", &p.MaxConcurrency); err != nil {
		errs = append(errs, err.Error())
	}
	for key, dst := range map[string]*bool{
		"SCRIBEFLOW_ENABLE_DIARIZATION":     &p.EnableDiarization,
		"SCRIBEFLOW_ENABLE_ALIGNMENT":       &p.EnableAlignment,
		"SCRIBEFLOW_ENABLE_PUNCTUATION":     &p.EnablePunctuation,
		"SCRIBEFLOW_ENABLE_DENORMALIZATION": &p.EnableDenormalization,
		"SCRIBEFLOW_OVERLAP_DEDUP":          &p.Dedup.Enabled,
	} {
		if err := getEnvBool(key, dst); err != nil {
			errs = append(errs, err.Error())
		}
	}

	c := &cfg.Capabilities
	c.Language = getEnv("SCRIBEFLOW_LANGUAGE", c.Language)
	c.Transcribe.Endpoint = getEnv("ASR_ENDPOINT", c.Transcribe.Endpoint)
	c.Diarize.Endpoint = getEnv("DIARIZE_ENDPOINT", c.Diarize.Endpoint)
	c.Align.Endpoint = getEnv("ALIGN_ENDPOINT", c.Align.Endpoint)
	c.Punctuate.Endpoint = getEnv("PUNCTUATE_ENDPOINT", c.Punctuate.Endpoint)
	c.Denormalize.Endpoint = getEnv("DENORMALIZE_ENDPOINT", c.Denormalize.Endpoint)
	c.Whisper.URL = getEnv("WHISPER_API_URL", c.Whisper.URL)
	c.Whisper.Model = getEnv("WHISPER_MODEL", c.Whisper.Model)
	c.SilenceDetector = getEnv("SILENCE_DETECTOR", c.SilenceDetector)

	// WORKER_TOKEN 作用于所有未单独配置 token 的 worker
	if token := os.Getenv("WORKER_TOKEN"); token != "" {
		for _, ep := range c.Endpoints() {
			if ep.Token == "" {
				ep.Token = token
			}
		}
	}

	cfg.Dependency.Mode = dependency.ExecutionMode(getEnv("DEPENDENCY_MODE", string(cfg.Dependency.Mode)))
	cfg.Dependency.ServiceURL = getEnv("DEPS_SERVICE_URL", cfg.Dependency.ServiceURL)
	if path := os.Getenv("FFMPEG_PATH"); path != "" {
		if cfg.Dependency.LocalBinaryPaths == nil {
			cfg.Dependency.LocalBinaryPaths = map[string]string{}
		}
		cfg.Dependency.LocalBinaryPaths["ffmpeg"] = path
	}
	if cfg.Dependency.ScratchRoot == "" {
		cfg.Dependency.ScratchRoot = p.ScratchDir
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Endpoints 按能力名返回各 worker 配置（可修改）
func (c *CapabilitiesConfig) Endpoints() map[string]*EndpointConfig {
	return map[string]*EndpointConfig{
		capability.CapTranscribe:  &c.Transcribe,
		capability.CapDiarize:     &c.Diarize,
		capability.CapAlign:       &c.Align,
		capability.CapPunctuate:   &c.Punctuate,
		capability.CapDenormalize: &c.Denormalize,
	}
}

// Validate 验证配置的有效性，一次返回所有问题
func (cfg *Config) Validate() error {
	var errors []string

	// 1. 环境与监听地址
	validEnvs := map[string]bool{"dev": true, "development": true, "test": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, test, staging, production)", cfg.Server.Env))
	}
	if err := validateAddr(cfg.Server.Addr); err != nil {
		errors = append(errors, err.Error())
	}

	// 2. 日志
	if !logger.ValidLevel(cfg.Log.Level) {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	// 3. 流水线参数
	if err := cfg.Pipeline.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errors = append(errors, "pipeline: "+line)
		}
	}

	// 4. 外部能力
	c := cfg.Capabilities
	if err := c.Retry.Validate(); err != nil {
		errors = append(errors, "retry: "+err.Error())
	}
	if !c.Transcribe.Enabled() && c.Whisper.URL == "" {
		errors = append(errors, "a transcriber is required: set capabilities.transcribe.endpoint (ASR_ENDPOINT) or capabilities.whisper.url (WHISPER_API_URL)")
	}
	for _, name := range []string{capability.CapTranscribe, capability.CapDiarize, capability.CapAlign, capability.CapPunctuate, capability.CapDenormalize} {
		ep := c.Endpoints()[name]
		if ep.Enabled() && ep.Timeout <= 0 {
			errors = append(errors, fmt.Sprintf("capabilities.%s.timeout must be positive", name))
		}
	}
	if cfg.Pipeline.EnableDiarization && !c.Diarize.Enabled() {
		errors = append(errors, "diarization enabled but capabilities.diarize.endpoint is empty")
	}
	if cfg.Pipeline.EnablePunctuation && !c.Punctuate.Enabled() {
		errors = append(errors, "punctuation enabled but capabilities.punctuate.endpoint is empty")
	}
	if cfg.Pipeline.EnableDenormalization && !c.Denormalize.Enabled() {
		errors = append(errors, "denormalization enabled but capabilities.denormalize.endpoint is empty")
	}
	if c.Transcribe.Enabled() && c.Whisper.URL != "" {
		if c.Health.Interval <= 0 || c.Health.FailThreshold <= 0 {
			errors = append(errors, "capabilities.health interval and fail_threshold must be positive when a fallback transcriber is configured")
		}
	}
	switch c.SilenceDetector {
	case "energy", "ffmpeg":
	default:
		errors = append(errors, fmt.Sprintf("invalid silence_detector: %s (must be: energy, ffmpeg)", c.SilenceDetector))
	}

	// 5. ffmpeg 执行方式
	d := cfg.Dependency
	switch d.Mode {
	case dependency.ModeLocal:
	case dependency.ModeRemote, dependency.ModeFallback:
		if d.ServiceURL == "" {
			errors = append(errors, fmt.Sprintf("dependency.service_url is required for %s mode", d.Mode))
		}
		// deps-service 通过共享卷读取转换输入和静音检测的临时 WAV
		if cfg.Pipeline.ScratchDir == "" {
			errors = append(errors, fmt.Sprintf("pipeline.scratch_dir must be a volume shared with the deps-service in %s mode", d.Mode))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid dependency.mode: %s (must be: local, remote, fallback)", d.Mode))
	}
	if d.DefaultTimeout <= 0 {
		errors = append(errors, "dependency.default_timeout must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

func validateAddr(addr string) error {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return fmt.Errorf("invalid server.addr: %q (expected host:port)", addr)
	}
	if port, err := strconv.Atoi(addr[i+1:]); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.addr port: %q (must be 1-65535)", addr)
	}
	return nil
}

// IsProduction 判断是否为生产环境
func (cfg *Config) IsProduction() bool {
	return cfg.Server.Env == "production"
}

// PrintConfig 打印配置（脱敏）
func (cfg *Config) PrintConfig() string {
	c := cfg.Capabilities
	p := cfg.Pipeline
	endpoint := func(ep EndpointConfig) string {
		if !ep.Enabled() {
			return "<not set>"
		}
		return fmt.Sprintf("%s (timeout %v, token %s)", ep.Endpoint, ep.Timeout, maskSecret(ep.Token))
	}
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Ops Address: %s
  Logging:
    - Level: %s
    - File: %s
  Pipeline:
    - Chunk: target %v, overlap %v, silence detection %v (%s)
    - Max Concurrency: %d
    - Diarization: %v
    - Alignment: %v
    - Punctuation: %v
    - Denormalization: %v (%s)
    - Post-process Mode: %s
    - Overlap Dedup: %v
    - Scratch Dir: %s
  Capabilities:
    - Language: %s
    - Retry: %d attempts, base %v, max %v
    - Transcribe: %s
    - Diarize: %s
    - Align: %s
    - Punctuate: %s
    - Denormalize: %s
    - Whisper: %s
  Dependency:
    - Mode: %s
    - Service URL: %s`,
		cfg.Server.Env,
		cfg.Server.Addr,
		cfg.Log.Level,
		orNotSet(cfg.Log.File),
		p.Chunk.Target, p.Chunk.Overlap, p.Chunk.UseSilenceDetection, c.SilenceDetector,
		p.MaxConcurrency,
		p.EnableDiarization,
		p.EnableAlignment,
		p.EnablePunctuation,
		p.EnableDenormalization, p.DenormalizationStyle,
		p.PostProcessMode,
		p.Dedup.Enabled,
		orNotSet(p.ScratchDir),
		orNotSet(c.Language),
		c.Retry.MaxAttempts, c.Retry.BaseDelay, c.Retry.MaxDelay,
		endpoint(c.Transcribe),
		endpoint(c.Diarize),
		endpoint(c.Align),
		endpoint(c.Punctuate),
		endpoint(c.Denormalize),
		orNotSet(c.Whisper.URL),
		cfg.Dependency.Mode,
		orNotSet(cfg.Dependency.ServiceURL),
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, value)
	}
	*dst = n
	return nil
}

func getEnvBool(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", key, value)
	}
	*dst = b
	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
