package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 统一配置结构
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Log      LogConfig      `yaml:"log"`
	Tools    ToolsConfig    `yaml:"tools"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Local    LocalConfig    `yaml:"local"`
	Quota    QuotaConfig    `yaml:"quota"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Merge    MergeConfig    `yaml:"merge"`
	Retry    RetryConfig    `yaml:"retry"`
	Health   HealthConfig   `yaml:"health"`
	AWS      AWSConfig      `yaml:"aws"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env               string `yaml:"env"` // dev, staging, production
	Port              string `yaml:"port"`
	APIKey            string `yaml:"api_key"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
}

// DataConfig 数据目录配置
type DataConfig struct {
	WorkDir    string `yaml:"work_dir"`    // 每个请求的临时工作目录根
	QuotaStore string `yaml:"quota_store"` // file, memory
	QuotaFile  string `yaml:"quota_file"`
	MediaRoot  string `yaml:"media_root"` // HTTP 接口允许读取的本地媒体目录，空表示禁止本地音源
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // console, json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ToolsConfig 外部工具配置
type ToolsConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg"`
	FFprobePath    string        `yaml:"ffprobe"`
	YtDlpPath      string        `yaml:"yt_dlp"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// CloudConfig 云端 Whisper（OpenAI 兼容，默认 Groq）
type CloudConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// LocalConfig 本地 faster-whisper 服务
type LocalConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// QuotaConfig 云端配额上限
type QuotaConfig struct {
	MinuteRequests   int     `yaml:"minute_requests"`
	HourAudioSeconds float64 `yaml:"hour_audio_seconds"`
	DayRequests      int     `yaml:"day_requests"`
	DayAudioSeconds  float64 `yaml:"day_audio_seconds"`
}

// ChunkingConfig 切片默认参数（请求可覆盖）
type ChunkingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ChunkSeconds   float64 `yaml:"chunk_seconds"`
	OverlapSeconds float64 `yaml:"overlap_seconds"`
	Accelerated    bool    `yaml:"accelerated"`
	MaxParallel    int     `yaml:"max_parallel"`
}

// MergeConfig 重叠去重参数
type MergeConfig struct {
	SimilarityThreshold int `yaml:"similarity_threshold"` // simhash 汉明距离，0 表示只做精确匹配
}

// RetryConfig 切片重试策略
type RetryConfig struct {
	MaxAttempts    int             `yaml:"max_attempts"`
	Backoff        []time.Duration `yaml:"backoff"`
	ResplitSeconds float64         `yaml:"resplit_seconds"`
}

// HealthConfig 后端健康检查
type HealthConfig struct {
	Interval      time.Duration `yaml:"interval"`
	FailThreshold int           `yaml:"fail_threshold"`
}

// AWSConfig S3 音源下载
type AWSConfig struct {
	Region string `yaml:"region"`
}

// minLocalTimeout 本地转写超时下限
const minLocalTimeout = 60 * time.Second

// minChunkSeconds 切片时长下限
const minChunkSeconds = 10.0

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Env:               "dev",
			Port:              "5688",
			MaxConcurrentJobs: 4,
		},
		Data: DataConfig{
			WorkDir:    filepath.Join(os.TempDir(), "vtscribe"),
			QuotaStore: "file",
			QuotaFile:  filepath.Join(os.TempDir(), "vtscribe-limits.json"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Tools: ToolsConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			YtDlpPath:      "yt-dlp",
			CommandTimeout: 30 * time.Minute,
		},
		Cloud: CloudConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "whisper-large-v3-turbo",
			Timeout: 30 * time.Minute,
		},
		Local: LocalConfig{
			BaseURL: "http://localhost:5689",
			Model:   "distil-large-v3",
			Timeout: 2 * time.Hour,
		},
		Quota: QuotaConfig{
			MinuteRequests:   20,
			HourAudioSeconds: 7200,
			DayRequests:      2000,
			DayAudioSeconds:  28800,
		},
		Chunking: ChunkingConfig{
			Enabled:        true,
			ChunkSeconds:   600,
			OverlapSeconds: 0,
			MaxParallel:    4,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			Backoff:        []time.Duration{time.Second, 3 * time.Second, 7 * time.Second},
			ResplitSeconds: 300,
		},
		Health: HealthConfig{
			Interval:      5 * time.Minute,
			FailThreshold: 3,
		},
	}
}

// LoadConfig 加载配置：默认值 -> CONFIG_FILE (YAML) -> 环境变量
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	var parseErrs []string
	applyEnv(cfg, &parseErrs)
	if len(parseErrs) > 0 {
		return nil, fmt.Errorf("invalid environment values:\n  - %s", strings.Join(parseErrs, "\n  - "))
	}

	GlobalConfig = cfg
	return cfg, nil
}

// loadFile 用 YAML 文件覆盖默认值，未出现的字段保持不变
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, errs *[]string) {
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.APIKey = getEnv("API_KEY", cfg.Server.APIKey)
	cfg.Server.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", cfg.Server.MaxConcurrentJobs, errs)

	cfg.Data.WorkDir = getEnv("WORK_DIR", cfg.Data.WorkDir)
	cfg.Data.QuotaStore = getEnv("QUOTA_STORE", cfg.Data.QuotaStore)
	cfg.Data.QuotaFile = getEnv("QUOTA_FILE", cfg.Data.QuotaFile)
	cfg.Data.MediaRoot = getEnv("MEDIA_ROOT", cfg.Data.MediaRoot)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.Tools.FFmpegPath = getEnv("FFMPEG_CMD", cfg.Tools.FFmpegPath)
	cfg.Tools.FFprobePath = getEnv("FFPROBE_CMD", cfg.Tools.FFprobePath)
	cfg.Tools.YtDlpPath = getEnv("YTDLP_CMD", cfg.Tools.YtDlpPath)
	cfg.Tools.CommandTimeout = getEnvDuration("COMMAND_TIMEOUT", cfg.Tools.CommandTimeout, errs)

	cfg.Cloud.APIKey = getEnv("GROQ_API_KEY", cfg.Cloud.APIKey)
	cfg.Cloud.BaseURL = getEnv("GROQ_BASE_URL", cfg.Cloud.BaseURL)
	cfg.Cloud.Model = getEnv("GROQ_WHISPER_MODEL", cfg.Cloud.Model)
	cfg.Cloud.Timeout = getEnvDuration("CLOUD_TIMEOUT", cfg.Cloud.Timeout, errs)

	cfg.Local.BaseURL = getEnv("LOCAL_ASR_BASE_URL", cfg.Local.BaseURL)
	cfg.Local.Model = getEnv("LOCAL_ASR_MODEL", cfg.Local.Model)
	if ms := getEnvInt("LOCAL_TIMEOUT_MS", 0, errs); ms > 0 {
		cfg.Local.Timeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.Local.Timeout < minLocalTimeout {
		cfg.Local.Timeout = minLocalTimeout
	}

	cfg.Quota.MinuteRequests = getEnvInt("QUOTA_MINUTE_REQUESTS", cfg.Quota.MinuteRequests, errs)
	cfg.Quota.HourAudioSeconds = getEnvFloat("QUOTA_HOUR_AUDIO_SECONDS", cfg.Quota.HourAudioSeconds, errs)
	cfg.Quota.DayRequests = getEnvInt("QUOTA_DAY_REQUESTS", cfg.Quota.DayRequests, errs)
	cfg.Quota.DayAudioSeconds = getEnvFloat("QUOTA_DAY_AUDIO_SECONDS", cfg.Quota.DayAudioSeconds, errs)

	cfg.Chunking.Enabled = getEnvBool("CHUNKING_ENABLED", cfg.Chunking.Enabled, errs)
	cfg.Chunking.ChunkSeconds = getEnvFloat("CHUNK_SECONDS", cfg.Chunking.ChunkSeconds, errs)
	cfg.Chunking.OverlapSeconds = getEnvFloat("CHUNK_OVERLAP_SECONDS", cfg.Chunking.OverlapSeconds, errs)
	cfg.Chunking.Accelerated = getEnvBool("CHUNK_ACCELERATED", cfg.Chunking.Accelerated, errs)
	cfg.Chunking.MaxParallel = getEnvInt("CHUNK_MAX_PARALLEL", cfg.Chunking.MaxParallel, errs)

	cfg.Merge.SimilarityThreshold = getEnvInt("MERGE_SIMILARITY_THRESHOLD", cfg.Merge.SimilarityThreshold, errs)

	cfg.Health.Interval = getEnvDuration("HEALTH_CHECK_INTERVAL", cfg.Health.Interval, errs)
	cfg.Health.FailThreshold = getEnvInt("HEALTH_FAIL_THRESHOLD", cfg.Health.FailThreshold, errs)

	cfg.AWS.Region = getEnv("AWS_REGION", cfg.AWS.Region)
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errors []string

	// 1. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 2. 日志级别与格式
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	// 3. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 4. 生产环境必须设置 API_KEY
	if cfg.IsProduction() && cfg.Server.APIKey == "" {
		errors = append(errors, "API_KEY is required in production environment")
	}
	if cfg.Server.MaxConcurrentJobs < 1 {
		errors = append(errors, "MAX_CONCURRENT_JOBS must be >= 1")
	}

	// 5. 后端地址
	if cfg.Local.BaseURL == "" && cfg.Cloud.APIKey == "" {
		errors = append(errors, "at least one backend must be configured (LOCAL_ASR_BASE_URL or GROQ_API_KEY)")
	}
	for name, raw := range map[string]string{"LOCAL_ASR_BASE_URL": cfg.Local.BaseURL, "GROQ_BASE_URL": cfg.Cloud.BaseURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid %s: %s", name, raw))
		}
	}

	// 6. 配额
	if cfg.Quota.MinuteRequests < 1 || cfg.Quota.DayRequests < 1 {
		errors = append(errors, "quota request caps must be >= 1")
	}
	if cfg.Quota.HourAudioSeconds <= 0 || cfg.Quota.DayAudioSeconds <= 0 {
		errors = append(errors, "quota audio-second caps must be > 0")
	}
	if cfg.Data.QuotaStore != "file" && cfg.Data.QuotaStore != "memory" {
		errors = append(errors, fmt.Sprintf("invalid QUOTA_STORE: %s (must be: file, memory)", cfg.Data.QuotaStore))
	}

	// 7. 切片参数
	if cfg.Chunking.ChunkSeconds < minChunkSeconds {
		errors = append(errors, fmt.Sprintf("CHUNK_SECONDS must be >= %g", minChunkSeconds))
	}
	if cfg.Chunking.OverlapSeconds < 0 || cfg.Chunking.OverlapSeconds > cfg.Chunking.ChunkSeconds/2 {
		errors = append(errors, "CHUNK_OVERLAP_SECONDS must be >= 0 and <= CHUNK_SECONDS/2")
	}
	if cfg.Chunking.MaxParallel < 1 {
		errors = append(errors, "CHUNK_MAX_PARALLEL must be >= 1")
	}

	// 8. 重叠去重（simhash 指纹 64 位）
	if cfg.Merge.SimilarityThreshold < 0 || cfg.Merge.SimilarityThreshold > 64 {
		errors = append(errors, fmt.Sprintf("invalid MERGE_SIMILARITY_THRESHOLD: %d (must be 0-64)", cfg.Merge.SimilarityThreshold))
	}

	// 9. 本地音源目录
	if cfg.Data.MediaRoot != "" && !filepath.IsAbs(cfg.Data.MediaRoot) {
		errors = append(errors, fmt.Sprintf("MEDIA_ROOT must be an absolute path: %s", cfg.Data.MediaRoot))
	}

	// 10. 重试
	if cfg.Retry.MaxAttempts < 1 {
		errors = append(errors, "retry max_attempts must be >= 1")
	}
	if len(cfg.Retry.Backoff) == 0 {
		errors = append(errors, "retry backoff schedule must not be empty")
	}
	if cfg.Retry.ResplitSeconds <= 0 {
		errors = append(errors, "retry resplit_seconds must be > 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment 判断是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// CloudEnabled 是否配置了云端凭证
func (c *Config) CloudEnabled() bool {
	return c.Cloud.APIKey != ""
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s (api key: %s, max jobs: %d)
  Data:
    - Work Dir: %s
    - Quota Store: %s (%s)
    - Media Root: %s
  Logging:
    - Level: %s
    - Format: %s
    - File: %s
  Cloud:
    - Base URL: %s
    - Model: %s
    - API Key: %s
  Local:
    - Base URL: %s
    - Model: %s
    - Timeout: %s
  Quota: %d req/min, %.0f s/hour, %d req/day, %.0f s/day
  Chunking: enabled=%t chunk=%.0fs overlap=%.1fs accelerated=%t parallel=%d
  Merge: similarity_threshold=%d`,
		c.Server.Env,
		c.Server.Port,
		maskSecret(c.Server.APIKey),
		c.Server.MaxConcurrentJobs,
		c.Data.WorkDir,
		c.Data.QuotaStore,
		c.Data.QuotaFile,
		c.Data.MediaRoot,
		c.Log.Level,
		c.Log.Format,
		c.Log.File,
		c.Cloud.BaseURL,
		c.Cloud.Model,
		maskSecret(c.Cloud.APIKey),
		c.Local.BaseURL,
		c.Local.Model,
		c.Local.Timeout,
		c.Quota.MinuteRequests,
		c.Quota.HourAudioSeconds,
		c.Quota.DayRequests,
		c.Quota.DayAudioSeconds,
		c.Chunking.Enabled,
		c.Chunking.ChunkSeconds,
		c.Chunking.OverlapSeconds,
		c.Chunking.Accelerated,
		c.Chunking.MaxParallel,
		c.Merge.SimilarityThreshold,
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

func getEnvInt(key string, defaultValue int, errs *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64, errs *[]string) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a number", key, raw))
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool, errs *[]string) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a boolean", key, raw))
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return defaultValue
	}
	return v
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
