// Package config provides configuration management for digwatch using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultSamplingFPS         = 3
	defaultClassifyConcurrency = 4
	defaultCompleteCycleSecs   = 5.0
	defaultPartialCycleSecs    = 3.0
	defaultTotalDeadline       = 30 * time.Minute
	defaultExtractTimeout      = 5 * time.Minute
	defaultClassifyTimeout     = 15 * time.Minute
	defaultDetectTimeout       = 30 * time.Second
	defaultAssembleTimeout     = 30 * time.Second
	defaultTelemetryTimeout    = time.Minute
	defaultReportTimeout       = 3 * time.Minute
	defaultLLMTimeout          = 90 * time.Second
	defaultRetryAttempts       = 3
	defaultRetryDelay          = time.Second
	defaultRetryBackoff        = 2.0
	defaultBreakerThreshold    = 10
	defaultVisionMaxTokens     = 300
	defaultTextMaxTokens       = 1200
	defaultStaleRunAge         = 72 * time.Hour
	defaultWatchDebounce       = 2 * time.Second
)

// Stage identifiers used as keys for per-stage timeouts. These must match
// the IDs the stage packages register with the orchestrator.
const (
	StageExtractFrames   = "extract_frames"
	StageClassifyFrames  = "classify_frames"
	StageDetectActions   = "detect_actions"
	StageAssembleCycles  = "assemble_cycles"
	StageEnrichTelemetry = "enrich_telemetry"
	StageGenerateReport  = "generate_report"
)

// Classifier dispatch modes.
const (
	ClassifyModeSequential = "sequential"
	ClassifyModeParallel   = "parallel"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	LLM       LLMConfig       `mapstructure:"llm"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Report    ReportConfig    `mapstructure:"report"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// WorkspaceConfig holds run workspace configuration.
type WorkspaceConfig struct {
	// BaseDir is the root under which per-run work directories and saved
	// reports live.
	BaseDir string `mapstructure:"base_dir"`
	// KeepFrames retains extracted frame files after a run finishes.
	KeepFrames bool `mapstructure:"keep_frames"`
	// StaleMaxAge is how old an orphaned run directory must be before
	// startup cleanup removes it.
	StaleMaxAge time.Duration `mapstructure:"stale_max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text, console
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PipelineConfig holds analysis pipeline configuration.
type PipelineConfig struct {
	// SamplingFPS is the frame sampling rate. Allowed values: 1, 3, 5, 10.
	SamplingFPS int `mapstructure:"sampling_fps"`
	// MaxFrames caps extraction; 0 means unbounded.
	MaxFrames int `mapstructure:"max_frames"`
	// ClassifyMode selects sequential or parallel frame classification.
	ClassifyMode string `mapstructure:"classify_mode"`
	// ClassifyConcurrency bounds in-flight classifier requests in
	// parallel mode.
	ClassifyConcurrency int `mapstructure:"classify_concurrency"`
	// CompleteCycleSeconds is the minimum duration for a complete cycle.
	CompleteCycleSeconds float64 `mapstructure:"complete_cycle_seconds"`
	// PartialCycleSeconds is the minimum duration for a partial cycle.
	PartialCycleSeconds float64 `mapstructure:"partial_cycle_seconds"`
	// TotalDeadline bounds the whole run; 0 disables it.
	TotalDeadline time.Duration `mapstructure:"total_deadline"`
	// StageTimeouts holds per-stage soft timeouts.
	StageTimeouts StageTimeoutConfig `mapstructure:"stage_timeouts"`
}

// StageTimeoutConfig holds per-stage soft timeouts. A zero value leaves the
// stage unbounded apart from the total deadline.
type StageTimeoutConfig struct {
	ExtractFrames   time.Duration `mapstructure:"extract_frames"`
	ClassifyFrames  time.Duration `mapstructure:"classify_frames"`
	DetectActions   time.Duration `mapstructure:"detect_actions"`
	AssembleCycles  time.Duration `mapstructure:"assemble_cycles"`
	EnrichTelemetry time.Duration `mapstructure:"enrich_telemetry"`
	GenerateReport  time.Duration `mapstructure:"generate_report"`
}

// LLMConfig holds configuration for the OpenAI-compatible model endpoint.
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	VisionModel       string        `mapstructure:"vision_model"`
	TextModel         string        `mapstructure:"text_model"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	VisionMaxTokens   int           `mapstructure:"vision_max_tokens"`
	TextMaxTokens     int           `mapstructure:"text_max_tokens"`
	VisionTemperature float64       `mapstructure:"vision_temperature"`
	TextTemperature   float64       `mapstructure:"text_temperature"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`     // Attempts per request including the first (default 3)
	RetryDelay        time.Duration `mapstructure:"retry_delay"`        // Initial backoff before the first retry (default 1s)
	RetryBackoff      float64       `mapstructure:"retry_backoff"`      // Backoff multiplier between retries (default 2)
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`  // Consecutive failures before the circuit opens (default 10)
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// PromptsConfig holds prompt template store configuration.
type PromptsConfig struct {
	// Dir overrides or extends the embedded prompt definitions; empty uses
	// the embedded defaults only.
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig holds machine telemetry lookup configuration.
type TelemetryConfig struct {
	// Dir is scanned for <source_id>.pdf and <source_id>_stats.json
	// sidecar files. Empty disables enrichment.
	Dir string `mapstructure:"dir"`
}

// ReportConfig holds report generation configuration.
type ReportConfig struct {
	// Template selects the report template by identifier.
	Template string `mapstructure:"template"`
	// Narrative enables the model-written summary section.
	Narrative bool `mapstructure:"narrative"`
	// HTML additionally renders the chart-bearing HTML report.
	HTML bool `mapstructure:"html"`
	// ContactSheet renders a frame-grid JPEG alongside the report.
	ContactSheet bool `mapstructure:"contact_sheet"`
	// Save persists rendered reports under the workspace reports dir.
	Save bool `mapstructure:"save"`
}

// WatchConfig holds inbox watching configuration for serve mode.
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// InboxDir is watched for new video files.
	InboxDir string `mapstructure:"inbox_dir"`
	// Extensions lists the video file extensions picked up by the watcher.
	Extensions []string `mapstructure:"extensions"`
	// RescanCron is a 6-field cron expression for periodic inbox rescans.
	RescanCron string `mapstructure:"rescan_cron"`
	// Debounce is how long a file must be quiet before analysis starts.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DIGWATCH_ and use underscores for
// nesting. Example: DIGWATCH_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("digwatch")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/digwatch")
		v.AddConfigPath("$HOME/.digwatch")
	}

	// Environment variable settings
	v.SetEnvPrefix("DIGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "digwatch.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Workspace defaults
	v.SetDefault("workspace.base_dir", "./data")
	v.SetDefault("workspace.keep_frames", false)
	v.SetDefault("workspace.stale_max_age", defaultStaleRunAge)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Pipeline defaults
	v.SetDefault("pipeline.sampling_fps", defaultSamplingFPS)
	v.SetDefault("pipeline.max_frames", 0)
	v.SetDefault("pipeline.classify_mode", ClassifyModeSequential)
	v.SetDefault("pipeline.classify_concurrency", defaultClassifyConcurrency)
	v.SetDefault("pipeline.complete_cycle_seconds", defaultCompleteCycleSecs)
	v.SetDefault("pipeline.partial_cycle_seconds", defaultPartialCycleSecs)
	v.SetDefault("pipeline.total_deadline", defaultTotalDeadline)
	v.SetDefault("pipeline.stage_timeouts.extract_frames", defaultExtractTimeout)
	v.SetDefault("pipeline.stage_timeouts.classify_frames", defaultClassifyTimeout)
	v.SetDefault("pipeline.stage_timeouts.detect_actions", defaultDetectTimeout)
	v.SetDefault("pipeline.stage_timeouts.assemble_cycles", defaultAssembleTimeout)
	v.SetDefault("pipeline.stage_timeouts.enrich_telemetry", defaultTelemetryTimeout)
	v.SetDefault("pipeline.stage_timeouts.generate_report", defaultReportTimeout)

	// LLM defaults
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.vision_model", "gpt-4o")
	v.SetDefault("llm.text_model", "gpt-4o-mini")
	v.SetDefault("llm.request_timeout", defaultLLMTimeout)
	v.SetDefault("llm.vision_max_tokens", defaultVisionMaxTokens)
	v.SetDefault("llm.text_max_tokens", defaultTextMaxTokens)
	v.SetDefault("llm.vision_temperature", 0.1)
	v.SetDefault("llm.text_temperature", 0.7)
	v.SetDefault("llm.retry_attempts", defaultRetryAttempts)
	v.SetDefault("llm.retry_delay", defaultRetryDelay)
	v.SetDefault("llm.retry_backoff", defaultRetryBackoff)
	v.SetDefault("llm.breaker_threshold", defaultBreakerThreshold)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Telemetry defaults
	v.SetDefault("prompts.dir", "")

	v.SetDefault("telemetry.dir", "")

	// Report defaults
	v.SetDefault("report.template", "default")
	v.SetDefault("report.narrative", true)
	v.SetDefault("report.html", false)
	v.SetDefault("report.contact_sheet", false)
	v.SetDefault("report.save", true)

	// Watch defaults
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.inbox_dir", "")
	v.SetDefault("watch.extensions", []string{".mp4", ".mov", ".mkv", ".avi"})
	v.SetDefault("watch.rescan_cron", "0 */10 * * * *") // Every 10 minutes (6-field cron)
	v.SetDefault("watch.debounce", defaultWatchDebounce)
}

// validSamplingRates lists the sampling rates the extractor accepts.
var validSamplingRates = map[int]bool{1: true, 3: true, 5: true, 10: true}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Workspace validation
	if c.Workspace.BaseDir == "" {
		return fmt.Errorf("workspace.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text, console")
	}

	// Pipeline validation
	if !validSamplingRates[c.Pipeline.SamplingFPS] {
		return fmt.Errorf("pipeline.sampling_fps must be one of: 1, 3, 5, 10")
	}
	if c.Pipeline.MaxFrames < 0 {
		return fmt.Errorf("pipeline.max_frames must not be negative")
	}
	if c.Pipeline.ClassifyMode != ClassifyModeSequential && c.Pipeline.ClassifyMode != ClassifyModeParallel {
		return fmt.Errorf("pipeline.classify_mode must be one of: sequential, parallel")
	}
	if c.Pipeline.ClassifyConcurrency < 1 {
		return fmt.Errorf("pipeline.classify_concurrency must be at least 1")
	}
	if c.Pipeline.PartialCycleSeconds <= 0 {
		return fmt.Errorf("pipeline.partial_cycle_seconds must be positive")
	}
	if c.Pipeline.CompleteCycleSeconds < c.Pipeline.PartialCycleSeconds {
		return fmt.Errorf("pipeline.complete_cycle_seconds must not be below pipeline.partial_cycle_seconds")
	}

	// LLM validation
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.VisionModel == "" {
		return fmt.Errorf("llm.vision_model is required")
	}
	if c.LLM.RetryAttempts < 1 {
		return fmt.Errorf("llm.retry_attempts must be at least 1")
	}
	if c.LLM.RetryBackoff < 1 {
		return fmt.Errorf("llm.retry_backoff must be at least 1")
	}
	if c.LLM.BreakerThreshold < 1 {
		return fmt.Errorf("llm.breaker_threshold must be at least 1")
	}

	// Report validation
	if c.Report.Template == "" {
		return fmt.Errorf("report.template is required")
	}

	// Watch validation
	if c.Watch.Enabled && c.Watch.InboxDir == "" {
		return fmt.Errorf("watch.inbox_dir is required when watch.enabled is true")
	}

	return nil
}

// StageTimeoutsByID returns the per-stage soft timeouts keyed by stage ID.
func (c *PipelineConfig) StageTimeoutsByID() map[string]time.Duration {
	return map[string]time.Duration{
		StageExtractFrames:   c.StageTimeouts.ExtractFrames,
		StageClassifyFrames:  c.StageTimeouts.ClassifyFrames,
		StageDetectActions:   c.StageTimeouts.DetectActions,
		StageAssembleCycles:  c.StageTimeouts.AssembleCycles,
		StageEnrichTelemetry: c.StageTimeouts.EnrichTelemetry,
		StageGenerateReport:  c.StageTimeouts.GenerateReport,
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RunsPath returns the directory holding per-run work directories.
func (c *WorkspaceConfig) RunsPath() string {
	return fmt.Sprintf("%s/runs", c.BaseDir)
}

// ReportsPath returns the directory holding saved reports.
func (c *WorkspaceConfig) ReportsPath() string {
	return fmt.Sprintf("%s/reports", c.BaseDir)
}

// HasExtension reports whether path ends in one of the watched video
// extensions (case-insensitive).
func (c *WatchConfig) HasExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range c.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
