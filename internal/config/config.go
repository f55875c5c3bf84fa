// Package config provides configuration management for the dataset sync.
// Settings come from defaults, an optional JSON or YAML file and environment
// variables, applied in that order.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// CronParser parses schedules with a leading seconds field, as the
// schedule command's cron.WithSeconds does.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// dateLayout is the layout of start dates such as "2025-01-01".
const dateLayout = "2006-01-02"

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName string `json:"app_name" yaml:"app_name"`
	Version string `json:"version" yaml:"version"`

	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Dataset   DatasetConfig   `json:"dataset" yaml:"dataset"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Hub       HubConfig       `json:"hub" yaml:"hub"`
	Mirror     MirrorConfig     `json:"mirror" yaml:"mirror"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// ExchangeConfig configures the Binance client
type ExchangeConfig struct {
	BaseURL           string  `json:"base_url" yaml:"base_url" env:"BINANCE_BASE_URL"`
	APIKey            string  `json:"api_key" yaml:"api_key" env:"BINANCE_API_KEY"`
	APISecret         string  `json:"api_secret" yaml:"api_secret" env:"BINANCE_API_SECRET"`
	HTTPProxy         string  `json:"http_proxy" yaml:"http_proxy" env:"HTTP_PROXY"`
	HTTPSProxy        string  `json:"https_proxy" yaml:"https_proxy" env:"HTTPS_PROXY"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
	PageLimit         int     `json:"page_limit" yaml:"page_limit"`
	RequestTimeout    string  `json:"request_timeout" yaml:"request_timeout"`
}

// DatasetConfig describes the published dataset and what it contains
type DatasetConfig struct {
	ID          string   `json:"id" yaml:"id" env:"KAGGLE_DATASET"`
	Title       string   `json:"title" yaml:"title"`
	License     string   `json:"license" yaml:"license"`
	Symbol      string   `json:"symbol" yaml:"symbol" env:"SYMBOL"`
	Timeframes  []string `json:"timeframes" yaml:"timeframes" env:"TIMEFRAMES"`
	FilePattern string   `json:"file_pattern" yaml:"file_pattern"`
	StartDate   string   `json:"start_date" yaml:"start_date" env:"START_DATE"`
	// TimeframeStart overrides StartDate per timeframe.
	TimeframeStart map[string]string `json:"timeframe_start,omitempty" yaml:"timeframe_start,omitempty"`
}

// SyncConfig configures a pipeline run
type SyncConfig struct {
	StagingDir          string `json:"staging_dir" yaml:"staging_dir" env:"STAGING_DIR"`
	Retention           string `json:"retention" yaml:"retention" env:"RETENTION"`
	InterTimeframeDelay string `json:"inter_timeframe_delay" yaml:"inter_timeframe_delay"`
}

// RetryPolicyConfig is the file form of an errors.RetryPolicy
type RetryPolicyConfig struct {
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts"`
	BackoffStrategy string `json:"backoff_strategy" yaml:"backoff_strategy"` // fixed, linear, exponential
	InitialDelay    string `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay        string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Jitter          bool   `json:"jitter" yaml:"jitter"`
}

// RetryConfig configures the three retry loops of a run
type RetryConfig struct {
	Fetch        RetryPolicyConfig `json:"fetch" yaml:"fetch"`
	ResetCommand string            `json:"reset_command" yaml:"reset_command" env:"RESET_COMMAND"`
	ResetSettle  string            `json:"reset_settle" yaml:"reset_settle"`
	Global       RetryPolicyConfig `json:"global" yaml:"global"`
	// Publish retries until success; MaxAttempts above zero bounds it.
	Publish RetryPolicyConfig `json:"publish" yaml:"publish"`
}

// HubConfig selects and configures the dataset hosting platform
type HubConfig struct {
	Type      string       `json:"type" yaml:"type" env:"HUB_TYPE"` // "kaggle", "local"
	LocalRoot string       `json:"local_root" yaml:"local_root" env:"HUB_LOCAL_ROOT"`
	Kaggle    KaggleConfig `json:"kaggle" yaml:"kaggle"`
}

// KaggleConfig configures the Kaggle CLI
type KaggleConfig struct {
	Binary   string `json:"binary" yaml:"binary"`
	Username string `json:"username" yaml:"username" env:"KAGGLE_USERNAME"`
	Key      string `json:"key" yaml:"key" env:"KAGGLE_KEY"`
	DirMode  string `json:"dir_mode" yaml:"dir_mode"`
}

// MirrorConfig configures the optional DuckDB copy of merged datasets
type MirrorConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"MIRROR_ENABLED"`
	Path    string `json:"path" yaml:"path" env:"MIRROR_PATH"`
}

// ValidationConfig holds the data quality thresholds applied to merged
// datasets
type ValidationConfig struct {
	PriceSpikeThreshold float64 `json:"price_spike_threshold" yaml:"price_spike_threshold"` // relative move of the high, 5 = 500%
	VolumeSurgeFactor   float64 `json:"volume_surge_factor" yaml:"volume_surge_factor"`
	MaxAnomalies        int     `json:"max_anomalies" yaml:"max_anomalies"`
}

// MetricsConfig configures the metrics HTTP server of the schedule command
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"METRICS_ADDR"`
	Path    string `json:"path" yaml:"path"`
}

// SchedulerConfig configures the schedule command
type SchedulerConfig struct {
	Cron       string `json:"cron" yaml:"cron" env:"SCHEDULE_CRON"` // six fields, seconds first
	RunOnStart bool   `json:"run_on_start" yaml:"run_on_start"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`              // Log level: debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"` // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`                        // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"`                  // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age"`                          // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress"`                        // Compress old log files
	ContextFields map[string]string `json:"context_fields,omitempty" yaml:"context_fields,omitempty"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	getenv     func(string) string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigManager{
		configPath: configPath,
		getenv:     os.Getenv,
		logger:     logger,
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-dataset-sync",
		Version: "1.0.0",
		Exchange: ExchangeConfig{
			BaseURL:           "https://api.binance.com",
			RequestsPerSecond: 10,
			Burst:             1,
			PageLimit:         1000,
			RequestTimeout:    "30s",
		},
		Dataset: DatasetConfig{
			ID:          "novandraanugrah/ethereum-price-data-binance-api-2017now",
			Title:       "Ethereum Price Data Binance API (2017–Now)",
			License:     "CC BY 4.0",
			Symbol:      "ETHUSDT",
			Timeframes:  []string{"15m", "1h", "4h", "1d"},
			FilePattern: "eth_{tf}_data_2017_to_2025.csv",
			StartDate:   "2025-01-01",
		},
		Sync: SyncConfig{
			StagingDir:          "./staging",
			Retention:           "720h",
			InterTimeframeDelay: "1s",
		},
		Retry: RetryConfig{
			Fetch:       RetryPolicyConfig{MaxAttempts: 3, BackoffStrategy: "fixed", InitialDelay: "20s"},
			ResetSettle: "5s",
			Global:      RetryPolicyConfig{MaxAttempts: 10, BackoffStrategy: "fixed", InitialDelay: "60s"},
			Publish:     RetryPolicyConfig{MaxAttempts: 0, BackoffStrategy: "fixed", InitialDelay: "60s"},
		},
		Hub: HubConfig{
			Type:      "kaggle",
			LocalRoot: "./hub",
			Kaggle: KaggleConfig{
				Binary:  "kaggle",
				DirMode: "zip",
			},
		},
		Mirror: MirrorConfig{
			Enabled: false,
			Path:    "./staging/ohlcv.duckdb",
		},
		Validation: ValidationConfig{
			PriceSpikeThreshold: 5,
			VolumeSurgeFactor:   10,
			MaxAnomalies:        100,
		},
		Scheduler: SchedulerConfig{
			Cron: "0 0 0 * * *",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.InfoContext(ctx, "configuration loaded successfully",
		"config_path", cm.configPath,
		"symbol", config.Dataset.Symbol,
		"timeframes", strings.Join(config.Dataset.Timeframes, ","),
		"hub", config.Hub.Type,
		"mirror_enabled", config.Mirror.Enabled,
	)

	return config, nil
}

// loadFromFile decodes the config file over the defaults. A missing file
// leaves the defaults untouched. ${VAR} references are expanded first.
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cm.logger.Warn("config file not found, using defaults", "path", cm.configPath)
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), cm.getenv)

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal([]byte(expanded), config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return nil
}

// loadFromEnv applies environment variable overrides
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	setString := func(name string, dst *string) {
		if val := cm.getenv(name); val != "" {
			*dst = val
		}
	}

	// Exchange
	setString("BINANCE_BASE_URL", &config.Exchange.BaseURL)
	setString("BINANCE_API_KEY", &config.Exchange.APIKey)
	setString("BINANCE_API_SECRET", &config.Exchange.APISecret)
	setString("HTTP_PROXY", &config.Exchange.HTTPProxy)
	setString("HTTPS_PROXY", &config.Exchange.HTTPSProxy)

	// Dataset
	setString("KAGGLE_DATASET", &config.Dataset.ID)
	setString("SYMBOL", &config.Dataset.Symbol)
	setString("START_DATE", &config.Dataset.StartDate)
	if val := cm.getenv("TIMEFRAMES"); val != "" {
		config.Dataset.Timeframes = splitList(val)
	}

	// Sync and retry
	setString("STAGING_DIR", &config.Sync.StagingDir)
	setString("RETENTION", &config.Sync.Retention)
	setString("RESET_COMMAND", &config.Retry.ResetCommand)
	if val := cm.getenv("FETCH_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid FETCH_MAX_ATTEMPTS: %w", err)
		}
		config.Retry.Fetch.MaxAttempts = n
	}
	if val := cm.getenv("GLOBAL_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid GLOBAL_MAX_ATTEMPTS: %w", err)
		}
		config.Retry.Global.MaxAttempts = n
	}

	// Hub
	setString("HUB_TYPE", &config.Hub.Type)
	setString("HUB_LOCAL_ROOT", &config.Hub.LocalRoot)
	setString("KAGGLE_USERNAME", &config.Hub.Kaggle.Username)
	setString("KAGGLE_KEY", &config.Hub.Kaggle.Key)

	// Mirror
	if val := cm.getenv("MIRROR_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid MIRROR_ENABLED: %w", err)
		}
		config.Mirror.Enabled = enabled
	}
	setString("MIRROR_PATH", &config.Mirror.Path)

	// Scheduler and metrics
	setString("SCHEDULE_CRON", &config.Scheduler.Cron)
	if val := cm.getenv("METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED: %w", err)
		}
		config.Metrics.Enabled = enabled
	}
	setString("METRICS_ADDR", &config.Metrics.Addr)

	// Logging
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	return nil
}

// validateConfig validates the configuration
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	// Exchange
	if config.Exchange.BaseURL == "" {
		errors = append(errors, "exchange.base_url is required")
	}
	if config.Exchange.RequestsPerSecond <= 0 {
		errors = append(errors, "exchange.requests_per_second must be greater than 0")
	}
	if config.Exchange.PageLimit <= 0 || config.Exchange.PageLimit > 1000 {
		errors = append(errors, "exchange.page_limit must be between 1 and 1000")
	}
	if _, err := time.ParseDuration(config.Exchange.RequestTimeout); err != nil {
		errors = append(errors, fmt.Sprintf("exchange.request_timeout is invalid: %v", err))
	}

	// Dataset
	if config.Dataset.ID == "" {
		errors = append(errors, "dataset.id is required")
	} else if !strings.Contains(config.Dataset.ID, "/") {
		errors = append(errors, "dataset.id must have the form owner/slug")
	}
	if config.Dataset.Symbol == "" {
		errors = append(errors, "dataset.symbol is required")
	}
	if config.Dataset.FilePattern == "" {
		errors = append(errors, "dataset.file_pattern is required")
	} else if len(config.Dataset.Timeframes) > 1 && !strings.Contains(config.Dataset.FilePattern, "{tf}") {
		errors = append(errors, "dataset.file_pattern must contain {tf} when several timeframes are configured")
	}
	if len(config.Dataset.Timeframes) == 0 {
		errors = append(errors, "dataset.timeframes must not be empty")
	}
	seen := make(map[string]bool)
	for _, tf := range config.Dataset.Timeframes {
		if err := models.Interval(tf).Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("dataset.timeframes: %v", err))
		}
		if seen[tf] {
			errors = append(errors, fmt.Sprintf("dataset.timeframes: %s listed twice", tf))
		}
		seen[tf] = true
	}
	if _, err := parseDate(config.Dataset.StartDate); err != nil {
		errors = append(errors, fmt.Sprintf("dataset.start_date is invalid: %v", err))
	}
	for tf, start := range config.Dataset.TimeframeStart {
		if _, err := parseDate(start); err != nil {
			errors = append(errors, fmt.Sprintf("dataset.timeframe_start.%s is invalid: %v", tf, err))
		}
	}

	// Sync
	if config.Sync.StagingDir == "" {
		errors = append(errors, "sync.staging_dir is required")
	}
	if d, err := time.ParseDuration(config.Sync.Retention); err != nil {
		errors = append(errors, fmt.Sprintf("sync.retention is invalid: %v", err))
	} else if d < 0 {
		errors = append(errors, "sync.retention must not be negative")
	}
	if _, err := time.ParseDuration(config.Sync.InterTimeframeDelay); err != nil {
		errors = append(errors, fmt.Sprintf("sync.inter_timeframe_delay is invalid: %v", err))
	}

	// Retry
	if config.Retry.Fetch.MaxAttempts <= 0 {
		errors = append(errors, "retry.fetch.max_attempts must be greater than 0")
	}
	if config.Retry.Global.MaxAttempts <= 0 {
		errors = append(errors, "retry.global.max_attempts must be greater than 0")
	}
	for name, p := range map[string]RetryPolicyConfig{
		"fetch":   config.Retry.Fetch,
		"global":  config.Retry.Global,
		"publish": config.Retry.Publish,
	} {
		if _, err := p.Policy(); err != nil {
			errors = append(errors, fmt.Sprintf("retry.%s: %v", name, err))
		}
	}
	if _, err := time.ParseDuration(config.Retry.ResetSettle); err != nil {
		errors = append(errors, fmt.Sprintf("retry.reset_settle is invalid: %v", err))
	}

	// Hub
	switch config.Hub.Type {
	case "kaggle":
	case "local":
		if config.Hub.LocalRoot == "" {
			errors = append(errors, "hub.local_root is required for the local hub")
		}
	case "":
		errors = append(errors, "hub.type is required")
	default:
		errors = append(errors, fmt.Sprintf("hub.type %q is not supported", config.Hub.Type))
	}

	// Mirror
	if config.Mirror.Enabled && config.Mirror.Path == "" {
		errors = append(errors, "mirror.path is required when the mirror is enabled")
	}

	// Validation
	if config.Validation.PriceSpikeThreshold <= 0 {
		errors = append(errors, "validation.price_spike_threshold must be greater than 0")
	}
	if config.Validation.VolumeSurgeFactor <= 0 {
		errors = append(errors, "validation.volume_surge_factor must be greater than 0")
	}
	if config.Validation.MaxAnomalies < 0 {
		errors = append(errors, "validation.max_anomalies must not be negative")
	}

	// Scheduler and metrics
	if _, err := CronParser.Parse(config.Scheduler.Cron); err != nil {
		errors = append(errors, fmt.Sprintf("scheduler.cron is invalid: %v", err))
	}

	if config.Metrics.Enabled {
		if config.Metrics.Addr == "" {
			errors = append(errors, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(config.Metrics.Path, "/") {
			errors = append(errors, "metrics.path must start with /")
		}
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when output is 'file'")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to file, as YAML when the path
// ends in .yaml or .yml and as JSON otherwise.
func (cm *ConfigManager) SaveConfig(config *AppConfig) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// Policy converts the file form into an errors.RetryPolicy.
func (p RetryPolicyConfig) Policy() (errs.RetryPolicy, error) {
	initial, err := time.ParseDuration(p.InitialDelay)
	if err != nil {
		return errs.RetryPolicy{}, fmt.Errorf("initial_delay is invalid: %w", err)
	}
	maxDelay := initial
	if p.MaxDelay != "" {
		if maxDelay, err = time.ParseDuration(p.MaxDelay); err != nil {
			return errs.RetryPolicy{}, fmt.Errorf("max_delay is invalid: %w", err)
		}
	}
	policy := errs.RetryPolicy{
		MaxAttempts:  p.MaxAttempts,
		Strategy:     errs.BackoffStrategy(p.BackoffStrategy),
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Jitter:       p.Jitter,
	}
	if err := policy.Validate(); err != nil {
		return errs.RetryPolicy{}, err
	}
	return policy, nil
}

// Intervals returns the configured timeframes.
func (c *AppConfig) Intervals() []models.Interval {
	out := make([]models.Interval, len(c.Dataset.Timeframes))
	for i, tf := range c.Dataset.Timeframes {
		out[i] = models.Interval(tf)
	}
	return out
}

// StartTimes returns the configured start of every timeframe, with
// per-timeframe overrides applied.
func (c *AppConfig) StartTimes() (map[models.Interval]time.Time, error) {
	def, err := parseDate(c.Dataset.StartDate)
	if err != nil {
		return nil, fmt.Errorf("dataset.start_date: %w", err)
	}
	out := make(map[models.Interval]time.Time, len(c.Dataset.Timeframes))
	for _, tf := range c.Intervals() {
		out[tf] = def
		if s, ok := c.Dataset.TimeframeStart[string(tf)]; ok {
			t, err := parseDate(s)
			if err != nil {
				return nil, fmt.Errorf("dataset.timeframe_start.%s: %w", tf, err)
			}
			out[tf] = t
		}
	}
	return out, nil
}

// Durations holds the parsed duration settings of a config.
type Durations struct {
	RequestTimeout      time.Duration
	Retention           time.Duration
	InterTimeframeDelay time.Duration
	ResetSettle         time.Duration
}

// Durations parses every duration setting.
func (c *AppConfig) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"exchange.request_timeout", c.Exchange.RequestTimeout, &d.RequestTimeout},
		{"sync.retention", c.Sync.Retention, &d.Retention},
		{"sync.inter_timeframe_delay", c.Sync.InterTimeframeDelay, &d.InterTimeframeDelay},
		{"retry.reset_settle", c.Retry.ResetSettle, &d.ResetSettle},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return Durations{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}

// String returns a string representation of the config (without sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	sanitized.Exchange.APIKey = redact(c.Exchange.APIKey)
	sanitized.Exchange.APISecret = redact(c.Exchange.APISecret)
	sanitized.Hub.Kaggle.Key = redact(c.Hub.Kaggle.Key)

	data, _ := json.MarshalIndent(sanitized, "", "  ")
	return string(data)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// parseDate accepts "2006-01-02" or RFC 3339 and returns UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t.UTC(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
