package config

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

func newTestManager(path string, env map[string]string) *ConfigManager {
	cm := NewConfigManager(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	cm.getenv = func(name string) string { return env[name] }
	return cm
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "ohlcv-dataset-sync", config.AppName)
	assert.Equal(t, "novandraanugrah/ethereum-price-data-binance-api-2017now", config.Dataset.ID)
	assert.Equal(t, "ETHUSDT", config.Dataset.Symbol)
	assert.Equal(t, []string{"15m", "1h", "4h", "1d"}, config.Dataset.Timeframes)
	assert.Equal(t, "eth_{tf}_data_2017_to_2025.csv", config.Dataset.FilePattern)
	assert.Equal(t, "720h", config.Sync.Retention)
	assert.Equal(t, 3, config.Retry.Fetch.MaxAttempts)
	assert.Equal(t, 10, config.Retry.Global.MaxAttempts)
	assert.Equal(t, 0, config.Retry.Publish.MaxAttempts)
	assert.Equal(t, "kaggle", config.Hub.Type)
	assert.False(t, config.Mirror.Enabled)
	assert.Equal(t, 5.0, config.Validation.PriceSpikeThreshold)
	assert.Equal(t, 10.0, config.Validation.VolumeSurgeFactor)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, ":9090", config.Metrics.Addr)
	assert.Equal(t, "info", config.Logging.Level)

	cm := newTestManager("", nil)
	require.NoError(t, cm.validateConfig(config))
}

func TestConfigValidation(t *testing.T) {
	cm := newTestManager("", nil)

	tests := []struct {
		name     string
		mutate   func(c *AppConfig)
		expected string
	}{
		{"missing dataset id", func(c *AppConfig) { c.Dataset.ID = "" }, "dataset.id is required"},
		{"dataset id without owner", func(c *AppConfig) { c.Dataset.ID = "slug" }, "dataset.id must have the form owner/slug"},
		{"missing symbol", func(c *AppConfig) { c.Dataset.Symbol = "" }, "dataset.symbol is required"},
		{"no timeframes", func(c *AppConfig) { c.Dataset.Timeframes = nil }, "dataset.timeframes must not be empty"},
		{"duplicate timeframe", func(c *AppConfig) { c.Dataset.Timeframes = []string{"1h", "1h"} }, "1h listed twice"},
		{"pattern without placeholder", func(c *AppConfig) { c.Dataset.FilePattern = "eth.csv" }, "must contain {tf}"},
		{"bad start date", func(c *AppConfig) { c.Dataset.StartDate = "01/01/2025" }, "dataset.start_date is invalid"},
		{"bad timeframe start", func(c *AppConfig) { c.Dataset.TimeframeStart = map[string]string{"1h": "soon"} }, "dataset.timeframe_start.1h is invalid"},
		{"bad retention", func(c *AppConfig) { c.Sync.Retention = "30 days" }, "sync.retention is invalid"},
		{"negative retention", func(c *AppConfig) { c.Sync.Retention = "-1h" }, "sync.retention must not be negative"},
		{"zero fetch attempts", func(c *AppConfig) { c.Retry.Fetch.MaxAttempts = 0 }, "retry.fetch.max_attempts must be greater than 0"},
		{"zero global attempts", func(c *AppConfig) { c.Retry.Global.MaxAttempts = 0 }, "retry.global.max_attempts must be greater than 0"},
		{"unknown backoff", func(c *AppConfig) { c.Retry.Publish.BackoffStrategy = "random" }, "retry.publish: unknown backoff strategy"},
		{"bad delay", func(c *AppConfig) { c.Retry.Global.InitialDelay = "soon" }, "retry.global: initial_delay is invalid"},
		{"unknown hub", func(c *AppConfig) { c.Hub.Type = "s3" }, `hub.type "s3" is not supported`},
		{"local hub without root", func(c *AppConfig) { c.Hub.Type = "local"; c.Hub.LocalRoot = "" }, "hub.local_root is required"},
		{"mirror without path", func(c *AppConfig) { c.Mirror.Enabled = true; c.Mirror.Path = "" }, "mirror.path is required"},
		{"zero spike threshold", func(c *AppConfig) { c.Validation.PriceSpikeThreshold = 0 }, "validation.price_spike_threshold must be greater than 0"},
		{"negative surge factor", func(c *AppConfig) { c.Validation.VolumeSurgeFactor = -2 }, "validation.volume_surge_factor must be greater than 0"},
		{"negative max anomalies", func(c *AppConfig) { c.Validation.MaxAnomalies = -1 }, "validation.max_anomalies must not be negative"},
		{"metrics without addr", func(c *AppConfig) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, "metrics.addr is required"},
		{"metrics path without slash", func(c *AppConfig) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path must start with /"},
		{"bad cron", func(c *AppConfig) { c.Scheduler.Cron = "every day" }, "scheduler.cron is invalid"},
		{"page limit too large", func(c *AppConfig) { c.Exchange.PageLimit = 5000 }, "exchange.page_limit must be between 1 and 1000"},
		{"invalid log level", func(c *AppConfig) { c.Logging.Level = "verbose" }, "logging.level must be one of"},
		{"invalid log format", func(c *AppConfig) { c.Logging.Format = "xml" }, "logging.format must be one of"},
		{"file output without path", func(c *AppConfig) { c.Logging.Output = "file" }, "logging.file_path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := cm.validateConfig(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}

	t.Run("errors accumulate", func(t *testing.T) {
		config := DefaultConfig()
		config.Dataset.Symbol = ""
		config.Logging.Level = "verbose"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation errors:\n- ")
		assert.Contains(t, err.Error(), "dataset.symbol is required")
		assert.Contains(t, err.Error(), "logging.level must be one of")
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		raw := map[string]any{
			"dataset": map[string]any{
				"symbol":     "BTCUSDT",
				"timeframes": []string{"1h"},
			},
			"retry": map[string]any{
				"global": map[string]any{"max_attempts": 2, "initial_delay": "5s"},
			},
		}
		data, err := json.Marshal(raw)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		config, err := newTestManager(path, nil).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", config.Dataset.Symbol)
		assert.Equal(t, []string{"1h"}, config.Dataset.Timeframes)
		assert.Equal(t, 2, config.Retry.Global.MaxAttempts)
		assert.Equal(t, "5s", config.Retry.Global.InitialDelay)
		// Untouched fields keep their defaults.
		assert.Equal(t, "eth_{tf}_data_2017_to_2025.csv", config.Dataset.FilePattern)
		assert.Equal(t, 3, config.Retry.Fetch.MaxAttempts)
	})

	t.Run("yaml with env expansion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yamlDoc := `
dataset:
  id: someone/eth-klines
  timeframe_start:
    1d: "2017-08-17"
hub:
  type: local
  local_root: ${HUB_DIR}
mirror:
  enabled: true
  path: ${HUB_DIR}/mirror.duckdb
`
		require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

		config, err := newTestManager(path, map[string]string{"HUB_DIR": "/srv/hub"}).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "someone/eth-klines", config.Dataset.ID)
		assert.Equal(t, "local", config.Hub.Type)
		assert.Equal(t, "/srv/hub", config.Hub.LocalRoot)
		assert.True(t, config.Mirror.Enabled)
		assert.Equal(t, "/srv/hub/mirror.duckdb", config.Mirror.Path)
		assert.Equal(t, "2017-08-17", config.Dataset.TimeframeStart["1d"])
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		config, err := newTestManager(filepath.Join(t.TempDir(), "absent.json"), nil).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Dataset, config.Dataset)
	})

	t.Run("malformed file fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := newTestManager(path, nil).LoadConfig(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse JSON config")
	})
}

func TestLoadConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"BINANCE_API_KEY":     "key",
		"BINANCE_API_SECRET":  "secret",
		"HTTP_PROXY":          "socks5://127.0.0.1:9050",
		"HTTPS_PROXY":         "socks5://127.0.0.1:9050",
		"KAGGLE_DATASET":      "someone/other",
		"KAGGLE_USERNAME":     "someone",
		"KAGGLE_KEY":          "kaggle-key",
		"TIMEFRAMES":          "1h, 4h",
		"GLOBAL_MAX_ATTEMPTS": "4",
		"RESET_COMMAND":       "sudo service tor restart",
		"MIRROR_ENABLED":      "true",
		"METRICS_ENABLED":     "1",
		"METRICS_ADDR":        "127.0.0.1:9100",
		"LOG_LEVEL":           "debug",
	}

	config, err := newTestManager("", env).LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "key", config.Exchange.APIKey)
	assert.Equal(t, "secret", config.Exchange.APISecret)
	assert.Equal(t, "socks5://127.0.0.1:9050", config.Exchange.HTTPProxy)
	assert.Equal(t, "socks5://127.0.0.1:9050", config.Exchange.HTTPSProxy)
	assert.Equal(t, "someone/other", config.Dataset.ID)
	assert.Equal(t, "someone", config.Hub.Kaggle.Username)
	assert.Equal(t, "kaggle-key", config.Hub.Kaggle.Key)
	assert.Equal(t, []string{"1h", "4h"}, config.Dataset.Timeframes)
	assert.Equal(t, 4, config.Retry.Global.MaxAttempts)
	assert.Equal(t, "sudo service tor restart", config.Retry.ResetCommand)
	assert.True(t, config.Mirror.Enabled)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", config.Metrics.Addr)
	assert.Equal(t, "debug", config.Logging.Level)

	t.Run("invalid numbers fail", func(t *testing.T) {
		_, err := newTestManager("", map[string]string{"FETCH_MAX_ATTEMPTS": "three"}).LoadConfig(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid FETCH_MAX_ATTEMPTS")
	})

	t.Run("invalid booleans fail", func(t *testing.T) {
		_, err := newTestManager("", map[string]string{"METRICS_ENABLED": "sometimes"}).LoadConfig(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid METRICS_ENABLED")
	})
}

func TestRetryPolicyConfig_Policy(t *testing.T) {
	policy, err := DefaultConfig().Retry.Fetch.Policy()
	require.NoError(t, err)
	assert.Equal(t, errs.FixedPolicy(3, 20*time.Second), policy)

	publish, err := DefaultConfig().Retry.Publish.Policy()
	require.NoError(t, err)
	assert.True(t, publish.Unbounded())
	assert.Equal(t, time.Minute, publish.InitialDelay)

	exp, err := RetryPolicyConfig{MaxAttempts: 5, BackoffStrategy: "exponential", InitialDelay: "1s", MaxDelay: "30s"}.Policy()
	require.NoError(t, err)
	assert.Equal(t, errs.BackoffExponential, exp.Strategy)
	assert.Equal(t, 30*time.Second, exp.MaxDelay)
}

func TestAppConfigAccessors(t *testing.T) {
	config := DefaultConfig()
	config.Dataset.TimeframeStart = map[string]string{"1d": "2017-08-17T00:00:00Z"}

	assert.Equal(t, []models.Interval{models.Interval15m, models.Interval1h, models.Interval4h, models.Interval1d}, config.Intervals())

	starts, err := config.StartTimes()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), starts[models.Interval1h])
	assert.Equal(t, time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC), starts[models.Interval1d])

	d, err := config.Durations()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d.Retention)
	assert.Equal(t, time.Second, d.InterTimeframeDelay)
	assert.Equal(t, 5*time.Second, d.ResetSettle)
	assert.Equal(t, 30*time.Second, d.RequestTimeout)
}

func TestSaveConfigAndString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cm := newTestManager(path, nil)

	config := DefaultConfig()
	config.Exchange.APISecret = "super-secret"
	config.Hub.Kaggle.Key = "kaggle-key"
	require.NoError(t, cm.SaveConfig(config))

	loaded, err := newTestManager(path, nil).LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "super-secret", loaded.Exchange.APISecret)
	assert.Equal(t, config.Retry, loaded.Retry)

	rendered := config.String()
	assert.NotContains(t, rendered, "super-secret")
	assert.NotContains(t, rendered, "kaggle-key")
	assert.Contains(t, rendered, `"api_secret": "***"`)

	assert.Error(t, newTestManager("", nil).SaveConfig(config))
}
