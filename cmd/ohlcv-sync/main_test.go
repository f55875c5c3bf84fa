package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/config"
	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/gaps"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/hub"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/merger"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/pipeline"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/storage"
)

var jan1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testCLI(t *testing.T) *CLI {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sync.StagingDir = t.TempDir()
	return &CLI{
		config: cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func hourly(start time.Time, n int, closePrice string) models.Dataset {
	ds := make(models.Dataset, n)
	for i := range ds {
		ot := start.Add(time.Duration(i) * time.Hour)
		ds[i] = models.Kline{
			OpenTime:      ot,
			Open:          models.MustDecimal("3300"),
			High:          models.MustDecimal("3400"),
			Low:           models.MustDecimal("3200"),
			Close:         models.MustDecimal(closePrice),
			Volume:        models.MustDecimal("10"),
			CloseTime:     ot.Add(time.Hour - time.Millisecond),
			QuoteVolume:   models.MustDecimal("33500"),
			TradeCount:    sql.NullInt64{Int64: 100, Valid: true},
			TakerBuyBase:  models.MustDecimal("5"),
			TakerBuyQuote: models.MustDecimal("16750"),
			Ignore:        "0",
		}
	}
	return ds
}

func TestFlagParsing(t *testing.T) {
	t.Run("run", func(t *testing.T) {
		flags, err := parseRunFlags([]string{"--timeframes", "1h, 4h", "--once"})
		require.NoError(t, err)
		assert.Equal(t, []string{"1h", "4h"}, flags.Timeframes)
		assert.True(t, flags.Once)

		_, err = parseRunFlags([]string{"--timeframes", " , "})
		assert.Error(t, err)
	})

	t.Run("schedule", func(t *testing.T) {
		flags, err := parseScheduleFlags([]string{"--cron", "0 30 * * * *", "--run-on-start"})
		require.NoError(t, err)
		assert.Equal(t, "0 30 * * * *", flags.Cron)
		assert.True(t, flags.RunOnStart)
	})

	t.Run("fetch", func(t *testing.T) {
		flags, err := parseFetchFlags([]string{"-t", "15m", "-s", "2025-01-01", "-e", "2025-02-01", "-o", "w.parquet"})
		require.NoError(t, err)
		assert.Equal(t, &FetchFlags{Timeframe: "15m", Start: "2025-01-01", End: "2025-02-01", Out: "w.parquet"}, flags)
	})

	t.Run("query defaults", func(t *testing.T) {
		flags, err := parseQueryFlags([]string{"-t", "1d"})
		require.NoError(t, err)
		assert.Equal(t, 20, flags.Limit)
		assert.Equal(t, "table", flags.Format)
	})

	errorCases := []struct {
		name  string
		parse func() error
		want  string
	}{
		{"run unknown flag", func() error { _, err := parseRunFlags([]string{"--pair"}); return err }, "unknown flag: --pair"},
		{"schedule missing value", func() error { _, err := parseScheduleFlags([]string{"--cron"}); return err }, "--cron requires a value"},
		{"fetch missing timeframe", func() error { _, err := parseFetchFlags(nil); return err }, "--timeframe is required"},
		{"merge missing existing", func() error {
			_, err := parseMergeFlags([]string{"--incoming", "b.csv", "--out", "c.csv"})
			return err
		}, "--existing is required"},
		{"merge missing out", func() error {
			_, err := parseMergeFlags([]string{"--existing", "a.csv", "--incoming", "b.csv"})
			return err
		}, "--out is required"},
		{"gaps missing file", func() error { _, err := parseGapsFlags([]string{"-t", "1h"}); return err }, "--file is required"},
		{"query bad limit", func() error { _, err := parseQueryFlags([]string{"-t", "1h", "-l", "-3"}); return err }, "invalid limit value"},
		{"query bad format", func() error { _, err := parseQueryFlags([]string{"-t", "1h", "-f", "xml"}); return err }, "invalid format"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Equal(t, ExitUsageError, exitCode(err))
		})
	}
}

func TestExtractConfigPath(t *testing.T) {
	path, rest, err := extractConfigPath([]string{"--once", "--config", "a.yaml", "-t", "1h"})
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", path)
	assert.Equal(t, []string{"--once", "-t", "1h"}, rest)

	path, rest, err = extractConfigPath([]string{"--config=b.json"})
	require.NoError(t, err)
	assert.Equal(t, "b.json", path)
	assert.Empty(t, rest)

	_, _, err = extractConfigPath([]string{"-c"})
	assert.Error(t, err)

	assert.True(t, hasHelpFlag([]string{"-t", "1h", "-h"}))
	assert.False(t, hasHelpFlag([]string{"-t", "1h"}))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usagef("bad flag"), ExitUsageError},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), ExitInterrupt},
		{"global failure", &errs.GlobalPipelineFailure{Attempts: 10, Err: errors.New("boom")}, ExitPipelineFailure},
		{"fetch", &errs.FetchError{Window: "w", Attempts: 3, Err: errors.New("timeout")}, ExitConnectionErr},
		{"merge invariant", &errs.MergeInvariantViolation{Timeframe: "1h", Err: errors.New("dup")}, ExitDataError},
		{"storage", storage.NewStorageError("load", "a.csv", errors.New("bad")), ExitDataError},
		{"mirror disabled", errMirrorDisabled, ExitConfigError},
		{"other", errors.New("unknown"), ExitDataError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

func TestRunDispatch(t *testing.T) {
	assert.Equal(t, ExitUsageError, run(nil))
	assert.Equal(t, ExitSuccess, run([]string{"version"}))
	assert.Equal(t, ExitSuccess, run([]string{"help", "merge"}))
	assert.Equal(t, ExitUsageError, run([]string{"collect"}))
	assert.Equal(t, ExitSuccess, run([]string{"merge", "--help"}))
}

func TestPipelineConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dataset.TimeframeStart = map[string]string{"1d": "2017-08-17"}

	pc, err := pipelineConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, pc.Validate())

	assert.Equal(t, "ETHUSDT", pc.Symbol)
	assert.Equal(t, []models.Interval{"15m", "1h", "4h", "1d"}, pc.Timeframes)
	assert.Equal(t, jan1, pc.StartTimes[models.Interval1h])
	assert.Equal(t, time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC), pc.StartTimes[models.Interval1d])
	assert.Equal(t, 3, pc.FetchPolicy.MaxAttempts)
	assert.Equal(t, 20*time.Second, pc.FetchPolicy.InitialDelay)
	assert.Equal(t, 10, pc.GlobalPolicy.MaxAttempts)
	assert.Equal(t, time.Minute, pc.GlobalPolicy.InitialDelay)
	assert.Equal(t, 0, pc.PublishPolicy.MaxAttempts)
	assert.Equal(t, time.Second, pc.InterTimeframeDelay)

	cfg.Retry.Global.InitialDelay = "soon"
	_, err = pipelineConfig(cfg)
	assert.ErrorContains(t, err, "retry.global")
}

func TestNewHub(t *testing.T) {
	cli := testCLI(t)

	h, err := cli.newHub()
	require.NoError(t, err)
	assert.IsType(t, &hub.KaggleCLI{}, h)

	cli.config.Hub.Type = "local"
	cli.config.Hub.LocalRoot = t.TempDir()
	h, err = cli.newHub()
	require.NoError(t, err)
	assert.IsType(t, &hub.LocalHub{}, h)

	cli.config.Hub.Type = "s3"
	_, err = cli.newHub()
	assert.Error(t, err)
}

func TestNewOrchestrator(t *testing.T) {
	cli := testCLI(t)
	cli.config.Hub.Type = "local"
	cli.config.Hub.LocalRoot = t.TempDir()
	cli.config.Mirror.Enabled = true
	cli.config.Mirror.Path = ":memory:"
	defer cli.close()

	orch, err := cli.newOrchestrator(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, orch)
	assert.Len(t, cli.closers, 1)
	require.NotNil(t, cli.metrics)

	cli.config.Validation.PriceSpikeThreshold = 0
	_, err = cli.newOrchestrator(context.Background())
	assert.ErrorContains(t, err, "invalid validation config")
	cli.config.Validation = config.DefaultConfig().Validation

	cli.config.Retry.ResetCommand = "sudo systemctl reload tor"
	_, err = cli.newFetcher()
	assert.NoError(t, err)
}

func TestNewValidatorAndRecordRun(t *testing.T) {
	cli := testCLI(t)
	cli.config.Validation.VolumeSurgeFactor = 2.5

	v, err := cli.newValidator()
	require.NoError(t, err)
	assert.Equal(t, "2.5", v.Config().VolumeSurgeFactor.String())
	assert.Equal(t, 100, v.Config().MaxAnomalies)

	cli.recordRun(jan1, &pipeline.RunReport{RunID: "run-1"}, nil)
	snapshot := cli.collector().GetSnapshot()
	require.NotNil(t, snapshot.LastRun)
	assert.Equal(t, "run-1", snapshot.LastRun.RunID)
	assert.True(t, snapshot.LastRun.Succeeded)

	cli.recordRun(jan1, nil, &errs.GlobalPipelineFailure{Attempts: 10, Err: errors.New("timeout")})
	snapshot = cli.collector().GetSnapshot()
	assert.False(t, snapshot.LastRun.Succeeded)
	assert.NotEmpty(t, snapshot.LastRun.Error)
	assert.Empty(t, snapshot.LastRun.RunID)
}

func TestHandleMerge(t *testing.T) {
	cli := testCLI(t)
	ctx := context.Background()
	dir := t.TempDir()
	store := storage.NewDirStore(dir, nil)

	require.NoError(t, store.Save(ctx, "existing.csv", hourly(jan1, 4, "3350")))
	require.NoError(t, store.Save(ctx, "incoming.parquet", hourly(jan1.Add(2*time.Hour), 4, "9999")))

	err := cli.handleMerge(ctx, []string{
		"--existing", filepath.Join(dir, "existing.csv"),
		"--incoming", filepath.Join(dir, "incoming.parquet"),
		"--out", filepath.Join(dir, "merged.csv"),
	})
	require.NoError(t, err)

	merged, err := store.Load(ctx, "merged.csv")
	require.NoError(t, err)
	require.Len(t, merged, 6)
	for i, k := range merged {
		assert.Equal(t, jan1.Add(time.Duration(i)*time.Hour), k.OpenTime)
	}
	// Overlapping open times keep the existing record.
	assert.Equal(t, "3350", models.FormatNullDecimal(merged[3].Close))
	assert.Equal(t, "9999", models.FormatNullDecimal(merged[4].Close))

	err = cli.handleMerge(ctx, []string{
		"--existing", filepath.Join(dir, "missing.csv"),
		"--incoming", filepath.Join(dir, "incoming.parquet"),
		"--out", filepath.Join(dir, "merged.csv"),
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandleGapsAndQueryErrors(t *testing.T) {
	cli := testCLI(t)
	ctx := context.Background()
	dir := t.TempDir()

	ds := append(hourly(jan1, 2, "1"), hourly(jan1.Add(5*time.Hour), 1, "1")...)
	require.NoError(t, storage.NewDirStore(dir, nil).Save(ctx, "eth_1h.csv", ds))

	assert.NoError(t, cli.handleGaps(ctx, []string{"-f", filepath.Join(dir, "eth_1h.csv"), "-t", "1h"}))
	assert.Equal(t, ExitUsageError, exitCode(cli.handleGaps(ctx, []string{"-f", "x.csv", "-t", "7x"})))

	assert.ErrorIs(t, cli.handleQuery(ctx, []string{"-t", "1h"}), errMirrorDisabled)
}

func TestOutputFormats(t *testing.T) {
	ds := hourly(jan1, 2, "3350.123456789012")

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, outputTable(&buf, "ETHUSDT", models.Interval1h, ds))
		out := buf.String()
		assert.Contains(t, out, "2025-01-01 01:00")
		assert.Contains(t, out, "ETHUSDT")
		assert.Contains(t, out, "3350.1234567")
		assert.NotContains(t, out, "3350.123456789012")
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, outputCSV(&buf, ds))
		back, err := storage.CSVCodec{}.Decode(&buf)
		require.NoError(t, err)
		assert.True(t, back.Equal(ds))
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, outputJSON(&buf, ds))
		assert.Contains(t, buf.String(), `"open_time": "2025-01-01T00:00:00Z"`)
	})

	t.Run("gaps", func(t *testing.T) {
		var buf bytes.Buffer
		printGaps(&buf, "eth_1h.csv", &gaps.Report{Interval: models.Interval1h, Records: 3})
		assert.Contains(t, buf.String(), "No gaps found in eth_1h.csv")

		buf.Reset()
		gap := models.Gap{Symbol: "ETHUSDT", Interval: models.Interval1h, StartTime: jan1.Add(2 * time.Hour), EndTime: jan1.Add(5 * time.Hour)}
		printGaps(&buf, "eth_1h.csv", &gaps.Report{Interval: models.Interval1h, Gaps: []models.Gap{gap}, MissingKlines: 3, Largest: 3 * time.Hour})
		assert.Contains(t, buf.String(), "Found 1 gaps in eth_1h.csv (3 missing 1h klines")
		assert.Contains(t, buf.String(), "Missing: 3")
	})

	t.Run("report", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, &pipeline.RunReport{
			RunID:       "run-1",
			StartedAt:   jan1,
			FinishedAt:  jan1.Add(90 * time.Second),
			VersionNote: "Update January, 01 2025",
			Timeframes: []pipeline.TimeframeResult{
				{Timeframe: models.Interval1h, File: "eth_1h.csv", Existing: 10, Fetched: 3, Added: 2, Total: 12, Anomalies: 1, Merge: merger.Stats{}},
				{Timeframe: models.Interval4h, File: "eth_4h.csv", Existing: 5, NoData: true, Total: 5},
			},
		})
		out := buf.String()
		assert.Contains(t, out, `Published "Update January, 01 2025" (run run-1, 1m30s)`)
		assert.Contains(t, out, "no data")
		assert.Contains(t, out, "Anomalies")
		assert.Contains(t, out, "eth_1h.csv")
	})
}
