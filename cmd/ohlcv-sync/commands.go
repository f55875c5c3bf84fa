package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/config"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/gaps"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/merger"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/normalizer"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/staging"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/storage"
)

// errMirrorDisabled is returned by commands that read the DuckDB mirror when
// it is not enabled.
var errMirrorDisabled = errors.New("the DuckDB mirror is disabled; set mirror.enabled or MIRROR_ENABLED")

// handleRun handles the 'run' command: one sync with global retries
func (cli *CLI) handleRun(ctx context.Context, args []string) error {
	flags, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	if len(flags.Timeframes) > 0 {
		cli.config.Dataset.Timeframes = flags.Timeframes
	}

	orch, err := cli.newOrchestrator(ctx)
	if err != nil {
		return err
	}

	cli.logger.Info("Starting sync",
		"dataset", cli.config.Dataset.ID,
		"symbol", cli.config.Dataset.Symbol,
		"timeframes", cli.config.Dataset.Timeframes,
		"once", flags.Once)

	run := orch.Run
	if flags.Once {
		run = orch.RunOnce
	}
	started := time.Now().UTC()
	report, err := run(ctx)
	cli.recordRun(started, report, err)
	if err != nil {
		return err
	}

	printReport(os.Stdout, report)
	return nil
}

// handleSchedule handles the 'schedule' command: cron driven syncs until
// interrupted
func (cli *CLI) handleSchedule(ctx context.Context, args []string) error {
	flags, err := parseScheduleFlags(args)
	if err != nil {
		return err
	}

	spec := cli.config.Scheduler.Cron
	if flags.Cron != "" {
		spec = flags.Cron
	}
	schedule, err := config.CronParser.Parse(spec)
	if err != nil {
		return usagef("invalid cron spec %q: %v", spec, err)
	}

	orch, err := cli.newOrchestrator(ctx)
	if err != nil {
		return err
	}

	cronLog := cronLogger{logger: cli.component("scheduler")}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if cli.config.Metrics.Enabled {
		go func() {
			if err := cli.collector().Serve(ctx, cli.config.Metrics.Addr, cli.config.Metrics.Path); err != nil {
				cli.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	job := func() {
		started := time.Now().UTC()
		report, err := orch.Run(ctx)
		cli.recordRun(started, report, err)
		if err != nil {
			cli.logger.Error("scheduled sync failed", "error", err, "exit_code", exitCode(err))
			return
		}
		cli.logger.Info("scheduled sync completed",
			"run_id", report.RunID,
			"version_note", report.VersionNote,
			"duration", report.FinishedAt.Sub(report.StartedAt))
	}

	entry, err := c.AddFunc(spec, job)
	if err != nil {
		return usagef("invalid cron spec %q: %v", spec, err)
	}

	if flags.RunOnStart || cli.config.Scheduler.RunOnStart {
		// Runs to completion before the first scheduled fire.
		c.Entry(entry).WrappedJob.Run()
	}

	c.Start()
	next := schedule.Next(time.Now().UTC())
	cli.logger.Info("Scheduler started", "cron", spec, "next_run", next)
	fmt.Printf("Scheduler running with %q (next run %s)\n", spec, next.Format(time.RFC3339))
	fmt.Println("Press Ctrl+C to stop gracefully")

	<-ctx.Done()
	cli.logger.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// handleFetch handles the 'fetch' command: fetch and normalize one window
// without touching the hosted dataset
func (cli *CLI) handleFetch(ctx context.Context, args []string) error {
	flags, err := parseFetchFlags(args)
	if err != nil {
		return err
	}

	tf := models.Interval(flags.Timeframe)
	if err := tf.Validate(); err != nil {
		return usagef("invalid timeframe: %v", err)
	}

	window := models.FetchWindow{Symbol: cli.config.Dataset.Symbol, Interval: tf, End: time.Now().UTC()}
	if flags.Start != "" {
		if window.Start, err = parseTime(flags.Start); err != nil {
			return usagef("invalid --start: %v", err)
		}
	} else {
		starts, err := cli.config.StartTimes()
		if err != nil {
			return err
		}
		window.Start = starts[tf]
		if window.Start.IsZero() {
			return usagef("--start is required for timeframe %s", tf)
		}
	}
	if flags.End != "" {
		if window.End, err = parseTime(flags.End); err != nil {
			return usagef("invalid --end: %v", err)
		}
	}

	out := flags.Out
	if out == "" {
		out = filepath.Join(staging.NewLayout(cli.config.Sync.StagingDir, nil).NewData, staging.WindowFileName(tf, ""))
	}

	policy, err := cli.config.Retry.Fetch.Policy()
	if err != nil {
		return err
	}
	f, err := cli.newFetcher()
	if err != nil {
		return err
	}

	cli.logger.Info("Fetching window", "window", window.String(), "out", out)
	raw, err := f.Fetch(ctx, window, policy)
	if err != nil {
		return err
	}
	ds, stats := normalizer.New(cli.baseLogger()).NormalizeAll(raw)

	if err := cli.saveFile(ctx, out, ds); err != nil {
		return err
	}
	fmt.Printf("Fetched %d rows for %s, wrote %d klines to %s (duplicates: %d, dropped: %d)\n",
		stats.Input, window.String(), stats.Output, out, stats.Duplicates, stats.MissingKey)
	return nil
}

// handleMerge handles the 'merge' command: merge two files offline
func (cli *CLI) handleMerge(ctx context.Context, args []string) error {
	flags, err := parseMergeFlags(args)
	if err != nil {
		return err
	}

	durations, err := cli.config.Durations()
	if err != nil {
		return err
	}

	existing, err := cli.loadFile(ctx, flags.Existing)
	if err != nil {
		return err
	}
	incoming, err := cli.loadFile(ctx, flags.Incoming)
	if err != nil {
		return err
	}

	merged, stats, err := merger.New(durations.Retention, nil).Merge(existing, incoming)
	if err != nil {
		return err
	}
	if err := cli.saveFile(ctx, flags.Out, merged); err != nil {
		return err
	}

	cli.logger.Info("Merged datasets",
		"existing", stats.Existing,
		"incoming", stats.Incoming,
		"duplicates_removed", stats.DuplicatesRemoved,
		"added", stats.Added,
		"total", stats.Total)
	fmt.Printf("Merged %d existing and %d incoming klines into %s: %d added, %d duplicates removed, %d total\n",
		stats.Existing, stats.Incoming, flags.Out, stats.Added, stats.DuplicatesRemoved, stats.Total)
	return nil
}

// handleGaps handles the 'gaps' command: report missing klines in a file
func (cli *CLI) handleGaps(ctx context.Context, args []string) error {
	flags, err := parseGapsFlags(args)
	if err != nil {
		return err
	}

	tf := models.Interval(flags.Timeframe)
	if _, ok := tf.Duration(); !ok {
		return usagef("unknown timeframe: %s", tf)
	}

	ds, err := cli.loadFile(ctx, flags.File)
	if err != nil {
		return err
	}
	report, err := gaps.NewGapDetector(cli.baseLogger()).Summarize(ds, cli.config.Dataset.Symbol, tf)
	if err != nil {
		return fmt.Errorf("gap detection failed: %w", err)
	}

	printGaps(os.Stdout, flags.File, report)
	return nil
}

// handleQuery handles the 'query' command: show mirrored klines
func (cli *CLI) handleQuery(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args)
	if err != nil {
		return err
	}

	mirror, err := cli.openMirror(ctx)
	if err != nil {
		return err
	}
	if mirror == nil {
		return errMirrorDisabled
	}

	tf := models.Interval(flags.Timeframe)
	symbol := cli.config.Dataset.Symbol
	start := time.Now()
	ds, err := mirror.Load(ctx, symbol, tf)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	cli.logger.Info("Querying mirror", "symbol", symbol, "timeframe", tf, "found", len(ds), "query_time", time.Since(start))
	if len(ds) == 0 {
		fmt.Printf("No klines mirrored for %s %s.\n", symbol, tf)
		return nil
	}
	if flags.Limit > 0 && len(ds) > flags.Limit {
		ds = ds[len(ds)-flags.Limit:]
	}

	switch flags.Format {
	case "json":
		return outputJSON(os.Stdout, ds)
	case "csv":
		return outputCSV(os.Stdout, ds)
	default:
		return outputTable(os.Stdout, symbol, tf, ds)
	}
}

// cronLogger adapts a slog logger to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// File helpers

// fileStore opens the directory of path as a store; the codec follows the
// file extension.
func (cli *CLI) fileStore(path string) (*storage.DirStore, string) {
	return storage.NewDirStore(filepath.Dir(path), cli.baseLogger()), filepath.Base(path)
}

func (cli *CLI) loadFile(ctx context.Context, path string) (models.Dataset, error) {
	store, name := cli.fileStore(path)
	return store.Load(ctx, name)
}

func (cli *CLI) saveFile(ctx context.Context, path string, ds models.Dataset) error {
	store, name := cli.fileStore(path)
	return store.Save(ctx, name, ds)
}

// parseTime accepts a YYYY-MM-DD date or an RFC 3339 timestamp, in UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("use YYYY-MM-DD or RFC 3339: %w", err)
	}
	return t.UTC(), nil
}
