// Package pipeline runs the end to end sync: download the hosted dataset,
// fetch and merge every timeframe, then publish a new version.
//
// A run is retried as a whole by a bounded outer loop. Publishing has its own
// loop that keeps trying until it succeeds or the context ends, and the
// staging folders are only cleaned once an upload went through.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/fetcher"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/gaps"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/hub"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/logger"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/merger"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/normalizer"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/staging"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/storage"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/validator"
)

// Recorder receives run metrics. *metrics.MetricsCollector implements it.
type Recorder interface {
	AddCounter(name string, delta float64, description string, labels map[string]string)
	RecordGauge(name string, value float64, description string, labels map[string]string)
	RecordDuration(name string, duration time.Duration, description string, labels map[string]string)
}

type nopRecorder struct{}

func (nopRecorder) AddCounter(string, float64, string, map[string]string) {}

func (nopRecorder) RecordGauge(string, float64, string, map[string]string) {}

func (nopRecorder) RecordDuration(string, time.Duration, string, map[string]string) {}

// Config holds the run settings of an Orchestrator.
type Config struct {
	Symbol     string
	Timeframes []models.Interval
	// StartTimes is the earliest open time fetched per timeframe when the
	// existing dataset has nothing later.
	StartTimes   map[models.Interval]time.Time
	DefaultStart time.Time

	DatasetID   string
	Title       string
	License     string
	FilePattern string

	FetchPolicy   errs.RetryPolicy
	GlobalPolicy  errs.RetryPolicy
	PublishPolicy errs.RetryPolicy

	InterTimeframeDelay time.Duration
}

// Validate checks the settings an Orchestrator cannot run without.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe is required")
	}
	if c.DatasetID == "" {
		return fmt.Errorf("dataset id is required")
	}
	if c.FilePattern == "" {
		return fmt.Errorf("file pattern is required")
	}
	for _, tf := range c.Timeframes {
		if err := tf.Validate(); err != nil {
			return err
		}
		if c.startFor(tf).IsZero() {
			return fmt.Errorf("no start time for timeframe %s", tf)
		}
	}
	return nil
}

func (c Config) startFor(tf models.Interval) time.Time {
	if t, ok := c.StartTimes[tf]; ok && !t.IsZero() {
		return t
	}
	return c.DefaultStart
}

// Deps are the collaborators of an Orchestrator. Hub and Fetcher are
// required; the others fall back to defaults. A nil Mirror disables
// mirroring.
type Deps struct {
	Hub        hub.Hub
	Fetcher    fetcher.Fetcher
	Normalizer *normalizer.Normalizer
	Merger     *merger.Merger
	Gaps       gaps.GapDetector
	Validator  validator.DatasetValidator
	Mirror     storage.Mirror
	Metrics    Recorder

	// Windows receives every fetched window. It defaults to files in the
	// layout's new data folder.
	Windows  storage.DatasetStore
	Sleeper  errs.Sleeper
	Clock    func() time.Time
	NewRunID func() string
}

// TimeframeResult describes the sync of one timeframe.
type TimeframeResult struct {
	Timeframe models.Interval    `json:"timeframe"`
	File      string             `json:"file"`
	Window    models.FetchWindow `json:"window"`
	Existing  int                `json:"existing"`
	Fetched   int                `json:"fetched"`
	Added     int                `json:"added"`
	Total     int                `json:"total"`
	NoData    bool               `json:"no_data"`
	Gaps      int                `json:"gaps"`
	Anomalies int                `json:"anomalies"`
	Merge     merger.Stats       `json:"merge"`
}

// RunReport describes one successful run.
type RunReport struct {
	RunID       string            `json:"run_id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	VersionNote string            `json:"version_note"`
	Timeframes  []TimeframeResult `json:"timeframes"`
}

// Orchestrator drives sync runs.
type Orchestrator struct {
	config     Config
	layout     *staging.Layout
	hub        hub.Hub
	fetcher    fetcher.Fetcher
	normalizer *normalizer.Normalizer
	merger     *merger.Merger
	gaps       gaps.GapDetector
	validator  validator.DatasetValidator
	mirror     storage.Mirror
	metrics    Recorder
	sleeper    errs.Sleeper
	now        func() time.Time
	newRunID   func() string
	logger     *slog.Logger

	data    *storage.DirStore
	newData storage.DatasetWriter
	merged  *storage.DirStore
}

// New creates an Orchestrator working in layout.
func New(cfg Config, layout *staging.Layout, deps Deps, log *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if layout == nil {
		return nil, fmt.Errorf("staging layout is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalizer.New(log)
	}
	if deps.Merger == nil {
		deps.Merger = merger.New(merger.DefaultRetention, nil)
	}
	if deps.Gaps == nil {
		deps.Gaps = gaps.NewGapDetector(log)
	}
	if deps.Validator == nil {
		deps.Validator = validator.NewOHLCVValidator(log)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Sleeper == nil {
		deps.Sleeper = errs.TimerSleeper{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Windows == nil {
		deps.Windows = storage.NewDirStore(layout.NewData, log)
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}

	return &Orchestrator{
		config:     cfg,
		layout:     layout,
		hub:        deps.Hub,
		fetcher:    deps.Fetcher,
		normalizer: deps.Normalizer,
		merger:     deps.Merger,
		gaps:       deps.Gaps,
		validator:  deps.Validator,
		mirror:     deps.Mirror,
		metrics:    deps.Metrics,
		sleeper:    deps.Sleeper,
		now:        deps.Clock,
		newRunID:   deps.NewRunID,
		logger:     log.With("component", "pipeline"),
		data:       storage.NewDirStore(layout.Data, log),
		newData:    deps.Windows,
		merged:     storage.NewDirStore(layout.Merged, log),
	}, nil
}

// Run executes sync runs until one succeeds or the global attempt budget is
// spent, in which case the error is *errors.GlobalPipelineFailure carrying
// the last cause. Cancellation ends the loop with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	var report *RunReport
	retrier := &errs.Retrier{
		Policy:      o.config.GlobalPolicy,
		Sleeper:     o.sleeper,
		Logger:      o.logger,
		ShouldRetry: func(error) bool { return true },
	}

	err := retrier.Do(ctx, "pipeline run", func(ctx context.Context, attempt int) error {
		o.metrics.AddCounter("run_attempts_total", 1, "Sync run attempts", nil)
		r, err := o.RunOnce(logger.WithAttempt(ctx, attempt))
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		var exhausted *errs.ExhaustedError
		if errors.As(err, &exhausted) {
			o.logger.ErrorContext(ctx, "pipeline failed, retry budget exhausted",
				"attempts", exhausted.Attempts,
				"error", exhausted.Err)
			o.metrics.AddCounter("runs_failed_total", 1, "Runs that exhausted the retry budget", nil)
			return nil, &errs.GlobalPipelineFailure{Attempts: exhausted.Attempts, Err: exhausted.Err}
		}
		return nil, err
	}
	o.metrics.AddCounter("runs_succeeded_total", 1, "Runs that published a new version", nil)
	o.metrics.RecordDuration("run_duration_ms", report.FinishedAt.Sub(report.StartedAt), "Duration of the successful run", nil)
	return report, nil
}

// RunOnce performs a single run: prepare staging, download, sync every
// timeframe in order, publish, clean up.
func (o *Orchestrator) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: o.newRunID(), StartedAt: o.now().UTC()}
	ctx = logger.WithRunID(ctx, report.RunID)
	ctx = logger.WithDataset(ctx, o.config.DatasetID)
	ctx = logger.WithSymbol(ctx, o.config.Symbol)

	o.logger.InfoContext(ctx, "starting sync run", "timeframes", len(o.config.Timeframes))

	if err := o.layout.Prepare(); err != nil {
		return nil, err
	}

	if err := logger.TimedOperation(ctx, o.logger, "download", func(ctx context.Context) error {
		return o.hub.Download(ctx, o.config.DatasetID, o.layout.Data)
	}); err != nil {
		return nil, err
	}

	for i, tf := range o.config.Timeframes {
		if i > 0 && o.config.InterTimeframeDelay > 0 {
			if err := o.sleeper.Sleep(ctx, o.config.InterTimeframeDelay); err != nil {
				return nil, err
			}
		}

		result, err := o.SyncTimeframe(logger.WithTimeframe(ctx, string(tf)), report.RunID, tf)
		if err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tf, err)
		}
		report.Timeframes = append(report.Timeframes, result)
	}

	report.VersionNote = staging.VersionNote(o.now())
	if err := o.Publish(ctx, report.VersionNote); err != nil {
		return nil, err
	}

	if err := o.layout.Clean(); err != nil {
		o.logger.WarnContext(ctx, "failed to clean staging folders after publish", "error", err)
	}

	report.FinishedAt = o.now().UTC()
	o.logger.InfoContext(ctx, "sync run completed",
		"version_note", report.VersionNote,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// SyncTimeframe loads the downloaded dataset of tf, fetches the records
// since its last open time, merges them and stages the result. A fetch that
// returns nothing stages the existing dataset unchanged.
func (o *Orchestrator) SyncTimeframe(ctx context.Context, runID string, tf models.Interval) (result TimeframeResult, err error) {
	started := o.now().UTC()
	name := staging.DatasetFileName(o.config.FilePattern, tf)
	result = TimeframeResult{Timeframe: tf, File: name}

	defer func() {
		o.recordRun(ctx, runID, started, result, err)
		o.recordTimeframeMetrics(started, result, err)
	}()

	existing, err := o.data.Load(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		o.logger.WarnContext(ctx, "no existing dataset file, starting empty", "file", name)
		existing = models.Dataset{}
	case err != nil:
		return result, err
	}
	result.Existing = len(existing)

	result.Window = o.windowFor(tf, existing)
	raw, err := o.fetcher.Fetch(ctx, result.Window, o.config.FetchPolicy)
	if err != nil {
		return result, err
	}

	incoming, nstats := o.normalizer.NormalizeAll(raw)
	result.Fetched = len(incoming)
	if len(incoming) == 0 {
		result.NoData = true
		o.logger.WarnContext(ctx, "no new data fetched, staging existing dataset unchanged",
			"window", result.Window.String())
	} else {
		windowFile := staging.WindowFileName(tf, filepath.Ext(name))
		if err := o.newData.Save(ctx, windowFile, incoming); err != nil {
			return result, err
		}
		o.logger.InfoContext(ctx, "fetched new data",
			"records", len(incoming),
			"duplicates", nstats.Duplicates,
			"file", windowFile)
	}

	merged, stats, err := o.merger.Merge(existing, incoming)
	if err != nil {
		var violation *errs.MergeInvariantViolation
		if errors.As(err, &violation) && violation.Timeframe == "" {
			violation.Timeframe = string(tf)
		}
		return result, err
	}
	result.Merge = stats
	result.Added = stats.Added
	result.Total = stats.Total

	if err := o.merged.Save(ctx, name, merged); err != nil {
		return result, err
	}
	o.logger.InfoContext(ctx, "timeframe merged",
		"file", name,
		"existing", stats.Existing,
		"incoming", stats.Incoming,
		"duplicates_removed", stats.DuplicatesRemoved,
		"added", stats.Added,
		"total", stats.Total,
		"cutoff", models.FormatTimestamp(stats.Cutoff))

	if report, gerr := o.gaps.Summarize(merged, o.config.Symbol, tf); gerr != nil {
		o.logger.WarnContext(ctx, "gap detection failed", "error", gerr)
	} else if report.HasGaps() {
		result.Gaps = len(report.Gaps)
		o.logger.WarnContext(ctx, "merged dataset has gaps",
			"gaps", len(report.Gaps),
			"missing_klines", report.MissingKlines,
			"largest", report.Largest)
	}

	if quality := o.validator.Check(merged, o.config.Symbol, tf); quality.HasAnomalies() {
		result.Anomalies = quality.Total()
		o.logger.WarnContext(ctx, "merged dataset has anomalies",
			"logical", quality.Logical,
			"missing", quality.Missing,
			"price_spikes", quality.PriceSpikes,
			"volume_surges", quality.VolumeSurges)
	}

	if o.mirror != nil {
		if merr := o.mirror.Replace(ctx, o.config.Symbol, tf, merged); merr != nil {
			o.logger.WarnContext(ctx, "failed to mirror merged dataset", "error", merr)
		}
	}

	return result, nil
}

// windowFor starts at the last known open time when it is later than the
// configured start of tf, and always ends now.
func (o *Orchestrator) windowFor(tf models.Interval, existing models.Dataset) models.FetchWindow {
	start := o.config.startFor(tf)
	if last, ok := existing.Last(); ok && last.OpenTime.After(start) {
		start = last.OpenTime
	}
	return models.FetchWindow{
		Symbol:   o.config.Symbol,
		Interval: tf,
		Start:    start,
		End:      o.now().UTC(),
	}
}

// Publish writes the dataset metadata next to the merged files and uploads
// them as a new version. Retryable failures are retried under PublishPolicy;
// with the default unbounded policy only cancellation or a permanent failure
// ends the loop.
func (o *Orchestrator) Publish(ctx context.Context, versionNote string) error {
	md := staging.Metadata{
		Title:    o.config.Title,
		ID:       o.config.DatasetID,
		Licenses: []staging.License{{Name: o.config.License}},
	}
	if _, err := staging.WriteMetadata(o.layout.Merged, md); err != nil {
		return err
	}

	retrier := &errs.Retrier{
		Policy:  o.config.PublishPolicy,
		Sleeper: o.sleeper,
		Logger:  o.logger,
	}
	return logger.TimedOperation(ctx, o.logger, "publish", func(ctx context.Context) error {
		return retrier.Do(ctx, "publish", func(ctx context.Context, attempt int) error {
			o.metrics.AddCounter("publish_attempts_total", 1, "Dataset upload attempts", nil)
			return o.hub.UploadNewVersion(ctx, o.layout.Merged, o.config.DatasetID, versionNote)
		})
	})
}

func (o *Orchestrator) recordRun(ctx context.Context, runID string, started time.Time, result TimeframeResult, runErr error) {
	if o.mirror == nil {
		return
	}
	rec := storage.RunRecord{
		RunID:      runID,
		Symbol:     o.config.Symbol,
		Timeframe:  result.Timeframe,
		Existing:   result.Existing,
		Fetched:    result.Fetched,
		Added:      result.Added,
		Total:      result.Total,
		StartedAt:  started,
		FinishedAt: o.now().UTC(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := o.mirror.RecordRun(ctx, rec); err != nil {
		o.logger.WarnContext(ctx, "failed to record run", "error", err)
	}
}

func (o *Orchestrator) recordTimeframeMetrics(started time.Time, result TimeframeResult, runErr error) {
	labels := map[string]string{"timeframe": string(result.Timeframe)}
	o.metrics.RecordDuration("timeframe_sync_duration_ms", o.now().Sub(started), "Time spent syncing one timeframe", labels)
	if runErr != nil {
		o.metrics.AddCounter("timeframe_failures_total", 1, "Timeframe syncs that failed", labels)
		return
	}
	o.metrics.AddCounter("klines_fetched_total", float64(result.Fetched), "Klines fetched from the exchange", labels)
	o.metrics.AddCounter("klines_added_total", float64(result.Added), "Klines added to the dataset", labels)
	o.metrics.RecordGauge("dataset_records", float64(result.Total), "Records in the merged dataset", labels)
	o.metrics.RecordGauge("dataset_gaps", float64(result.Gaps), "Gaps in the merged dataset", labels)
	o.metrics.RecordGauge("dataset_anomalies", float64(result.Anomalies), "Quality anomalies in the merged dataset", labels)
}
