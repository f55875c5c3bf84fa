package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/config"
	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/exchange"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/fetcher"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/gaps"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/hub"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/merger"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/metrics"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/normalizer"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/pipeline"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/staging"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/storage"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/validator"
)

// Component construction from configuration

// component returns the logger of a named component.
func (cli *CLI) component(name string) *slog.Logger {
	if cli.logs == nil {
		return slog.Default().With("component", name)
	}
	return cli.logs.GetComponentLogger(name)
}

func (cli *CLI) baseLogger() *slog.Logger {
	if cli.logs == nil {
		return slog.Default()
	}
	return cli.logs.GetLogger()
}

// pipelineConfig converts the loaded configuration into orchestrator
// settings.
func pipelineConfig(cfg *config.AppConfig) (pipeline.Config, error) {
	starts, err := cfg.StartTimes()
	if err != nil {
		return pipeline.Config{}, err
	}
	durations, err := cfg.Durations()
	if err != nil {
		return pipeline.Config{}, err
	}

	policies := make(map[string]errs.RetryPolicy, 3)
	for name, p := range map[string]config.RetryPolicyConfig{
		"fetch":   cfg.Retry.Fetch,
		"global":  cfg.Retry.Global,
		"publish": cfg.Retry.Publish,
	} {
		policy, err := p.Policy()
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("retry.%s: %w", name, err)
		}
		policies[name] = policy
	}

	return pipeline.Config{
		Symbol:              cfg.Dataset.Symbol,
		Timeframes:          cfg.Intervals(),
		StartTimes:          starts,
		DatasetID:           cfg.Dataset.ID,
		Title:               cfg.Dataset.Title,
		License:             cfg.Dataset.License,
		FilePattern:         cfg.Dataset.FilePattern,
		FetchPolicy:         policies["fetch"],
		GlobalPolicy:        policies["global"],
		PublishPolicy:       policies["publish"],
		InterTimeframeDelay: durations.InterTimeframeDelay,
	}, nil
}

// newFetcher builds the Binance session factory and the retrying fetcher.
func (cli *CLI) newFetcher() (*fetcher.RetryingFetcher, error) {
	durations, err := cli.config.Durations()
	if err != nil {
		return nil, err
	}

	ex := cli.config.Exchange
	factory, err := exchange.NewBinanceFactory(exchange.ClientConfig{
		BaseURL:           ex.BaseURL,
		APIKey:            ex.APIKey,
		HTTPProxy:         ex.HTTPProxy,
		HTTPSProxy:        ex.HTTPSProxy,
		RequestTimeout:    durations.RequestTimeout,
		RequestsPerSecond: ex.RequestsPerSecond,
		Burst:             ex.Burst,
		PageLimit:         ex.PageLimit,
	}, cli.component("exchange"))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange client: %w", err)
	}

	var resetter fetcher.NetworkResetter
	if cli.config.Retry.ResetCommand != "" {
		resetter = fetcher.NewCommandResetter(cli.config.Retry.ResetCommand, durations.ResetSettle, cli.component("resetter"))
	}
	return fetcher.New(factory, resetter, errs.TimerSleeper{}, cli.baseLogger()), nil
}

// newHub builds the configured hosting platform adapter.
func (cli *CLI) newHub() (hub.Hub, error) {
	h := cli.config.Hub
	switch h.Type {
	case "kaggle":
		return hub.NewKaggleCLI(hub.KaggleConfig{
			Binary:   h.Kaggle.Binary,
			Username: h.Kaggle.Username,
			Key:      h.Kaggle.Key,
			DirMode:  h.Kaggle.DirMode,
		}, nil, cli.baseLogger()), nil
	case "local":
		return hub.NewLocalHub(h.LocalRoot, cli.baseLogger()), nil
	default:
		return nil, fmt.Errorf("unsupported hub type: %s", h.Type)
	}
}

// openMirror opens and migrates the DuckDB mirror. It returns nil when the
// mirror is disabled.
func (cli *CLI) openMirror(ctx context.Context) (*storage.DuckDBMirror, error) {
	if !cli.config.Mirror.Enabled {
		return nil, nil
	}
	mirror, err := storage.NewDuckDBMirror(cli.config.Mirror.Path, cli.baseLogger())
	if err != nil {
		return nil, err
	}
	if err := mirror.Initialize(ctx); err != nil {
		mirror.Close()
		return nil, err
	}
	cli.closers = append(cli.closers, mirror.Close)
	return mirror, nil
}

// collector returns the metrics collector shared by the orchestrator and
// the metrics server.
func (cli *CLI) collector() *metrics.MetricsCollector {
	if cli.metrics == nil {
		cli.metrics = metrics.NewMetricsCollector(cli.baseLogger())
	}
	return cli.metrics
}

// recordRun stores the outcome of a sync for the readiness probe.
func (cli *CLI) recordRun(started time.Time, report *pipeline.RunReport, err error) {
	status := metrics.RunStatus{StartedAt: started, FinishedAt: time.Now().UTC(), Succeeded: err == nil}
	if report != nil {
		status.RunID = report.RunID
	}
	if err != nil {
		status.Error = err.Error()
	}
	cli.collector().SetLastRun(status)
}

// newValidator builds the quality checker from the validation thresholds.
func (cli *CLI) newValidator() (*validator.OHLCVValidator, error) {
	v := cli.config.Validation
	return validator.NewOHLCVValidatorWithConfig(validator.Config{
		PriceSpikeThreshold: decimal.NewFromFloat(v.PriceSpikeThreshold),
		VolumeSurgeFactor:   decimal.NewFromFloat(v.VolumeSurgeFactor),
		MaxAnomalies:        v.MaxAnomalies,
	}, cli.baseLogger())
}

// newOrchestrator wires every pipeline component.
func (cli *CLI) newOrchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	cfg, err := pipelineConfig(cli.config)
	if err != nil {
		return nil, err
	}
	durations, err := cli.config.Durations()
	if err != nil {
		return nil, err
	}

	f, err := cli.newFetcher()
	if err != nil {
		return nil, err
	}
	h, err := cli.newHub()
	if err != nil {
		return nil, err
	}
	v, err := cli.newValidator()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Hub:        h,
		Fetcher:    f,
		Normalizer: normalizer.New(cli.baseLogger()),
		Merger:     merger.New(durations.Retention, nil),
		Gaps:       gaps.NewGapDetector(cli.baseLogger()),
		Validator:  v,
		Metrics:    cli.collector(),
	}

	mirror, err := cli.openMirror(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}
	if mirror != nil {
		deps.Mirror = mirror
		cli.collector().RegisterHealthChecker(mirror)
	}

	layout := staging.NewLayout(cli.config.Sync.StagingDir, cli.baseLogger())
	return pipeline.New(cfg, layout, deps, cli.baseLogger())
}
