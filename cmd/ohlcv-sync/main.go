// OHLCV Dataset Sync CLI
// This application keeps a hosted OHLCV dataset up to date: it downloads the
// published files, fetches the latest klines from Binance, merges them in and
// uploads a new dataset version.
//
// Usage:
//
//	ohlcv-sync run
//	ohlcv-sync schedule --cron "0 0 0 * * *"
//	ohlcv-sync fetch --timeframe 1h --start 2025-01-01
//	ohlcv-sync merge --existing data/eth_1h.csv --incoming new_data/1h.csv --out merged.csv
//	ohlcv-sync gaps --file merged.csv --timeframe 1h
//	ohlcv-sync query --timeframe 1h --limit 20
//
// For detailed help on any command, use: ohlcv-sync <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/config"
	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/logger"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/metrics"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "ohlcv-sync"
	ConfigFile = "ohlcv-sync.yaml"
	ConfigEnv  = "OHLCV_SYNC_CONFIG"
)

// Exit codes following standard conventions
const (
	ExitSuccess         = 0
	ExitUsageError      = 1
	ExitConfigError     = 2
	ExitConnectionErr   = 3
	ExitDataError       = 4
	ExitPipelineFailure = 5
	ExitInterrupt       = 130
)

// CLI represents the main CLI application
type CLI struct {
	config  *config.AppConfig
	logs    *logger.LoggerManager
	logger  *slog.Logger
	metrics *metrics.MetricsCollector
	closers []func() error
}

// main is the entry point for the CLI application
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage()
		return ExitUsageError
	}

	command := argv[0]
	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return ExitSuccess
	case "--help", "-h", "help":
		if len(argv) > 1 {
			printCommandHelp(argv[1])
		} else {
			printUsage()
		}
		return ExitSuccess
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}

	configPath, args, err := extractConfigPath(argv[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	if hasHelpFlag(args) {
		printCommandHelp(command)
		return ExitSuccess
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		return ExitConfigError
	}
	defer cli.close()

	if err := handler(cli, ctx, args); err != nil {
		code := exitCode(err)
		if code == ExitUsageError {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			printCommandHelp(command)
			return code
		}
		cli.logger.Error("command failed", "command", command, "error", err, "exit_code", code)
		return code
	}
	return ExitSuccess
}

// commandFunc runs one subcommand.
type commandFunc func(cli *CLI, ctx context.Context, args []string) error

var commands = map[string]commandFunc{
	"run":      (*CLI).handleRun,
	"schedule": (*CLI).handleSchedule,
	"fetch":    (*CLI).handleFetch,
	"merge":    (*CLI).handleMerge,
	"gaps":     (*CLI).handleGaps,
	"query":    (*CLI).handleQuery,
}

// initialize loads configuration and sets up logging
func (cli *CLI) initialize(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv(ConfigEnv)
	}
	if configPath == "" {
		configPath = ConfigFile
	}

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.NewConfigManager(configPath, bootstrap).LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetComponentLogger("cli")
	cli.closers = append(cli.closers, logs.Close)

	cli.logger.Debug("configuration loaded", "path", configPath, "config", cfg.String())
	return nil
}

func (cli *CLI) close() {
	for i := len(cli.closers) - 1; i >= 0; i-- {
		if err := cli.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cleanup failed: %v\n", err)
		}
	}
}

// usageError marks errors caused by invalid command line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *usageError
	var global *errs.GlobalPipelineFailure
	var fetchErr *errs.FetchError
	var connErr *errs.ConnectivityError
	var ambiguity *errs.FormatAmbiguityError
	var violation *errs.MergeInvariantViolation
	var storageErr *storage.StorageError

	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, errMirrorDisabled):
		return ExitConfigError
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.As(err, &global):
		return ExitPipelineFailure
	case errors.As(err, &fetchErr), errors.As(err, &connErr):
		return ExitConnectionErr
	case errors.As(err, &ambiguity), errors.As(err, &violation), errors.As(err, &storageErr):
		return ExitDataError
	default:
		return ExitDataError
	}
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - OHLCV Dataset Sync CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    run         Sync every timeframe and publish a new dataset version
    schedule    Run the sync on a cron schedule until interrupted
    fetch       Fetch one timeframe window into a local file
    merge       Merge a fetched window into an existing dataset file
    gaps        Report missing klines in a dataset file
    query       Show records from the DuckDB mirror
    version     Show version information

GLOBAL OPTIONS:
    --config, -c <path>  Config file (default: %s or $%s)
    --help, -h           Show help information

EXAMPLES:
    # Run one sync with the default configuration
    %s run

    # Sync every day at midnight UTC
    %s schedule --cron "0 0 0 * * *"

    # Merge a window fetched earlier, without touching the network
    %s merge --existing data/eth_1h_data_2017_to_2025.csv --incoming new_data/1h.csv --out merged.csv

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (YAML) or any .json file
    - Environment variables: BINANCE_API_KEY, HTTP_PROXY, HTTPS_PROXY,
      KAGGLE_DATASET, KAGGLE_USERNAME, KAGGLE_KEY, MIRROR_ENABLED,
      METRICS_ENABLED, METRICS_ADDR, LOG_LEVEL, ...

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, ConfigFile, ConfigEnv, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "run":
		fmt.Printf(`%s run - Sync and publish

USAGE:
    %s run [options]

OPTIONS:
    --timeframes, -t <list>  Comma separated timeframes (default: from config)
    --once                   Do not retry the run on failure
    --help, -h               Show this help message
`, AppName, AppName)
	case "schedule":
		fmt.Printf(`%s schedule - Scheduled sync

USAGE:
    %s schedule [options]

OPTIONS:
    --cron <spec>     Six field cron spec, seconds first (default: from config)
    --run-on-start    Run once immediately before waiting for the schedule
    --help, -h        Show this help message

With metrics.enabled set, run metrics and the /health and /ready probes are
served on metrics.addr.
`, AppName, AppName)
	case "fetch":
		fmt.Printf(`%s fetch - Fetch one window

USAGE:
    %s fetch [options]

OPTIONS:
    --timeframe, -t <tf>  Timeframe to fetch (required)
    --start, -s <date>    Window start, YYYY-MM-DD or RFC 3339 (default: configured start)
    --end, -e <date>      Window end (default: now)
    --out, -o <path>      Output file, .csv or .parquet (default: <staging>/new_data/<tf>.csv)
    --help, -h            Show this help message
`, AppName, AppName)
	case "merge":
		fmt.Printf(`%s merge - Merge files offline

USAGE:
    %s merge [options]

OPTIONS:
    --existing <path>   Existing dataset file (required)
    --incoming <path>   Fetched window file (required)
    --out, -o <path>    Output file (required)
    --help, -h          Show this help message
`, AppName, AppName)
	case "gaps":
		fmt.Printf(`%s gaps - Gap report

USAGE:
    %s gaps [options]

OPTIONS:
    --file, -f <path>     Dataset file (required)
    --timeframe, -t <tf>  Timeframe of the file (required)
    --help, -h            Show this help message
`, AppName, AppName)
	case "query":
		fmt.Printf(`%s query - Query the mirror

USAGE:
    %s query [options]

OPTIONS:
    --timeframe, -t <tf>      Timeframe to show (required)
    --limit, -l <n>           Show the last n records (default: 20, 0 for all)
    --format, -f <format>     Output format: table, json, csv (default: table)
    --help, -h                Show this help message
`, AppName, AppName)
	default:
		printUsage()
	}
}
