package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// NetworkResetter changes the network identity between fetch attempts, for
// example by restarting a local anonymizing proxy.
type NetworkResetter interface {
	Reset(ctx context.Context) error
	// SettleDelay is how long to wait after Reset before the next attempt.
	SettleDelay() time.Duration
}

// NoopResetter does nothing. It is the default.
type NoopResetter struct{}

// Reset implements NetworkResetter.
func (NoopResetter) Reset(context.Context) error { return nil }

// SettleDelay implements NetworkResetter.
func (NoopResetter) SettleDelay() time.Duration { return 0 }

// CommandRunner runs an external command to completion.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec and returns combined output.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandResetter runs a shell command such as "sudo service tor restart".
// It does nothing on Windows, where the service command does not exist.
type CommandResetter struct {
	Command []string
	Settle  time.Duration
	Runner  CommandRunner
	GOOS    string
	Logger  *slog.Logger
}

// NewCommandResetter splits command on whitespace.
func NewCommandResetter(command string, settle time.Duration, logger *slog.Logger) *CommandResetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandResetter{
		Command: strings.Fields(command),
		Settle:  settle,
		Runner:  ExecRunner,
		GOOS:    runtime.GOOS,
		Logger:  logger,
	}
}

// Reset implements NetworkResetter.
func (r *CommandResetter) Reset(ctx context.Context) error {
	if len(r.Command) == 0 {
		return nil
	}
	if r.GOOS == "windows" {
		r.Logger.Debug("skipping network reset on windows")
		return nil
	}

	runner := r.Runner
	if runner == nil {
		runner = ExecRunner
	}

	r.Logger.Info("resetting network identity", "command", strings.Join(r.Command, " "))
	out, err := runner(ctx, r.Command[0], r.Command[1:]...)
	if err != nil {
		return fmt.Errorf("network reset %q failed: %w (output: %s)",
			strings.Join(r.Command, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SettleDelay implements NetworkResetter.
func (r *CommandResetter) SettleDelay() time.Duration {
	if len(r.Command) == 0 || r.GOOS == "windows" {
		return 0
	}
	return r.Settle
}
