// Package hub talks to the platform hosting the published dataset.
package hub

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// Hub downloads the current version of a dataset and publishes new ones.
type Hub interface {
	// Download fetches every file of datasetID, plus its metadata, into
	// destDir.
	Download(ctx context.Context, datasetID, destDir string) error

	// UploadNewVersion publishes the contents of sourceDir as a new version
	// of datasetID. sourceDir must contain dataset-metadata.json.
	UploadNewVersion(ctx context.Context, sourceDir, datasetID, versionNote string) error
}

// Command is one external process invocation.
type Command struct {
	Name string
	Args []string
	// Env is the complete process environment.
	Env []string
}

// String renders the command line.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) ([]byte, error)

// Run calls f(ctx, cmd).
func (f RunnerFunc) Run(ctx context.Context, cmd Command) ([]byte, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands with os/exec and returns their combined output.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = cmd.Env
	return c.CombinedOutput()
}

// proxyVariables are removed from the upload environment.
var proxyVariables = []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"}

// withoutProxy returns env minus the proxy variables.
func withoutProxy(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		drop := false
		for _, p := range proxyVariables {
			if name == p {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, kv)
		}
	}
	return out
}

// setEnv returns env with name set to value, replacing an existing entry.
func setEnv(env []string, name, value string) []string {
	prefix := name + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+value)
}

func defaultEnviron() []string {
	return os.Environ()
}
