package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
)

const testDataset = "novandraanugrah/ethereum-price-data-binance-api-2017now"

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingRunner struct {
	commands []Command
	outputs  [][]byte
	errs     []error
}

func (r *recordingRunner) Run(_ context.Context, cmd Command) ([]byte, error) {
	idx := len(r.commands)
	r.commands = append(r.commands, cmd)
	var out []byte
	var err error
	if idx < len(r.outputs) {
		out = r.outputs[idx]
	}
	if idx < len(r.errs) {
		err = r.errs[idx]
	}
	return out, err
}

func envValue(env []string, name string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == name {
			return v, true
		}
	}
	return "", false
}

func newTestKaggle(runner Runner) *KaggleCLI {
	k := NewKaggleCLI(KaggleConfig{Username: "novandraanugrah", Key: "secret"}, runner, createTestLogger())
	k.environ = func() []string {
		return []string{
			"PATH=/usr/bin",
			"HTTP_PROXY=socks5://127.0.0.1:9050",
			"HTTPS_PROXY=socks5://127.0.0.1:9050",
			"https_proxy=socks5://127.0.0.1:9050",
			"KAGGLE_KEY=stale",
		}
	}
	return k
}

func TestKaggleCLI_Download(t *testing.T) {
	runner := &recordingRunner{}
	k := newTestKaggle(runner)
	dest := filepath.Join(t.TempDir(), "data")

	require.NoError(t, k.Download(context.Background(), testDataset, dest))
	require.Len(t, runner.commands, 2)

	assert.Equal(t, "kaggle", runner.commands[0].Name)
	assert.Equal(t, []string{"datasets", "download", "-d", testDataset, "-p", dest, "--unzip"}, runner.commands[0].Args)
	assert.Equal(t, []string{"datasets", "metadata", "-p", dest, testDataset}, runner.commands[1].Args)

	env := runner.commands[0].Env
	v, ok := envValue(env, "HTTP_PROXY")
	assert.True(t, ok, "downloads keep the proxy")
	assert.Equal(t, "socks5://127.0.0.1:9050", v)
	v, _ = envValue(env, "KAGGLE_KEY")
	assert.Equal(t, "secret", v)
	v, _ = envValue(env, "KAGGLE_API_NO_RESUME")
	assert.Equal(t, "True", v)

	assert.DirExists(t, dest)
}

func TestKaggleCLI_UploadNewVersion(t *testing.T) {
	runner := &recordingRunner{}
	k := newTestKaggle(runner)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, MetadataFile), []byte("{}"), 0o644))

	require.NoError(t, k.UploadNewVersion(context.Background(), src, testDataset, "Update June, 01 2025"))
	require.Len(t, runner.commands, 1)

	cmd := runner.commands[0]
	assert.Equal(t, []string{"datasets", "version", "-p", src, "-m", "Update June, 01 2025", "--dir-mode", "zip"}, cmd.Args)
	for _, name := range proxyVariables {
		_, ok := envValue(cmd.Env, name)
		assert.False(t, ok, "%s must be stripped for uploads", name)
	}
	v, _ := envValue(cmd.Env, "PATH")
	assert.Equal(t, "/usr/bin", v)
	v, _ = envValue(cmd.Env, "KAGGLE_USERNAME")
	assert.Equal(t, "novandraanugrah", v)
}

func TestKaggleCLI_Failures(t *testing.T) {
	t.Run("command failure is a publish error", func(t *testing.T) {
		runner := &recordingRunner{
			outputs: [][]byte{[]byte("403 - Forbidden")},
			errs:    []error{fmt.Errorf("exit status 1")},
		}
		k := newTestKaggle(runner)
		src := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(src, MetadataFile), []byte("{}"), 0o644))

		err := k.UploadNewVersion(context.Background(), src, testDataset, "note")
		var publishErr *errs.PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.Equal(t, "upload", publishErr.Op)
		assert.Contains(t, err.Error(), "403 - Forbidden")
		assert.True(t, errs.IsRetryable(err))
	})

	t.Run("missing metadata is permanent", func(t *testing.T) {
		runner := &recordingRunner{}
		k := newTestKaggle(runner)

		err := k.UploadNewVersion(context.Background(), t.TempDir(), testDataset, "note")
		require.Error(t, err)
		assert.True(t, errs.IsPermanent(err))
		assert.Empty(t, runner.commands)
	})

	t.Run("download stops at first failing step", func(t *testing.T) {
		runner := &recordingRunner{errs: []error{fmt.Errorf("exit status 1")}}
		k := newTestKaggle(runner)

		err := k.Download(context.Background(), testDataset, t.TempDir())
		var publishErr *errs.PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.Equal(t, "download", publishErr.Op)
		assert.Len(t, runner.commands, 1)
	})

	t.Run("cancellation is not a publish error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		runner := RunnerFunc(func(context.Context, Command) ([]byte, error) {
			cancel()
			return nil, fmt.Errorf("signal: killed")
		})
		k := newTestKaggle(runner)

		err := k.Download(ctx, testDataset, t.TempDir())
		assert.ErrorIs(t, err, context.Canceled)
		var publishErr *errs.PublishError
		assert.False(t, errors.As(err, &publishErr))
	})
}

func TestWithoutProxy(t *testing.T) {
	env := []string{"A=1", "HTTP_PROXY=x", "http_proxy=y", "HTTPS_PROXY_EXTRA=z", "B=2"}
	assert.Equal(t, []string{"A=1", "HTTPS_PROXY_EXTRA=z", "B=2"}, withoutProxy(env))
}

func TestLocalHub(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	h := NewLocalHub(root, createTestLogger())
	h.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	err := h.Download(ctx, testDataset, t.TempDir())
	var publishErr *errs.PublishError
	require.True(t, errors.As(err, &publishErr), "unknown dataset")

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, MetadataFile), []byte(`{"id":"x"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "eth_1h_data_2017_to_2025.csv"), []byte("Open time\n"), 0o644))
	require.NoError(t, h.UploadNewVersion(ctx, src, testDataset, "Update June, 01 2025"))

	// A second version drops files that are no longer uploaded.
	require.NoError(t, os.Remove(filepath.Join(src, "eth_1h_data_2017_to_2025.csv")))
	require.NoError(t, os.WriteFile(filepath.Join(src, "eth_4h_data_2017_to_2025.csv"), []byte("Open time\n"), 0o644))
	require.NoError(t, h.UploadNewVersion(ctx, src, testDataset, "Update June, 02 2025"))

	versions, err := h.Versions(testDataset)
	require.NoError(t, err)
	assert.Equal(t, []string{"Update June, 01 2025", "Update June, 02 2025"}, versions)

	dest := t.TempDir()
	require.NoError(t, h.Download(ctx, testDataset, dest))
	assert.FileExists(t, filepath.Join(dest, "eth_4h_data_2017_to_2025.csv"))
	assert.FileExists(t, filepath.Join(dest, MetadataFile))
	assert.NoFileExists(t, filepath.Join(dest, "eth_1h_data_2017_to_2025.csv"))
	assert.NoFileExists(t, filepath.Join(dest, versionsLog))

	err = h.UploadNewVersion(ctx, t.TempDir(), testDataset, "no metadata")
	assert.True(t, errs.IsPermanent(err))
}
