package hub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
)

// MetadataFile is the name of the metadata file the Kaggle CLI expects in an
// upload directory.
const MetadataFile = "dataset-metadata.json"

// KaggleConfig configures the Kaggle CLI adapter.
type KaggleConfig struct {
	// Binary is the CLI executable, "kaggle" by default.
	Binary string
	// Username and Key are exported as KAGGLE_USERNAME and KAGGLE_KEY when
	// set; otherwise the CLI falls back to ~/.kaggle/kaggle.json.
	Username string
	Key      string
	// DirMode controls how subdirectories are uploaded: skip, zip or tar.
	DirMode string
}

// KaggleCLI implements Hub with the kaggle command line tool.
type KaggleCLI struct {
	config  KaggleConfig
	runner  Runner
	environ func() []string
	logger  *slog.Logger
}

// NewKaggleCLI creates the adapter. A nil runner runs real processes.
func NewKaggleCLI(config KaggleConfig, runner Runner, logger *slog.Logger) *KaggleCLI {
	if config.Binary == "" {
		config.Binary = "kaggle"
	}
	if config.DirMode == "" {
		config.DirMode = "zip"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KaggleCLI{
		config:  config,
		runner:  runner,
		environ: defaultEnviron,
		logger:  logger.With("component", "kaggle"),
	}
}

// Download implements Hub. Files are unzipped into destDir and the dataset
// metadata is fetched next to them.
func (k *KaggleCLI) Download(ctx context.Context, datasetID, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "download", Err: fmt.Errorf("failed to create %s: %w", destDir, err)}
	}

	env := k.baseEnv()
	steps := []Command{
		{Name: k.config.Binary, Args: []string{"datasets", "download", "-d", datasetID, "-p", destDir, "--unzip"}, Env: env},
		{Name: k.config.Binary, Args: []string{"datasets", "metadata", "-p", destDir, datasetID}, Env: env},
	}
	for _, cmd := range steps {
		if err := k.run(ctx, datasetID, "download", cmd); err != nil {
			return err
		}
	}

	k.logger.Info("dataset downloaded", "dataset", datasetID, "dir", destDir)
	return nil
}

// UploadNewVersion implements Hub. Proxy variables are stripped from the
// CLI's environment so the upload bypasses the proxy used for the exchange.
func (k *KaggleCLI) UploadNewVersion(ctx context.Context, sourceDir, datasetID, versionNote string) error {
	if _, err := os.Stat(filepath.Join(sourceDir, MetadataFile)); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "upload", Err: errs.Permanent(fmt.Errorf("%s missing from %s: %w", MetadataFile, sourceDir, err))}
	}

	cmd := Command{
		Name: k.config.Binary,
		Args: []string{"datasets", "version", "-p", sourceDir, "-m", versionNote, "--dir-mode", k.config.DirMode},
		Env:  withoutProxy(k.baseEnv()),
	}

	start := time.Now()
	if err := k.run(ctx, datasetID, "upload", cmd); err != nil {
		return err
	}

	k.logger.Info("dataset version uploaded",
		"dataset", datasetID,
		"note", versionNote,
		"duration", time.Since(start))
	return nil
}

func (k *KaggleCLI) baseEnv() []string {
	env := setEnv(k.environ(), "KAGGLE_API_NO_RESUME", "True")
	if k.config.Username != "" {
		env = setEnv(env, "KAGGLE_USERNAME", k.config.Username)
	}
	if k.config.Key != "" {
		env = setEnv(env, "KAGGLE_KEY", k.config.Key)
	}
	return env
}

func (k *KaggleCLI) run(ctx context.Context, datasetID, op string, cmd Command) error {
	k.logger.Debug("running kaggle command", "op", op, "args", strings.Join(cmd.Args, " "))

	out, err := k.runner.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("kaggle %s interrupted: %w", op, ctx.Err())
		}
		return &errs.PublishError{
			DatasetID: datasetID,
			Op:        op,
			Err:       fmt.Errorf("%s: %w (output: %s)", cmd.Args[1], err, strings.TrimSpace(string(out))),
		}
	}
	return nil
}

// Compile-time interface compliance check
var _ Hub = (*KaggleCLI)(nil)
