package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
)

// versionsLog records one line per uploaded version inside a dataset
// directory of a LocalHub.
const versionsLog = "VERSIONS.log"

// LocalHub keeps datasets as directories under Root, one per dataset ID with
// the owner/slug path preserved. It serves offline runs and tests.
type LocalHub struct {
	Root   string
	Now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// NewLocalHub creates a hub rooted at root.
func NewLocalHub(root string, logger *slog.Logger) *LocalHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalHub{Root: root, Now: time.Now, logger: logger.With("component", "local_hub")}
}

func (h *LocalHub) datasetDir(datasetID string) string {
	return filepath.Join(h.Root, filepath.FromSlash(datasetID))
}

// Download implements Hub.
func (h *LocalHub) Download(ctx context.Context, datasetID, destDir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	src := h.datasetDir(datasetID)
	if _, err := os.Stat(src); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "download", Err: err}
	}
	if err := copyFiles(ctx, src, destDir); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "download", Err: err}
	}
	h.logger.Info("dataset downloaded", "dataset", datasetID, "dir", destDir)
	return nil
}

// UploadNewVersion implements Hub. The dataset directory's files are replaced
// by those of sourceDir and the note is appended to its version log.
func (h *LocalHub) UploadNewVersion(ctx context.Context, sourceDir, datasetID, versionNote string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(filepath.Join(sourceDir, MetadataFile)); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "upload", Err: errs.Permanent(fmt.Errorf("%s missing from %s: %w", MetadataFile, sourceDir, err))}
	}

	dst := h.datasetDir(datasetID)
	if err := removeFiles(dst, versionsLog); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "upload", Err: err}
	}
	if err := copyFiles(ctx, sourceDir, dst); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "upload", Err: err}
	}

	f, err := os.OpenFile(filepath.Join(dst, versionsLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "upload", Err: err}
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\t%s\n", h.Now().UTC().Format(time.RFC3339), versionNote); err != nil {
		return &errs.PublishError{DatasetID: datasetID, Op: "upload", Err: err}
	}

	h.logger.Info("dataset version stored", "dataset", datasetID, "note", versionNote)
	return nil
}

// Versions returns the recorded version notes of datasetID, oldest first.
func (h *LocalHub) Versions(datasetID string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(h.datasetDir(datasetID), versionsLog))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var notes []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if _, note, ok := strings.Cut(line, "\t"); ok {
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// copyFiles copies the regular files of src into dst. Subdirectories are
// skipped.
func copyFiles(ctx context.Context, src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Type().IsRegular() || e.Name() == versionsLog {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// removeFiles deletes the regular files of dir except keep. A missing dir is
// not an error.
func removeFiles(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Compile-time interface compliance check
var _ Hub = (*LocalHub)(nil)
