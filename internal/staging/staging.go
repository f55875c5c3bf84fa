// Package staging manages the working folders of a sync run: the downloaded
// dataset, the freshly fetched windows and the merged files that get
// published.
package staging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// Folder names under the staging root.
const (
	DataFolder    = "data"
	NewDataFolder = "new_data"
	MergedFolder  = "merged_data"
)

// MetadataFile is the metadata file name expected by the hosting platform.
const MetadataFile = "dataset-metadata.json"

// TimeframePlaceholder is replaced by the timeframe in file name patterns.
const TimeframePlaceholder = "{tf}"

// versionNoteLayout renders dates as "June, 01 2025".
const versionNoteLayout = "January, 02 2006"

// License names the license of a published dataset.
type License struct {
	Name string `json:"name"`
}

// Metadata is the minimal dataset-metadata.json written before an upload.
type Metadata struct {
	Title    string    `json:"title"`
	ID       string    `json:"id"`
	Licenses []License `json:"licenses"`
}

// Layout is the set of staging folders under one root.
type Layout struct {
	Root    string
	Data    string
	NewData string
	Merged  string

	logger *slog.Logger
}

// NewLayout returns the layout rooted at root. Nothing is created on disk.
func NewLayout(root string, logger *slog.Logger) *Layout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layout{
		Root:    root,
		Data:    filepath.Join(root, DataFolder),
		NewData: filepath.Join(root, NewDataFolder),
		Merged:  filepath.Join(root, MergedFolder),
		logger:  logger.With("component", "staging"),
	}
}

// Folders returns the three staging folders.
func (l *Layout) Folders() []string {
	return []string{l.Data, l.NewData, l.Merged}
}

// Prepare creates the folders and removes any files left by a previous run.
func (l *Layout) Prepare() error {
	for _, dir := range l.Folders() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create staging folder %s: %w", dir, err)
		}
	}
	return l.Clean()
}

// Clean removes the regular files of every staging folder. Subdirectories
// and missing folders are left alone.
func (l *Layout) Clean() error {
	for _, dir := range l.Folders() {
		removed, err := cleanFolder(dir)
		if err != nil {
			return err
		}
		l.logger.Debug("cleaned staging folder", "dir", dir, "removed", removed)
	}
	return nil
}

func cleanFolder(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// WriteMetadata writes md as indented JSON into dir.
func WriteMetadata(dir string, md Metadata) (string, error) {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	path := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	return path, nil
}

// ReadMetadata reads dataset-metadata.json from dir.
func ReadMetadata(dir string) (Metadata, error) {
	var md Metadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return md, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return md, nil
}

// DatasetFileName expands pattern for timeframe, e.g.
// "eth_{tf}_data_2017_to_2025.csv" becomes "eth_1h_data_2017_to_2025.csv".
func DatasetFileName(pattern string, timeframe models.Interval) string {
	return strings.ReplaceAll(pattern, TimeframePlaceholder, string(timeframe))
}

// WindowFileName is the file name of a fetched window in the new data folder.
func WindowFileName(timeframe models.Interval, ext string) string {
	if ext == "" {
		ext = ".csv"
	}
	return string(timeframe) + ext
}

// VersionNote returns the note attached to a version published at t, such as
// "Update June, 01 2025".
func VersionNote(t time.Time) string {
	return "Update " + t.Format(versionNoteLayout)
}
