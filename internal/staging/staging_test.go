package staging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLayout_PrepareAndClean(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root, createTestLogger())

	require.NoError(t, l.Prepare())
	for _, dir := range l.Folders() {
		assert.DirExists(t, dir)
	}

	stale := filepath.Join(l.Merged, "eth_1h_data_2017_to_2025.csv")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(l.Data, MetadataFile), []byte("{}"), 0o644))
	keep := filepath.Join(l.NewData, "subdir")
	require.NoError(t, os.Mkdir(keep, 0o755))

	require.NoError(t, l.Prepare())
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, filepath.Join(l.Data, MetadataFile))
	assert.DirExists(t, keep, "subdirectories are not removed")

	t.Run("missing folders are fine", func(t *testing.T) {
		missing := NewLayout(filepath.Join(root, "nope"), nil)
		assert.NoError(t, missing.Clean())
	})
}

func TestMetadata_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	md := Metadata{
		Title:    "Ethereum Price Data Binance API (2017–Now)",
		ID:       "novandraanugrah/ethereum-price-data-binance-api-2017now",
		Licenses: []License{{Name: "CC BY 4.0"}},
	}

	path, err := WriteMetadata(dir, md)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MetadataFile), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"title\": \"Ethereum Price Data Binance API (2017–Now)\",")
	assert.Contains(t, string(raw), `"licenses": [`)

	back, err := ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, md, back)

	_, err = ReadMetadata(t.TempDir())
	assert.Error(t, err)
}

func TestFileNames(t *testing.T) {
	tests := []struct {
		pattern  string
		tf       models.Interval
		expected string
	}{
		{"eth_{tf}_data_2017_to_2025.csv", models.Interval15m, "eth_15m_data_2017_to_2025.csv"},
		{"eth_{tf}_data_2017_to_2025.csv", models.Interval1d, "eth_1d_data_2017_to_2025.csv"},
		{"{tf}/{tf}.parquet", models.Interval4h, "4h/4h.parquet"},
		{"static.csv", models.Interval1h, "static.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, DatasetFileName(tt.pattern, tt.tf))
		})
	}

	assert.Equal(t, "1h.csv", WindowFileName(models.Interval1h, ""))
	assert.Equal(t, "1h.parquet", WindowFileName(models.Interval1h, ".parquet"))
}

func TestVersionNote(t *testing.T) {
	assert.Equal(t, "Update January, 02 2025", VersionNote(time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Update June, 30 2025", VersionNote(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
}
