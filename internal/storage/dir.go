package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// DirStore keeps datasets as files in one directory. The codec is chosen from
// the file extension: ".parquet" selects ParquetCodec and anything else is
// treated as CSV.
type DirStore struct {
	root   string
	codecs map[string]Codec
	csv    Codec
	logger *slog.Logger
}

// NewDirStore creates a store rooted at dir. The directory is created when a
// dataset is first saved.
func NewDirStore(dir string, logger *slog.Logger) *DirStore {
	if logger == nil {
		logger = slog.Default()
	}
	parquetCodec := ParquetCodec{}
	return &DirStore{
		root:   dir,
		codecs: map[string]Codec{parquetCodec.Extension(): parquetCodec},
		csv:    CSVCodec{},
		logger: logger.With("component", "dir_store", "dir", dir),
	}
}

// Root returns the store's directory.
func (s *DirStore) Root() string {
	return s.root
}

// Path returns the file path of name.
func (s *DirStore) Path(name string) string {
	return filepath.Join(s.root, name)
}

// CodecFor returns the codec used for name.
func (s *DirStore) CodecFor(name string) Codec {
	if c, ok := s.codecs[strings.ToLower(filepath.Ext(name))]; ok {
		return c
	}
	return s.csv
}

// Load implements DatasetReader.
func (s *DirStore) Load(ctx context.Context, name string) (models.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", name, err)
	}

	start := time.Now()
	path := s.Path(name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewStorageError("load", path, ErrNotFound)
	}
	if err != nil {
		return nil, NewStorageError("load", path, err)
	}
	defer f.Close()

	ds, err := s.CodecFor(name).Decode(f)
	if err != nil {
		return nil, NewStorageError("load", path, err)
	}

	s.logger.Debug("loaded dataset",
		"name", name,
		"records", len(ds),
		"duration", time.Since(start))
	return ds, nil
}

// Exists implements DatasetReader.
func (s *DirStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, NewStorageError("stat", s.Path(name), err)
	}
	return true, nil
}

// Save implements DatasetWriter. The dataset is written to a temporary file
// in the same directory and renamed over the target.
func (s *DirStore) Save(ctx context.Context, name string, ds models.Dataset) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", name, err)
	}

	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewStorageError("save", path, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return NewStorageError("save", path, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := s.CodecFor(name).Encode(tmp, ds); err != nil {
		tmp.Close()
		return NewStorageError("save", path, err)
	}
	if err := tmp.Close(); err != nil {
		return NewStorageError("save", path, fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return NewStorageError("save", path, fmt.Errorf("failed to rename temp file: %w", err))
	}
	committed = true

	s.logger.Debug("saved dataset", "name", name, "records", len(ds))
	return nil
}

// Compile-time interface compliance check
var _ DatasetStore = (*DirStore)(nil)
