// Package storage persists kline datasets. Datasets live as flat files, one
// per timeframe, encoded as CSV or Parquet; an optional DuckDB mirror keeps a
// queryable copy of every merged dataset.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// ErrNotFound is returned when a named dataset does not exist in a store.
var ErrNotFound = errors.New("dataset not found")

// Codec encodes and decodes a whole dataset to and from a byte stream.
// Implementations must not reorder records; ordering is the caller's concern.
type Codec interface {
	// Decode reads every record from r. Timestamp encodings are detected per
	// column; a column that cannot be classified yields
	// *errors.FormatAmbiguityError.
	Decode(r io.Reader) (models.Dataset, error)

	// Encode writes ds to w in the codec's canonical form.
	Encode(w io.Writer, ds models.Dataset) error

	// Extension returns the file extension, including the dot, that selects
	// this codec.
	Extension() string
}

// DatasetReader provides read access to named datasets.
type DatasetReader interface {
	// Load returns the dataset stored under name. A missing dataset yields an
	// error matching ErrNotFound.
	Load(ctx context.Context, name string) (models.Dataset, error)

	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)
}

// DatasetWriter provides write access to named datasets.
type DatasetWriter interface {
	// Save replaces the dataset stored under name. Readers never observe a
	// partially written dataset.
	Save(ctx context.Context, name string, ds models.Dataset) error
}

// DatasetStore combines read and write access.
type DatasetStore interface {
	DatasetReader
	DatasetWriter
}

// HealthChecker provides health check capabilities for storage backends.
type HealthChecker interface {
	// HealthCheck performs a lightweight operation to verify the backend is
	// usable.
	HealthCheck(ctx context.Context) error
}

// Mirror keeps a secondary, queryable copy of merged datasets.
type Mirror interface {
	HealthChecker

	// Replace swaps the mirrored records of symbol/interval for ds.
	Replace(ctx context.Context, symbol string, interval models.Interval, ds models.Dataset) error

	// RecordRun stores the outcome of one timeframe of a pipeline run.
	RecordRun(ctx context.Context, run RunRecord) error

	// Close releases the mirror's resources.
	Close() error
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "load", "save")
	Operation string

	// Target is the dataset name, file path or table involved
	Target string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("storage operation %s on %s failed: %v", e.Operation, e.Target, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, target string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Target:    target,
		Err:       err,
	}
}
