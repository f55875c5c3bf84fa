// Package gaps detects missing klines in merged datasets. Detection is
// reporting only: gaps are logged with each run and never filled in place.
package gaps

import (
	"time"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// GapDetector identifies missing periods in an ordered kline dataset.
type GapDetector interface {
	// DetectGapsInSequence walks an ordered dataset and returns one gap for
	// every place where the next open time is later than one interval after
	// the previous one.
	DetectGapsInSequence(dataset models.Dataset, symbol string, interval models.Interval) ([]models.Gap, error)

	// Summarize runs detection and aggregates the result for logging.
	Summarize(dataset models.Dataset, symbol string, interval models.Interval) (*Report, error)
}

// Report aggregates the gaps found in one dataset.
type Report struct {
	Symbol        string          `json:"symbol"`
	Interval      models.Interval `json:"interval"`
	Records       int             `json:"records"`
	Gaps          []models.Gap    `json:"gaps"`
	MissingKlines int             `json:"missing_klines"`
	Largest       time.Duration   `json:"largest"`
}

// HasGaps reports whether any gap was found.
func (r *Report) HasGaps() bool {
	return len(r.Gaps) > 0
}
