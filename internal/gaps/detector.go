package gaps

import (
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// GapDetectorImpl implements GapDetector over in-memory datasets.
type GapDetectorImpl struct {
	logger *slog.Logger
}

// NewGapDetector creates a detector logging through logger.
func NewGapDetector(logger *slog.Logger) *GapDetectorImpl {
	if logger == nil {
		logger = slog.Default()
	}
	return &GapDetectorImpl{logger: logger}
}

// DetectGapsInSequence scans consecutive records for missing intervals. The
// dataset must already be sorted; merge output always is.
func (gd *GapDetectorImpl) DetectGapsInSequence(dataset models.Dataset, symbol string, interval models.Interval) ([]models.Gap, error) {
	if len(dataset) < 2 {
		return nil, nil
	}

	intervalDuration, ok := interval.Duration()
	if !ok {
		return nil, fmt.Errorf("invalid interval '%s': unknown duration", interval)
	}

	var gaps []models.Gap
	for i := 0; i < len(dataset)-1; i++ {
		current := dataset[i]
		next := dataset[i+1]

		expectedNext := current.OpenTime.Add(intervalDuration)
		if next.OpenTime.After(expectedNext) {
			gap, err := models.NewGap(symbol, interval, expectedNext, next.OpenTime)
			if err != nil {
				gd.logger.Warn("Failed to create gap",
					"symbol", symbol,
					"interval", interval,
					"error", err,
				)
				continue
			}
			gaps = append(gaps, *gap)
		}
	}

	return gaps, nil
}

// Summarize detects gaps and totals the missing klines.
func (gd *GapDetectorImpl) Summarize(dataset models.Dataset, symbol string, interval models.Interval) (*Report, error) {
	gaps, err := gd.DetectGapsInSequence(dataset, symbol, interval)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Symbol:   symbol,
		Interval: interval,
		Records:  len(dataset),
		Gaps:     gaps,
	}
	for i := range gaps {
		missing, err := gaps[i].MissingKlines()
		if err != nil {
			return nil, err
		}
		report.MissingKlines += missing
		if d := gaps[i].Duration(); d > report.Largest {
			report.Largest = d
		}
	}

	if report.HasGaps() {
		gd.logger.Info("Gaps detected in dataset",
			"symbol", symbol,
			"interval", interval,
			"gaps", len(gaps),
			"missing_klines", report.MissingKlines,
			"largest", report.Largest.String(),
		)
	}

	return report, nil
}
