// Package validator checks the data quality of merged kline datasets.
//
// Validation is reporting only, like gap detection: records that break OHLC
// relationships, carry missing markers, or jump by more than the configured
// thresholds are counted and logged, never dropped or repaired.
package validator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// AnomalyType classifies a detected anomaly.
type AnomalyType string

const (
	// AnomalyTypeLogical marks a record failing Kline.Validate.
	AnomalyTypeLogical AnomalyType = "logical"
	// AnomalyTypeMissing marks a record with at least one missing field.
	AnomalyTypeMissing AnomalyType = "missing_fields"
	// AnomalyTypePriceSpike marks a high that moved more than the price
	// spike threshold against the previous record.
	AnomalyTypePriceSpike AnomalyType = "price_spike"
	// AnomalyTypeVolumeSurge marks a volume that grew by more than the volume
	// surge factor against the previous record.
	AnomalyTypeVolumeSurge AnomalyType = "volume_surge"
)

// Anomaly is one finding in a dataset.
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	OpenTime    time.Time   `json:"open_time"`
	Description string      `json:"description"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s at %s: %s", a.Type, models.FormatTimestamp(a.OpenTime), a.Description)
}

// Config holds the detection thresholds.
type Config struct {
	// PriceSpikeThreshold is the relative change of the high, 5.0 meaning a
	// 500% move, above which a record is a price spike.
	PriceSpikeThreshold decimal.Decimal
	// VolumeSurgeFactor is the ratio to the previous volume above which a
	// record is a volume surge.
	VolumeSurgeFactor decimal.Decimal
	// MaxAnomalies caps how many anomalies a report keeps; counts are
	// always complete.
	MaxAnomalies int
}

// DefaultConfig returns a 500% price spike threshold and a 10x volume surge
// factor.
func DefaultConfig() Config {
	return Config{
		PriceSpikeThreshold: decimal.NewFromInt(5),
		VolumeSurgeFactor:   decimal.NewFromInt(10),
		MaxAnomalies:        100,
	}
}

// Validate rejects non-positive thresholds.
func (c Config) Validate() error {
	if !c.PriceSpikeThreshold.IsPositive() {
		return fmt.Errorf("price spike threshold must be positive, got %s", c.PriceSpikeThreshold)
	}
	if !c.VolumeSurgeFactor.IsPositive() {
		return fmt.Errorf("volume surge factor must be positive, got %s", c.VolumeSurgeFactor)
	}
	if c.MaxAnomalies < 0 {
		return fmt.Errorf("max anomalies must not be negative, got %d", c.MaxAnomalies)
	}
	return nil
}

// Report aggregates the quality findings of one dataset.
type Report struct {
	Symbol       string          `json:"symbol"`
	Interval     models.Interval `json:"interval"`
	Records      int             `json:"records"`
	Logical      int             `json:"logical"`
	Missing      int             `json:"missing"`
	PriceSpikes  int             `json:"price_spikes"`
	VolumeSurges int             `json:"volume_surges"`
	// MissingFields counts missing markers per field name.
	MissingFields map[string]int `json:"missing_fields,omitempty"`
	Anomalies     []Anomaly      `json:"anomalies,omitempty"`
	Truncated     bool           `json:"truncated,omitempty"`
}

// Total returns the number of anomalies found, kept in Anomalies or not.
func (r *Report) Total() int {
	return r.Logical + r.Missing + r.PriceSpikes + r.VolumeSurges
}

// HasAnomalies reports whether anything was found.
func (r *Report) HasAnomalies() bool {
	return r.Total() > 0
}

// DatasetValidator checks an ordered dataset.
type DatasetValidator interface {
	Check(dataset models.Dataset, symbol string, interval models.Interval) *Report
}
