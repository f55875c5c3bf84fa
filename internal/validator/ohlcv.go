package validator

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// OHLCVValidator implements DatasetValidator.
type OHLCVValidator struct {
	config Config
	logger *slog.Logger
}

// NewOHLCVValidator creates a new OHLCV validator with default configuration.
func NewOHLCVValidator(logger *slog.Logger) *OHLCVValidator {
	v, _ := NewOHLCVValidatorWithConfig(DefaultConfig(), logger)
	return v
}

// NewOHLCVValidatorWithConfig creates a validator with custom thresholds.
func NewOHLCVValidatorWithConfig(config Config, logger *slog.Logger) (*OHLCVValidator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid validation config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OHLCVValidator{
		config: config,
		logger: logger.With("component", "ohlcv_validator"),
	}, nil
}

// Config returns the thresholds in use.
func (v *OHLCVValidator) Config() Config {
	return v.config
}

// Check implements DatasetValidator. Spikes and surges compare each record
// with the one before it; a pair where either value is missing is skipped.
func (v *OHLCVValidator) Check(dataset models.Dataset, symbol string, interval models.Interval) *Report {
	report := &Report{
		Symbol:   symbol,
		Interval: interval,
		Records:  len(dataset),
	}

	for i := range dataset {
		k := &dataset[i]

		if missing := k.MissingFields(); len(missing) > 0 {
			report.Missing++
			if report.MissingFields == nil {
				report.MissingFields = make(map[string]int)
			}
			for _, f := range missing {
				report.MissingFields[f]++
			}
			v.add(report, AnomalyTypeMissing, k, fmt.Sprintf("missing %v", missing))
		}

		if err := k.Validate(); err != nil {
			report.Logical++
			v.add(report, AnomalyTypeLogical, k, err.Error())
		}

		if i == 0 {
			continue
		}
		prev := &dataset[i-1]

		if change, ok := relativeChange(prev.High, k.High); ok && change.GreaterThan(v.config.PriceSpikeThreshold) {
			report.PriceSpikes++
			v.add(report, AnomalyTypePriceSpike, k, fmt.Sprintf("high moved %s%% from %s to %s",
				change.Mul(decimal.NewFromInt(100)).StringFixed(0), prev.High.Decimal, k.High.Decimal))
		}

		if factor, ok := ratio(prev.Volume, k.Volume); ok && factor.GreaterThan(v.config.VolumeSurgeFactor) {
			report.VolumeSurges++
			v.add(report, AnomalyTypeVolumeSurge, k, fmt.Sprintf("volume grew %sx from %s to %s",
				factor.StringFixed(1), prev.Volume.Decimal, k.Volume.Decimal))
		}
	}

	if report.HasAnomalies() {
		v.logger.Info("Anomalies detected in dataset",
			"symbol", symbol,
			"interval", interval,
			"records", report.Records,
			"logical", report.Logical,
			"missing", report.Missing,
			"price_spikes", report.PriceSpikes,
			"volume_surges", report.VolumeSurges,
		)
	}
	return report
}

func (v *OHLCVValidator) add(report *Report, t AnomalyType, k *models.Kline, description string) {
	if len(report.Anomalies) >= v.config.MaxAnomalies {
		report.Truncated = true
		return
	}
	report.Anomalies = append(report.Anomalies, Anomaly{Type: t, OpenTime: k.OpenTime, Description: description})
}

// relativeChange returns |cur - prev| / prev.
func relativeChange(prev, cur decimal.NullDecimal) (decimal.Decimal, bool) {
	if !prev.Valid || !cur.Valid || !prev.Decimal.IsPositive() {
		return decimal.Decimal{}, false
	}
	return cur.Decimal.Sub(prev.Decimal).Abs().Div(prev.Decimal), true
}

// ratio returns cur / prev.
func ratio(prev, cur decimal.NullDecimal) (decimal.Decimal, bool) {
	if !prev.Valid || !cur.Valid || !prev.Decimal.IsPositive() {
		return decimal.Decimal{}, false
	}
	return cur.Decimal.Div(prev.Decimal), true
}
