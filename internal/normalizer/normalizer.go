// Package normalizer converts raw exchange kline rows into typed records.
package normalizer

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/exchange"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// Positions of the exchange kline row.
const (
	fieldOpenTime = iota
	fieldOpen
	fieldHigh
	fieldLow
	fieldClose
	fieldVolume
	fieldCloseTime
	fieldQuoteVolume
	fieldTradeCount
	fieldTakerBuyBase
	fieldTakerBuyQuote
	fieldIgnore
)

// Stats describes one NormalizeAll call.
type Stats struct {
	Input         int            // rows received
	Output        int            // records returned
	Duplicates    int            // rows dropped for a repeated open time
	MissingKey    int            // rows dropped for an unusable open time
	MissingFields map[string]int // missing markers per field
	Warnings      int            // records failing Kline.Validate, kept
}

// Normalizer turns raw rows into a dataset.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With("component", "normalizer")}
}

// Normalize converts one row. Epoch millisecond fields become UTC times and
// decimal text becomes NullDecimal; anything that cannot be parsed becomes
// the field's missing marker. It never fails.
func Normalize(raw models.RawKline) models.Kline {
	var k models.Kline

	if ms, ok := intAt(raw, fieldOpenTime); ok {
		k.OpenTime = models.FromMillis(ms)
	}
	k.Open = decimalAt(raw, fieldOpen)
	k.High = decimalAt(raw, fieldHigh)
	k.Low = decimalAt(raw, fieldLow)
	k.Close = decimalAt(raw, fieldClose)
	k.Volume = decimalAt(raw, fieldVolume)
	if ms, ok := intAt(raw, fieldCloseTime); ok {
		k.CloseTime = models.FromMillis(ms)
	}
	k.QuoteVolume = decimalAt(raw, fieldQuoteVolume)
	if n, ok := intAt(raw, fieldTradeCount); ok {
		k.TradeCount = sql.NullInt64{Int64: n, Valid: true}
	}
	k.TakerBuyBase = decimalAt(raw, fieldTakerBuyBase)
	k.TakerBuyQuote = decimalAt(raw, fieldTakerBuyQuote)
	if fieldIgnore < len(raw) && raw[fieldIgnore] != nil {
		k.Ignore = fmt.Sprint(raw[fieldIgnore])
	}

	return k
}

// NormalizeAll converts a fetched window into a dataset sorted by open time.
// Paginated responses can repeat a row at page edges, so duplicates are
// dropped keeping the first occurrence. Rows without an open time are dropped
// because they cannot be keyed; missing fields and failed consistency checks
// are counted and logged but the records are kept.
func (n *Normalizer) NormalizeAll(raw []models.RawKline) (models.Dataset, Stats) {
	stats := Stats{Input: len(raw), MissingFields: make(map[string]int)}

	out := make(models.Dataset, 0, len(raw))
	for i, row := range raw {
		k := Normalize(row)
		if k.OpenTime.IsZero() {
			stats.MissingKey++
			n.logger.Warn("dropping kline without open time", "row", i)
			continue
		}
		for _, field := range k.MissingFields() {
			stats.MissingFields[field]++
		}
		if err := k.Validate(); err != nil {
			stats.Warnings++
			n.logger.Warn("kline failed consistency check",
				"open_time", models.FormatTimestamp(k.OpenTime),
				"error", err)
		}
		out = append(out, k)
	}

	out.SortStable()
	out, stats.Duplicates = out.Dedup()
	stats.Output = len(out)

	if len(stats.MissingFields) > 0 {
		n.logger.Warn("klines with missing fields",
			"fields", formatCounts(stats.MissingFields))
	}
	n.logger.Debug("normalized klines",
		"input", stats.Input,
		"output", stats.Output,
		"duplicates", stats.Duplicates,
		"dropped", stats.MissingKey)

	return out, stats
}

func intAt(raw models.RawKline, idx int) (int64, bool) {
	if idx >= len(raw) || raw[idx] == nil {
		return 0, false
	}
	v, err := exchange.RawInt(raw[idx])
	if err != nil {
		return 0, false
	}
	return v, true
}

func decimalAt(raw models.RawKline, idx int) decimal.NullDecimal {
	if idx >= len(raw) || raw[idx] == nil {
		return decimal.NullDecimal{}
	}
	switch v := raw[idx].(type) {
	case string:
		return models.ParseNullDecimal(strings.TrimSpace(v))
	case json.Number:
		return models.ParseNullDecimal(v.String())
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(v))
	default:
		return decimal.NullDecimal{}
	}
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, field := range []string{"open", "high", "low", "close", "volume", "close_time",
		"quote_volume", "trade_count", "taker_buy_base", "taker_buy_quote"} {
		if c := counts[field]; c > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", field, c))
		}
	}
	return strings.Join(parts, ",")
}
