// Package models provides the data structures shared by the dataset sync
// pipeline: OHLCV kline records, ordered datasets with their invariants,
// the canonical timestamp codec and fetch windows.
package models

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one OHLCV record keyed by its open time. Decimal fields are
// NullDecimal so a value that could not be parsed is an explicit missing
// marker rather than a zero.
type Kline struct {
	OpenTime      time.Time           `json:"open_time"`
	Open          decimal.NullDecimal `json:"open"`
	High          decimal.NullDecimal `json:"high"`
	Low           decimal.NullDecimal `json:"low"`
	Close         decimal.NullDecimal `json:"close"`
	Volume        decimal.NullDecimal `json:"volume"`
	CloseTime     time.Time           `json:"close_time"`
	QuoteVolume   decimal.NullDecimal `json:"quote_volume"`
	TradeCount    sql.NullInt64       `json:"trade_count"`
	TakerBuyBase  decimal.NullDecimal `json:"taker_buy_base"`
	TakerBuyQuote decimal.NullDecimal `json:"taker_buy_quote"`

	// Ignore carries the trailing exchange column through file round trips.
	Ignore string `json:"ignore,omitempty"`
}

// ValidationError represents a kline validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the record's internal consistency. Missing values are not
// errors; only present values are compared. The rules are:
//   - open time is set and close time, when present, is not before it
//   - prices are positive and volumes non-negative
//   - high >= max(open, close) and low <= min(open, close)
func (k *Kline) Validate() error {
	if k.OpenTime.IsZero() {
		return &ValidationError{Field: "open_time", Message: "open time cannot be zero"}
	}
	if !k.CloseTime.IsZero() && k.CloseTime.Before(k.OpenTime) {
		return &ValidationError{Field: "close_time", Message: "close time is before open time"}
	}

	prices := []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"open", k.Open},
		{"high", k.High},
		{"low", k.Low},
		{"close", k.Close},
	}
	for _, p := range prices {
		if p.value.Valid && !p.value.Decimal.IsPositive() {
			return &ValidationError{Field: p.name, Message: fmt.Sprintf("%s price must be greater than 0", p.name)}
		}
	}

	volumes := []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"volume", k.Volume},
		{"quote_volume", k.QuoteVolume},
		{"taker_buy_base", k.TakerBuyBase},
		{"taker_buy_quote", k.TakerBuyQuote},
	}
	for _, v := range volumes {
		if v.value.Valid && v.value.Decimal.IsNegative() {
			return &ValidationError{Field: v.name, Message: fmt.Sprintf("%s must be greater than or equal to 0", v.name)}
		}
	}
	if k.TradeCount.Valid && k.TradeCount.Int64 < 0 {
		return &ValidationError{Field: "trade_count", Message: "trade count must be greater than or equal to 0"}
	}

	if k.Open.Valid && k.Close.Valid {
		if k.High.Valid {
			maxOpenClose := decimal.Max(k.Open.Decimal, k.Close.Decimal)
			if k.High.Decimal.LessThan(maxOpenClose) {
				return &ValidationError{
					Field:   "high",
					Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", k.High.Decimal, maxOpenClose),
				}
			}
		}
		if k.Low.Valid {
			minOpenClose := decimal.Min(k.Open.Decimal, k.Close.Decimal)
			if k.Low.Decimal.GreaterThan(minOpenClose) {
				return &ValidationError{
					Field:   "low",
					Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", k.Low.Decimal, minOpenClose),
				}
			}
		}
	}

	return nil
}

// MissingFields returns the names of fields holding the missing marker.
func (k *Kline) MissingFields() []string {
	var missing []string
	fields := []struct {
		name  string
		valid bool
	}{
		{"open", k.Open.Valid},
		{"high", k.High.Valid},
		{"low", k.Low.Valid},
		{"close", k.Close.Valid},
		{"volume", k.Volume.Valid},
		{"close_time", !k.CloseTime.IsZero()},
		{"quote_volume", k.QuoteVolume.Valid},
		{"trade_count", k.TradeCount.Valid},
		{"taker_buy_base", k.TakerBuyBase.Valid},
		{"taker_buy_quote", k.TakerBuyQuote.Valid},
	}
	for _, f := range fields {
		if !f.valid {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Equal reports whether two records carry the same values. Decimals compare
// numerically, so "1.50" equals "1.5".
func (k Kline) Equal(other Kline) bool {
	return k.OpenTime.Equal(other.OpenTime) &&
		k.CloseTime.Equal(other.CloseTime) &&
		nullDecimalEqual(k.Open, other.Open) &&
		nullDecimalEqual(k.High, other.High) &&
		nullDecimalEqual(k.Low, other.Low) &&
		nullDecimalEqual(k.Close, other.Close) &&
		nullDecimalEqual(k.Volume, other.Volume) &&
		nullDecimalEqual(k.QuoteVolume, other.QuoteVolume) &&
		k.TradeCount == other.TradeCount &&
		nullDecimalEqual(k.TakerBuyBase, other.TakerBuyBase) &&
		nullDecimalEqual(k.TakerBuyQuote, other.TakerBuyQuote) &&
		k.Ignore == other.Ignore
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// String returns a human-readable representation of the record.
func (k Kline) String() string {
	return fmt.Sprintf("Kline{OpenTime: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		FormatTimestamp(k.OpenTime),
		FormatNullDecimal(k.Open), FormatNullDecimal(k.High), FormatNullDecimal(k.Low),
		FormatNullDecimal(k.Close), FormatNullDecimal(k.Volume))
}

// ParseNullDecimal parses s as a decimal. Empty or unparseable text yields
// the missing marker.
func ParseNullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// FormatNullDecimal renders d as text, using the empty string for missing.
func FormatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// MustDecimal builds a present NullDecimal from a literal. It panics on bad
// input and is meant for tests and constants.
func MustDecimal(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// RawKline is one kline row as the exchange returns it: twelve positional
// values, JSON numbers for times and counts and strings for decimals.
type RawKline []any
