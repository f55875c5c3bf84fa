package models

import (
	"errors"
	"fmt"
	"time"
)

// Gap is a run of missing klines inside a dataset. StartTime is the open time
// of the first missing kline; EndTime is the open time of the next record that
// is present.
type Gap struct {
	Symbol    string    `json:"symbol"`
	Interval  Interval  `json:"interval"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// NewGap creates a gap and validates it.
func NewGap(symbol string, interval Interval, startTime, endTime time.Time) (*Gap, error) {
	gap := &Gap{
		Symbol:    symbol,
		Interval:  interval,
		StartTime: startTime.UTC(),
		EndTime:   endTime.UTC(),
	}
	if err := gap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gap: %w", err)
	}
	return gap, nil
}

// Validate checks that the gap covers a positive range.
func (g *Gap) Validate() error {
	if g.StartTime.IsZero() || g.EndTime.IsZero() {
		return errors.New("gap bounds cannot be zero")
	}
	if !g.EndTime.After(g.StartTime) {
		return fmt.Errorf("gap end %s must be after start %s", FormatTimestamp(g.EndTime), FormatTimestamp(g.StartTime))
	}
	return g.Interval.Validate()
}

// Duration returns the duration of the gap
func (g *Gap) Duration() time.Duration {
	return g.EndTime.Sub(g.StartTime)
}

// MissingKlines returns how many klines the gap spans.
func (g *Gap) MissingKlines() (int, error) {
	d, ok := g.Interval.Duration()
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", g.Interval)
	}
	return int(g.Duration() / d), nil
}

// String returns a human-readable string representation of the gap
func (g *Gap) String() string {
	return fmt.Sprintf("Gap{Symbol: %s, Interval: %s, Start: %s, End: %s}",
		g.Symbol, g.Interval, FormatTimestamp(g.StartTime), FormatTimestamp(g.EndTime))
}
