package models

import (
	"fmt"
	"strings"
	"time"
)

// Interval is an exchange kline interval such as "15m" or "1d". The set is
// open; Duration only knows the exchange's published values.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval3d:  72 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// Duration returns the length of one kline. ok is false for intervals whose
// length is not fixed or not known.
func (i Interval) Duration() (time.Duration, bool) {
	d, ok := intervalDurations[i]
	return d, ok
}

// Validate rejects empty or malformed interval names.
func (i Interval) Validate() error {
	s := string(i)
	if s == "" {
		return fmt.Errorf("interval cannot be empty")
	}
	if strings.ContainsAny(s, " /\\") {
		return fmt.Errorf("interval %q contains invalid characters", s)
	}
	return nil
}

func (i Interval) String() string { return string(i) }

// FetchWindow is the time range requested from the exchange for one
// symbol and interval. Start is inclusive; a zero End means "now".
type FetchWindow struct {
	Symbol   string    `json:"symbol"`
	Interval Interval  `json:"interval"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Validate checks that the window names a symbol and a non-inverted range.
func (w FetchWindow) Validate() error {
	if w.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if err := w.Interval.Validate(); err != nil {
		return err
	}
	if w.Start.IsZero() {
		return fmt.Errorf("start time cannot be zero")
	}
	if !w.End.IsZero() && w.End.Before(w.Start) {
		return fmt.Errorf("end time %s is before start time %s", FormatTimestamp(w.End), FormatTimestamp(w.Start))
	}
	return nil
}

// String renders the window for logs and error messages.
func (w FetchWindow) String() string {
	end := "now"
	if !w.End.IsZero() {
		end = FormatTimestamp(w.End)
	}
	return fmt.Sprintf("%s %s [%s, %s]", w.Symbol, w.Interval, FormatTimestamp(w.Start), end)
}
