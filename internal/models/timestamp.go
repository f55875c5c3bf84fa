package models

import (
	"fmt"
	"strings"
	"time"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
)

const (
	// bareLayout also accepts fractional seconds when parsing.
	bareLayout = "2006-01-02 15:04:05"
	// canonicalLayout is the millisecond layout written before the zone marker.
	canonicalLayout = "2006-01-02 15:04:05.000"
	zoneMarker      = " UTC"

	// maxAmbiguitySamples bounds how many offending values an error reports.
	maxAmbiguitySamples = 3
)

// TimestampFormat identifies one of the two timestamp encodings found in
// dataset files.
type TimestampFormat int

const (
	// TimestampUnknown matches no supported encoding.
	TimestampUnknown TimestampFormat = iota
	// TimestampBare is "2024-01-01 00:00:00", optionally with fractional
	// seconds, implicitly UTC.
	TimestampBare
	// TimestampZoned is "2024-01-01 00:00:00.000 UTC".
	TimestampZoned
)

func (f TimestampFormat) String() string {
	switch f {
	case TimestampBare:
		return "bare"
	case TimestampZoned:
		return "zoned"
	default:
		return "unknown"
	}
}

// FormatTimestamp renders t in the canonical "YYYY-MM-DD HH:MM:SS.mmm UTC"
// form. The zero time renders as the empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(canonicalLayout) + zoneMarker
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToMillis converts t to epoch milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// TruncateMillis drops sub-millisecond precision and normalizes to UTC.
func TruncateMillis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ClassifyTimestamp reports which encoding s uses.
func ClassifyTimestamp(s string) TimestampFormat {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, zoneMarker) {
		if _, err := time.ParseInLocation(bareLayout, strings.TrimSuffix(s, zoneMarker), time.UTC); err == nil {
			return TimestampZoned
		}
		return TimestampUnknown
	}
	if _, err := time.ParseInLocation(bareLayout, s, time.UTC); err == nil {
		return TimestampBare
	}
	return TimestampUnknown
}

// ParseTimestamp parses s according to f and returns a UTC time truncated to
// milliseconds.
func ParseTimestamp(s string, f TimestampFormat) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch f {
	case TimestampZoned:
		if !strings.HasSuffix(s, zoneMarker) {
			return time.Time{}, fmt.Errorf("timestamp %q lacks the %q marker", s, strings.TrimSpace(zoneMarker))
		}
		s = strings.TrimSuffix(s, zoneMarker)
	case TimestampBare:
		if strings.HasSuffix(s, zoneMarker) {
			return time.Time{}, fmt.Errorf("timestamp %q carries a zone marker in a bare column", s)
		}
	default:
		return time.Time{}, fmt.Errorf("cannot parse timestamp %q with %s format", s, f)
	}

	t, err := time.ParseInLocation(bareLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return TruncateMillis(t), nil
}

// DetectTimestampFormat classifies a column of timestamp text. Empty cells are
// skipped. A column mixing encodings, or holding a value matching neither,
// yields *errors.FormatAmbiguityError. A column with no values at all is
// reported as TimestampUnknown with a nil error.
func DetectTimestampFormat(column string, values []string) (TimestampFormat, error) {
	detected := TimestampUnknown
	var firstValue string

	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		f := ClassifyTimestamp(v)
		if f == TimestampUnknown {
			return TimestampUnknown, &errs.FormatAmbiguityError{
				Column:  column,
				Reason:  "value matches no supported encoding",
				Samples: []string{v},
			}
		}
		if detected == TimestampUnknown {
			detected = f
			firstValue = v
			continue
		}
		if f != detected {
			return TimestampUnknown, &errs.FormatAmbiguityError{
				Column:  column,
				Reason:  fmt.Sprintf("samples disagree between %s and %s encodings", detected, f),
				Samples: limitSamples([]string{firstValue, v}),
			}
		}
	}

	return detected, nil
}

func limitSamples(samples []string) []string {
	if len(samples) > maxAmbiguitySamples {
		return samples[:maxAmbiguitySamples]
	}
	return samples
}
