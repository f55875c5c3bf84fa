package models

import (
	"fmt"
	"sort"
	"time"
)

// Dataset is an ordered sequence of klines for one symbol and interval.
// A valid dataset has strictly unique open times in ascending order.
type Dataset []Kline

// InvariantError describes the first position at which a dataset breaks its
// ordering or uniqueness invariant.
type InvariantError struct {
	Index    int
	OpenTime time.Time
	Reason   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("record %d (%s): %s", e.Index, FormatTimestamp(e.OpenTime), e.Reason)
}

// Validate checks that open times are set, strictly unique and ascending.
func (d Dataset) Validate() error {
	for i := range d {
		if d[i].OpenTime.IsZero() {
			return &InvariantError{Index: i, Reason: "open time is missing"}
		}
		if i == 0 {
			continue
		}
		prev, cur := d[i-1].OpenTime, d[i].OpenTime
		switch {
		case cur.Equal(prev):
			return &InvariantError{Index: i, OpenTime: cur, Reason: "duplicate open time"}
		case cur.Before(prev):
			return &InvariantError{Index: i, OpenTime: cur, Reason: fmt.Sprintf("open time precedes %s", FormatTimestamp(prev))}
		}
	}
	return nil
}

// Clone returns a copy that shares no backing array with d.
func (d Dataset) Clone() Dataset {
	if d == nil {
		return nil
	}
	out := make(Dataset, len(d))
	copy(out, d)
	return out
}

// SortStable sorts d in place by open time, keeping the relative order of
// records with equal open times.
func (d Dataset) SortStable() {
	sort.SliceStable(d, func(i, j int) bool {
		return d[i].OpenTime.Before(d[j].OpenTime)
	})
}

// Dedup returns the records of d keeping the first occurrence of every open
// time. Input order is preserved.
func (d Dataset) Dedup() (Dataset, int) {
	seen := make(map[int64]struct{}, len(d))
	out := make(Dataset, 0, len(d))
	removed := 0
	for _, k := range d {
		key := k.OpenTime.UnixMilli()
		if _, dup := seen[key]; dup {
			removed++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out, removed
}

// First returns the earliest record. ok is false for an empty dataset.
func (d Dataset) First() (Kline, bool) {
	if len(d) == 0 {
		return Kline{}, false
	}
	return d[0], true
}

// Last returns the latest record. ok is false for an empty dataset.
func (d Dataset) Last() (Kline, bool) {
	if len(d) == 0 {
		return Kline{}, false
	}
	return d[len(d)-1], true
}

// MinOpenTime scans d for its earliest open time without assuming order.
func (d Dataset) MinOpenTime() (time.Time, bool) {
	if len(d) == 0 {
		return time.Time{}, false
	}
	min := d[0].OpenTime
	for _, k := range d[1:] {
		if k.OpenTime.Before(min) {
			min = k.OpenTime
		}
	}
	return min, true
}

// OpenTimes lists the open times of d in order.
func (d Dataset) OpenTimes() []time.Time {
	out := make([]time.Time, len(d))
	for i, k := range d {
		out[i] = k.OpenTime
	}
	return out
}

// Equal reports whether both datasets hold equal records in the same order.
func (d Dataset) Equal(other Dataset) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if !d[i].Equal(other[i]) {
			return false
		}
	}
	return true
}
