// Package merger reconciles a large historical dataset with a freshly fetched
// window.
//
// Only the tail of the existing dataset that can overlap the new window is
// reprocessed. Everything before the cutoff is carried over untouched, which
// keeps the cost of a merge proportional to the window rather than to the
// history.
package merger

import (
	"fmt"
	"time"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// DefaultRetention is how far back from now existing records are reprocessed.
const DefaultRetention = 30 * 24 * time.Hour

// Clock returns the current time.
type Clock func() time.Time

// Plan is the partition computed for one merge call.
type Plan struct {
	Cutoff   time.Time
	Old      models.Dataset // existing records before Cutoff
	Recent   models.Dataset // existing records at or after Cutoff
	Incoming models.Dataset
}

// Stats summarizes one merge.
type Stats struct {
	Cutoff            time.Time `json:"cutoff"`
	Existing          int       `json:"existing"`
	Old               int       `json:"old"`
	Recent            int       `json:"recent"`
	Incoming          int       `json:"incoming"`
	DuplicatesRemoved int       `json:"duplicates_removed"`
	Added             int       `json:"added"`
	Total             int       `json:"total"`
}

// Merger merges datasets under a retention window.
type Merger struct {
	retention time.Duration
	now       Clock
}

// New creates a Merger. A non-positive retention falls back to
// DefaultRetention and a nil clock to time.Now.
func New(retention time.Duration, clock Clock) *Merger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	return &Merger{retention: retention, now: clock}
}

// Retention returns the configured retention window.
func (m *Merger) Retention() time.Duration {
	return m.retention
}

// Plan computes the cutoff and partitions existing around it. The cutoff is
// the earlier of now minus retention and the earliest incoming open time, so
// a window reaching further back than the retention still overlaps every
// record it could duplicate.
func (m *Merger) Plan(existing, incoming models.Dataset) Plan {
	cutoff := m.now().UTC().Add(-m.retention)
	if minIncoming, ok := incoming.MinOpenTime(); ok && minIncoming.Before(cutoff) {
		cutoff = minIncoming
	}

	plan := Plan{Cutoff: cutoff, Incoming: incoming}
	for i := range existing {
		if existing[i].OpenTime.Before(cutoff) {
			plan.Old = append(plan.Old, existing[i])
		} else {
			plan.Recent = append(plan.Recent, existing[i])
		}
	}
	return plan
}

// Merge returns a new dataset holding existing and incoming, unique by open
// time and ascending. When both contain the same open time the existing
// record is kept. Neither input is modified.
//
// A result that breaks uniqueness or ordering, which can only happen when
// existing itself was invalid before the cutoff, is reported as
// *errors.MergeInvariantViolation.
func (m *Merger) Merge(existing, incoming models.Dataset) (models.Dataset, Stats, error) {
	plan := m.Plan(existing, incoming)

	segment := make(models.Dataset, 0, len(plan.Recent)+len(plan.Incoming))
	segment = append(segment, plan.Recent...)
	segment = append(segment, plan.Incoming...)

	segment, removed := segment.Dedup()
	segment.SortStable()

	merged := make(models.Dataset, 0, len(plan.Old)+len(segment))
	merged = append(merged, plan.Old...)
	merged = append(merged, segment...)
	merged.SortStable()

	stats := Stats{
		Cutoff:            plan.Cutoff,
		Existing:          len(existing),
		Old:               len(plan.Old),
		Recent:            len(plan.Recent),
		Incoming:          len(plan.Incoming),
		DuplicatesRemoved: removed,
		Added:             len(merged) - len(existing),
		Total:             len(merged),
	}

	if err := merged.Validate(); err != nil {
		return nil, stats, &errs.MergeInvariantViolation{Err: fmt.Errorf("merged dataset: %w", err)}
	}
	return merged, stats, nil
}
