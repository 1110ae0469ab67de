package backfill

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow returns the window [start, end).
func NewTimeWindow(start, end time.Time) TimeWindow {
	return TimeWindow{Start: start, End: end}
}

// Empty reports whether the window contains no instant.
func (w TimeWindow) Empty() bool {
	return !w.Start.Before(w.End)
}

// Duration returns the span of the window, or zero for an empty window.
func (w TimeWindow) Duration() time.Duration {
	if w.Empty() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Contains reports whether t lies inside [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

// Sample is a single reading. Values are stored verbatim, no unit conversion.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// OptionalTime is a timestamp that may be absent.
type OptionalTime struct {
	Time  time.Time
	Valid bool
}

// Some returns a present timestamp.
func Some(t time.Time) OptionalTime {
	return OptionalTime{Time: t, Valid: true}
}

// None returns an absent timestamp.
func None() OptionalTime {
	return OptionalTime{}
}

func (o OptionalTime) String() string {
	if !o.Valid {
		return "none"
	}
	return o.Time.UTC().Format(time.RFC3339)
}

// CoverageBounds holds the earliest and latest timestamps observed in a store.
//
// An absent bound means "no data observed". It is never taken as proof that
// data is missing upstream; planners treat it as a gap.
type CoverageBounds struct {
	Earliest OptionalTime
	Latest   OptionalTime
}

// Empty reports whether neither bound is known.
func (b CoverageBounds) Empty() bool {
	return !b.Earliest.Valid && !b.Latest.Valid
}

// Complete reports whether both bounds are known.
func (b CoverageBounds) Complete() bool {
	return b.Earliest.Valid && b.Latest.Valid
}

func (b CoverageBounds) String() string {
	return fmt.Sprintf("{earliest=%s latest=%s}", b.Earliest, b.Latest)
}

// observe widens the bounds to include t.
func (b *CoverageBounds) observe(t time.Time) {
	if !b.Earliest.Valid || t.Before(b.Earliest.Time) {
		b.Earliest = Some(t)
	}
	if !b.Latest.Valid || t.After(b.Latest.Time) {
		b.Latest = Some(t)
	}
}
