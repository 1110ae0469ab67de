package backfill

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the aggregation period of a remote reading series.
type Granularity int

// Supported granularities. Backfill always uses HalfHour, the finest one.
const (
	HalfHour Granularity = iota
	Hour
	Day
	Week
	Month
	Year

	granularityCount
)

const day = 24 * time.Hour

// periodLimits is the maximum span of a single remote query per granularity.
// These are limits imposed by the metering provider; revalidate against the
// provider documentation before changing any of them.
var periodLimits = [granularityCount]time.Duration{
	HalfHour: 10 * day,
	Hour:     31 * day,
	Day:      31 * day,
	Week:     42 * day,
	Month:    366 * day,
	Year:     366 * day,
}

// granularityNames are the ISO-8601 period codes used on the wire.
var granularityNames = [granularityCount]string{
	HalfHour: "PT30M",
	Hour:     "PT1H",
	Day:      "P1D",
	Week:     "P1W",
	Month:    "P1M",
	Year:     "P1Y",
}

func init() {
	for g, limit := range periodLimits {
		if limit <= 0 || granularityNames[g] == "" {
			panic(fmt.Sprintf("backfill: period table incomplete for granularity %d", g))
		}
	}
}

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	return g >= HalfHour && g < granularityCount
}

func (g Granularity) String() string {
	if !g.Valid() {
		return fmt.Sprintf("Granularity(%d)", int(g))
	}
	return granularityNames[g]
}

// ParseGranularity parses an ISO-8601 period code such as "PT30M".
func ParseGranularity(s string) (Granularity, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for g, name := range granularityNames {
		if name == s {
			return Granularity(g), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown granularity %q", ErrConfiguration, s)
}

// MaxSpan returns the largest window a single remote query may cover at the
// given granularity.
func MaxSpan(g Granularity) (time.Duration, error) {
	if !g.Valid() {
		return 0, fmt.Errorf("%w: no period limit for %s", ErrConfiguration, g)
	}
	return periodLimits[g], nil
}

// Aggregation is the function the remote applies within each period.
type Aggregation string

// Supported aggregation functions.
const (
	Sum Aggregation = "sum"
	Avg Aggregation = "avg"
	Min Aggregation = "min"
	Max Aggregation = "max"
)
