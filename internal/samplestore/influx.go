package samplestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/influxdb"
)

const (
	defaultMeasurement = "meter_history"
	itemTag            = "item"
	valueField         = "value"
)

// influxAPI is the part of influxdb.Client the store needs.
type influxAPI interface {
	WritePoints(ctx context.Context, points []*write.Point) error
	QueryValues(ctx context.Context, flux string) ([]influxdb.Record, error)
	Bucket() string
	HealthCheck(ctx context.Context) error
	Close() error
}

// Influx keeps samples in an InfluxDB v2 bucket as
// measurement,item=<item> value=<v>. A point written twice for the same
// series and timestamp replaces the earlier one.
type Influx struct {
	client      influxAPI
	measurement string
}

var _ Store = (*Influx)(nil)

// NewInflux returns a store writing to measurement through client. An empty
// measurement defaults to meter_history.
func NewInflux(client *influxdb.Client, measurement string) *Influx {
	return newInflux(client, measurement)
}

func newInflux(client influxAPI, measurement string) *Influx {
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &Influx{client: client, measurement: measurement}
}

// Name returns "influxdb".
func (s *Influx) Name() string { return "influxdb" }

// HealthCheck pings the server.
func (s *Influx) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// Close closes the client.
func (s *Influx) Close() error {
	return s.client.Close()
}

// QuerySamples returns the samples of item inside w, oldest first.
func (s *Influx) QuerySamples(ctx context.Context, item string, w backfill.TimeWindow) ([]backfill.Sample, error) {
	if w.Empty() {
		return nil, nil
	}
	records, err := s.client.QueryValues(ctx, s.flux(item, w, `|> sort(columns: ["_time"])`))
	if err != nil {
		return nil, fmt.Errorf("querying samples of %s: %w", item, err)
	}

	samples := make([]backfill.Sample, 0, len(records))
	for _, r := range records {
		samples = append(samples, backfill.Sample{Timestamp: r.Time, Value: r.Value})
	}
	return normalise(samples), nil
}

// StoreSamples writes samples as points with their own timestamps.
func (s *Influx) StoreSamples(ctx context.Context, item string, samples []backfill.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(samples))
	for _, sample := range samples {
		points = append(points, write.NewPoint(
			s.measurement,
			map[string]string{itemTag: item},
			map[string]any{valueField: sample.Value},
			sample.Timestamp.Truncate(time.Millisecond),
		))
	}
	if err := s.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("storing %d samples of %s: %w", len(samples), item, err)
	}
	return nil
}

// Extrema returns the first and last sample timestamps of item in w.
func (s *Influx) Extrema(ctx context.Context, item string, w backfill.TimeWindow) (backfill.CoverageBounds, error) {
	if w.Empty() {
		return backfill.CoverageBounds{}, nil
	}

	var b backfill.CoverageBounds
	first, err := s.client.QueryValues(ctx, s.flux(item, w, "|> first()"))
	if err != nil {
		return b, fmt.Errorf("querying first sample of %s: %w", item, err)
	}
	last, err := s.client.QueryValues(ctx, s.flux(item, w, "|> last()"))
	if err != nil {
		return b, fmt.Errorf("querying last sample of %s: %w", item, err)
	}

	if len(first) > 0 {
		b.Earliest = backfill.Some(first[0].Time)
	}
	if len(last) > 0 {
		b.Latest = backfill.Some(last[len(last)-1].Time)
	}
	return b, nil
}

// flux builds a query over item in w followed by tail. range() stops are
// exclusive, matching TimeWindow.
func (s *Influx) flux(item string, w backfill.TimeWindow, tail string) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %s and r.%s == %s and r._field == %s)
  %s`,
		fluxString(s.client.Bucket()),
		w.Start.UTC().Format(time.RFC3339Nano), w.End.UTC().Format(time.RFC3339Nano),
		fluxString(s.measurement), itemTag, fluxString(item), fluxString(valueField),
		tail)
}

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}
