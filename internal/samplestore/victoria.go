package samplestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/tsdb"
)

// victoriaAPI is the part of tsdb.Client the store needs.
type victoriaAPI interface {
	WritePoints(ctx context.Context, points []tsdb.Point) error
	Export(ctx context.Context, selector string, start, end time.Time) ([]tsdb.Series, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Victoria keeps samples in VictoriaMetrics. A sample of item is written as
// metric,item=<item> value=<v> and read back as series metric_value.
//
// VictoriaMetrics keeps every write, so duplicate timestamps can exist until
// deduplication runs. Reads keep the last value of each timestamp.
type Victoria struct {
	client victoriaAPI
	metric string
}

var _ Store = (*Victoria)(nil)

// NewVictoria returns a store writing metric through client. An empty metric
// defaults to meter_history.
func NewVictoria(client *tsdb.Client, metric string) *Victoria {
	return newVictoria(client, metric)
}

func newVictoria(client victoriaAPI, metric string) *Victoria {
	if metric == "" {
		metric = defaultMeasurement
	}
	return &Victoria{client: client, metric: metric}
}

// Name returns "tsdb".
func (s *Victoria) Name() string { return "tsdb" }

// HealthCheck checks /health.
func (s *Victoria) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// Close closes the client.
func (s *Victoria) Close() error {
	return s.client.Close()
}

// QuerySamples exports the samples of item inside w, oldest first.
func (s *Victoria) QuerySamples(ctx context.Context, item string, w backfill.TimeWindow) ([]backfill.Sample, error) {
	if w.Empty() {
		return nil, nil
	}

	// Export bounds are inclusive.
	series, err := s.client.Export(ctx, s.selector(item), w.Start, w.End.Add(-time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("exporting samples of %s: %w", item, err)
	}

	var samples []backfill.Sample
	for _, sr := range series {
		for i, ms := range sr.Timestamps {
			ts := fromMillis(ms)
			if !w.Contains(ts) {
				continue
			}
			samples = append(samples, backfill.Sample{Timestamp: ts, Value: sr.Values[i]})
		}
	}
	return normalise(samples), nil
}

// StoreSamples writes samples with their own timestamps.
func (s *Victoria) StoreSamples(ctx context.Context, item string, samples []backfill.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	points := make([]tsdb.Point, 0, len(samples))
	for _, sample := range samples {
		points = append(points, tsdb.Point{
			Measurement: s.metric,
			Tags:        map[string]string{itemTag: item},
			Fields:      map[string]any{valueField: sample.Value},
			Time:        sample.Timestamp.Truncate(time.Millisecond),
		})
	}
	if err := s.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("storing %d samples of %s: %w", len(samples), item, err)
	}
	return nil
}

// Extrema returns the first and last exported timestamps of item in w.
func (s *Victoria) Extrema(ctx context.Context, item string, w backfill.TimeWindow) (backfill.CoverageBounds, error) {
	samples, err := s.QuerySamples(ctx, item, w)
	if err != nil {
		return backfill.CoverageBounds{}, err
	}
	return boundsOf(samples), nil
}

// selector matches the series of item.
func (s *Victoria) selector(item string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return fmt.Sprintf(`%s_%s{%s="%s"}`, s.metric, valueField, itemTag, r.Replace(item))
}
