package backfill

import (
	"context"
	"fmt"
)

// LocalStore is the local time-series store, partitioned by item key.
type LocalStore interface {
	// QuerySamples returns the stored samples of item inside [w.Start, w.End).
	QuerySamples(ctx context.Context, item string, w TimeWindow) ([]Sample, error)

	// StoreSamples upserts samples for item keyed by their own timestamps.
	// Writing an existing timestamp again must leave one sample behind.
	StoreSamples(ctx context.Context, item string, samples []Sample) error
}

// ExtremaReader is implemented by stores that can report the earliest and
// latest sample timestamps without returning every sample.
type ExtremaReader interface {
	Extrema(ctx context.Context, item string, w TimeWindow) (CoverageBounds, error)
}

// LocalCoverageInspector reports what the local store holds for an item.
type LocalCoverageInspector struct {
	store LocalStore
}

// NewLocalCoverageInspector creates an inspector over store.
func NewLocalCoverageInspector(store LocalStore) *LocalCoverageInspector {
	return &LocalCoverageInspector{store: store}
}

// LocalCoverage returns the earliest and latest timestamps stored for item
// within w, asking the store for extrema directly when it supports that.
func (i *LocalCoverageInspector) LocalCoverage(ctx context.Context, item string, w TimeWindow) (CoverageBounds, error) {
	if w.Empty() {
		return CoverageBounds{}, nil
	}

	if er, ok := i.store.(ExtremaReader); ok {
		bounds, err := er.Extrema(ctx, item, w)
		if err != nil {
			return CoverageBounds{}, fmt.Errorf("local extrema for %s: %w", item, err)
		}
		return bounds, nil
	}

	samples, err := i.store.QuerySamples(ctx, item, w)
	if err != nil {
		return CoverageBounds{}, fmt.Errorf("local samples for %s: %w", item, err)
	}

	var bounds CoverageBounds
	for _, s := range samples {
		if w.Contains(s.Timestamp) {
			bounds.observe(s.Timestamp)
		}
	}
	return bounds, nil
}
