package backfill

import (
	"context"
	"sort"
	"sync"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func day0(date string) time.Time {
	return ts(date + "T00:00:00Z")
}

func window(start, end string) TimeWindow {
	return TimeWindow{Start: day0(start), End: day0(end)}
}

// halfHourly returns one sample per 30 minutes inside w.
func halfHourly(w TimeWindow) []Sample {
	var out []Sample
	for t := w.Start; t.Before(w.End); t = t.Add(30 * time.Minute) {
		out = append(out, Sample{Timestamp: t, Value: float64(t.Unix()%1000) / 10})
	}
	return out
}

// fakeRemote serves half-hourly data inside [earliest, latest).
type fakeRemote struct {
	mu sync.Mutex

	earliest OptionalTime
	latest   OptionalTime

	earliestErr error
	latestErr   error

	// failOn makes the n-th Readings call (1-based) return failErr.
	failOn  int
	failErr error

	// beforeReadings runs at the start of every Readings call.
	beforeReadings func(call int, w TimeWindow)

	boundsCalls int
	calls       []TimeWindow
}

func (f *fakeRemote) EarliestAvailable(context.Context, string) (OptionalTime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boundsCalls++
	return f.earliest, f.earliestErr
}

func (f *fakeRemote) LatestAvailable(context.Context, string) (OptionalTime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boundsCalls++
	return f.latest, f.latestErr
}

func (f *fakeRemote) Readings(_ context.Context, _ string, w TimeWindow, _ Granularity, _ Aggregation) ([]Sample, error) {
	f.mu.Lock()
	f.calls = append(f.calls, w)
	call := len(f.calls)
	hook := f.beforeReadings
	f.mu.Unlock()

	if hook != nil {
		hook(call, w)
	}
	if f.failOn > 0 && call == f.failOn {
		return nil, f.failErr
	}

	var out []Sample
	for _, s := range halfHourly(w) {
		if f.earliest.Valid && s.Timestamp.Before(f.earliest.Time) {
			continue
		}
		if f.latest.Valid && !s.Timestamp.Before(f.latest.Time) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRemote) readingCalls() []TimeWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TimeWindow, len(f.calls))
	copy(out, f.calls)
	return out
}

// memStore is an in-memory LocalStore keyed by item and Unix millisecond.
type memStore struct {
	mu     sync.Mutex
	items  map[string]map[int64]float64
	writes int

	queryErr error
	storeErr error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]map[int64]float64)}
}

func (m *memStore) QuerySamples(_ context.Context, item string, w TimeWindow) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []Sample
	for ms, v := range m.items[item] {
		t := time.UnixMilli(ms).UTC()
		if w.Contains(t) {
			out = append(out, Sample{Timestamp: t, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) StoreSamples(_ context.Context, item string, samples []Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	series, ok := m.items[item]
	if !ok {
		series = make(map[int64]float64)
		m.items[item] = series
	}
	for _, s := range samples {
		series[s.Timestamp.UnixMilli()] = s.Value
	}
	m.writes += len(samples)
	return nil
}

func (m *memStore) seed(item string, samples []Sample) {
	if err := m.StoreSamples(context.Background(), item, samples); err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.writes = 0
	m.mu.Unlock()
}

func (m *memStore) count(item string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[item])
}

func (m *memStore) written() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// extremaStore adds ExtremaReader to memStore.
type extremaStore struct {
	*memStore
	extremaCalls int
}

func (e *extremaStore) Extrema(ctx context.Context, item string, w TimeWindow) (CoverageBounds, error) {
	e.extremaCalls++
	samples, err := e.QuerySamples(ctx, item, w)
	if err != nil {
		return CoverageBounds{}, err
	}
	var b CoverageBounds
	for _, s := range samples {
		b.observe(s.Timestamp)
	}
	return b, nil
}
