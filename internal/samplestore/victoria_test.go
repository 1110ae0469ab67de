package samplestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/tsdb"
)

type fakeVictoria struct {
	written        []tsdb.Point
	series         []tsdb.Series
	selectors      []string
	start, end     time.Time
	writeErr, qErr error
}

func (f *fakeVictoria) WritePoints(_ context.Context, points []tsdb.Point) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, points...)
	return nil
}

func (f *fakeVictoria) Export(_ context.Context, selector string, start, end time.Time) ([]tsdb.Series, error) {
	f.selectors = append(f.selectors, selector)
	f.start, f.end = start, end
	return f.series, f.qErr
}

func (f *fakeVictoria) HealthCheck(context.Context) error { return nil }
func (f *fakeVictoria) Close() error                      { return nil }

func TestVictoria_StoreSamples(t *testing.T) {
	fake := &fakeVictoria{}
	store := newVictoria(fake, "")

	if err := store.StoreSamples(context.Background(), "energy", halfHourly(day0, 2)); err != nil {
		t.Fatalf("StoreSamples() error = %v", err)
	}
	if len(fake.written) != 2 {
		t.Fatalf("written = %d, want 2", len(fake.written))
	}
	p := fake.written[1]
	if p.Measurement != "meter_history" || p.Tags["item"] != "energy" || p.Fields["value"] != 2.0 {
		t.Errorf("point = %+v", p)
	}
	if !p.Time.Equal(day0.Add(30 * time.Minute)) {
		t.Errorf("point time = %v", p.Time)
	}
}

func TestVictoria_QuerySamples(t *testing.T) {
	ms := func(d time.Duration) int64 { return day0.Add(d).UnixMilli() }
	fake := &fakeVictoria{series: []tsdb.Series{
		{
			Metric:     map[string]string{"item": "energy"},
			Timestamps: []int64{ms(30 * time.Minute), ms(0), ms(30 * time.Minute), ms(time.Hour)},
			Values:     []float64{2, 1, 3, 9},
		},
	}}
	store := newVictoria(fake, "")
	w := window(day0, day0.Add(time.Hour))

	got, err := store.QuerySamples(context.Background(), "energy", w)
	if err != nil {
		t.Fatalf("QuerySamples() error = %v", err)
	}

	// Sorted, deduplicated (last write wins) and end-exclusive.
	if len(got) != 2 {
		t.Fatalf("QuerySamples() = %+v, want 2 samples", got)
	}
	if !got[0].Timestamp.Equal(day0) || got[0].Value != 1 || got[1].Value != 3 {
		t.Errorf("QuerySamples() = %+v", got)
	}

	if fake.selectors[0] != `meter_history_value{item="energy"}` {
		t.Errorf("selector = %q", fake.selectors[0])
	}
	if !fake.start.Equal(day0) || !fake.end.Equal(day0.Add(time.Hour-time.Millisecond)) {
		t.Errorf("export range = [%v, %v]", fake.start, fake.end)
	}
}

func TestVictoria_Extrema(t *testing.T) {
	fake := &fakeVictoria{series: []tsdb.Series{{
		Timestamps: []int64{day0.Add(2 * time.Hour).UnixMilli(), day0.Add(time.Hour).UnixMilli()},
		Values:     []float64{1, 1},
	}}}

	b, err := newVictoria(fake, "").Extrema(context.Background(), "energy", window(day0, day0.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("Extrema() error = %v", err)
	}
	if !b.Earliest.Time.Equal(day0.Add(time.Hour)) || !b.Latest.Time.Equal(day0.Add(2*time.Hour)) {
		t.Errorf("Extrema() = %s", b)
	}
}

func TestVictoria_Errors(t *testing.T) {
	boom := errors.New("boom")
	store := newVictoria(&fakeVictoria{writeErr: boom, qErr: boom}, "")
	ctx := context.Background()

	if err := store.StoreSamples(ctx, "energy", halfHourly(day0, 1)); !errors.Is(err, boom) {
		t.Errorf("StoreSamples() error = %v, want boom", err)
	}
	if _, err := store.Extrema(ctx, "energy", window(day0, day0.Add(time.Hour))); !errors.Is(err, boom) {
		t.Errorf("Extrema() error = %v, want boom", err)
	}
}

func TestVictoria_SelectorEscaping(t *testing.T) {
	store := newVictoria(&fakeVictoria{}, "history")
	if got, want := store.selector(`a"b\c`), `history_value{item="a\"b\\c"}`; got != want {
		t.Errorf("selector() = %s, want %s", got, want)
	}
}
