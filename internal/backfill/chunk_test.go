package backfill

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func collect(t *testing.T, w TimeWindow, g Granularity) []TimeWindow {
	t.Helper()
	seq, err := Chunks(w, g)
	if err != nil {
		t.Fatalf("Chunks(%s, %s) error = %v", w, g, err)
	}
	return slices.Collect(seq)
}

func TestChunksColdStart(t *testing.T) {
	got := collect(t, window("2024-01-01", "2024-02-01"), HalfHour)

	want := []TimeWindow{
		window("2024-01-01", "2024-01-11"),
		window("2024-01-11", "2024-01-21"),
		window("2024-01-21", "2024-01-31"),
		window("2024-01-31", "2024-02-01"),
	}
	if !slices.Equal(got, want) {
		t.Fatalf("Chunks() = %v, want %v", got, want)
	}
}

func TestChunksCoverWindowExactly(t *testing.T) {
	base := day0("2024-03-01")
	spans := []time.Duration{
		time.Minute,
		30 * time.Minute,
		10 * 24 * time.Hour,
		10*24*time.Hour + time.Second,
		95*24*time.Hour + 7*time.Hour,
		400 * 24 * time.Hour,
	}

	for g := HalfHour; g < granularityCount; g++ {
		limit, _ := MaxSpan(g)
		for _, span := range spans {
			w := TimeWindow{Start: base, End: base.Add(span)}
			chunks := collect(t, w, g)

			if len(chunks) == 0 {
				t.Fatalf("%s %s: no chunks", g, w)
			}
			if !chunks[0].Start.Equal(w.Start) {
				t.Errorf("%s %s: first chunk starts at %s", g, w, chunks[0].Start)
			}
			if last := chunks[len(chunks)-1]; !last.End.Equal(w.End) {
				t.Errorf("%s %s: last chunk ends at %s", g, w, last.End)
			}

			var total time.Duration
			for i, c := range chunks {
				if c.Empty() {
					t.Errorf("%s %s: chunk %d empty", g, w, i)
				}
				if c.Duration() > limit {
					t.Errorf("%s %s: chunk %d spans %v, limit %v", g, w, i, c.Duration(), limit)
				}
				if i < len(chunks)-1 && c.Duration() != limit {
					t.Errorf("%s %s: non-final chunk %d spans %v", g, w, i, c.Duration())
				}
				if i > 0 && !chunks[i-1].End.Equal(c.Start) {
					t.Errorf("%s %s: chunk %d not contiguous with previous", g, w, i)
				}
				total += c.Duration()
			}
			if total != w.Duration() {
				t.Errorf("%s %s: chunks total %v, want %v", g, w, total, w.Duration())
			}
		}
	}
}

func TestChunksEmptyWindow(t *testing.T) {
	start := day0("2024-01-01")
	for _, w := range []TimeWindow{
		{Start: start, End: start},
		{Start: start, End: start.Add(-time.Hour)},
	} {
		if got := collect(t, w, HalfHour); len(got) != 0 {
			t.Errorf("Chunks(%s) = %v, want none", w, got)
		}
	}
}

func TestChunksRestartable(t *testing.T) {
	seq, err := Chunks(window("2024-01-01", "2024-03-01"), HalfHour)
	if err != nil {
		t.Fatalf("Chunks() error = %v", err)
	}

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Fatalf("second iteration = %v, want %v", second, first)
	}
}

func TestChunksStopEarly(t *testing.T) {
	seq, err := Chunks(window("2024-01-01", "2025-01-01"), HalfHour)
	if err != nil {
		t.Fatalf("Chunks() error = %v", err)
	}

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("iterated %d chunks, want 2", n)
	}
}

func TestChunksUnknownGranularity(t *testing.T) {
	_, err := Chunks(window("2024-01-01", "2024-02-01"), Granularity(-1))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Chunks() error = %v, want ErrConfiguration", err)
	}
}
