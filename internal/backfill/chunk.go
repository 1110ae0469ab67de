package backfill

import "iter"

// Chunks splits w into consecutive sub-windows no longer than MaxSpan(g).
//
// The returned sequence is lazy and may be ranged over any number of times.
// Chunks are contiguous, do not overlap and their union is exactly w; only the
// last one may be shorter than the limit. An empty window yields nothing.
func Chunks(w TimeWindow, g Granularity) (iter.Seq[TimeWindow], error) {
	span, err := MaxSpan(g)
	if err != nil {
		return nil, err
	}

	return func(yield func(TimeWindow) bool) {
		for start := w.Start; start.Before(w.End); {
			end := start.Add(span)
			if end.After(w.End) {
				end = w.End
			}
			if !yield(TimeWindow{Start: start, End: end}) {
				return
			}
			start = end
		}
	}, nil
}
