package backfill

import "time"

// PlanGaps returns the sub-windows of query that must be fetched remotely.
//
// At most two windows are returned, leading gap first:
//   - leading: [query.Start, local.Earliest) when local data starts late, or
//     the whole query window when the local store has no data at all
//   - trailing: [local.Latest, query.End) when local data ends early
//
// The trailing gap starts at the last stored sample itself, so a run over
// up-to-date history still makes one remote call; the Executor then drops the
// already stored boundary sample and writes nothing.
//
// Each candidate is clamped to [remote.Earliest, remote.Latest) and dropped
// if either remote bound is absent or nothing remains after clamping.
func PlanGaps(query TimeWindow, local, remote CoverageBounds) []TimeWindow {
	if query.Empty() {
		return nil
	}

	var gaps []TimeWindow

	if !local.Earliest.Valid || local.Earliest.Time.After(query.Start) {
		end := query.End
		if local.Earliest.Valid {
			end = earliest(local.Earliest.Time, query.End)
		}
		if gap, ok := clampToRemote(TimeWindow{Start: query.Start, End: end}, remote); ok {
			gaps = append(gaps, gap)
		}
	}

	// Without a local earliest the leading gap already spans the whole query
	// window, so a trailing gap would only overlap it.
	if local.Earliest.Valid && local.Latest.Valid && local.Latest.Time.Before(query.End) {
		if gap, ok := clampToRemote(TimeWindow{Start: latest(local.Latest.Time, query.Start), End: query.End}, remote); ok {
			gaps = append(gaps, gap)
		}
	}

	return gaps
}

// clampToRemote narrows candidate to what the remote reports it holds.
func clampToRemote(candidate TimeWindow, remote CoverageBounds) (TimeWindow, bool) {
	if !remote.Complete() {
		return TimeWindow{}, false
	}
	w := TimeWindow{
		Start: latest(candidate.Start, remote.Earliest.Time),
		End:   earliest(candidate.End, remote.Latest.Time),
	}
	if w.Empty() {
		return TimeWindow{}, false
	}
	return w, true
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
