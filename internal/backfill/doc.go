// Package backfill keeps the local history of metered resources complete.
//
// A synchronisation run compares what the local time-series store already
// holds for an item against what the remote metering API reports it has for
// the matching resource, and fetches only the missing ranges.
//
// # Flow
//
//	Executor.Synchronize
//	  ├── RemoteBoundsResolver.Bounds       (earliest/latest remote timestamps)
//	  ├── LocalCoverageInspector.LocalCoverage (earliest/latest local timestamps)
//	  ├── PlanGaps                          (leading and trailing gaps, clamped)
//	  ├── Chunks                            (split to the remote span limit)
//	  └── RemoteAPI.Readings → LocalStore.StoreSamples
//
// Local coverage is assumed to be one contiguous interval. A store with
// disjoint islands of data will have the holes between them left unfilled.
//
// # Failure Semantics
//
// The first remote or store error aborts the run and is returned unchanged.
// Chunks written before the failure stay written; the next run plans from the
// new local coverage, so no resume state is kept.
//
// # Thread Safety
//
// Executor serialises runs per resource ID. Runs for different resources may
// proceed concurrently; the LocalStore must tolerate concurrent writes to
// different items.
package backfill
