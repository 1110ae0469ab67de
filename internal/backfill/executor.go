package backfill

import (
	"context"
	"fmt"
	"time"
)

// backfillGranularity is the granularity every gap is fetched at.
const backfillGranularity = HalfHour

// Result summarises one synchronisation run.
type Result struct {
	ResourceID string         `json:"resource_id"`
	Item       string         `json:"item"`
	Query      TimeWindow     `json:"query"`
	Remote     CoverageBounds `json:"-"`
	Local      CoverageBounds `json:"-"`
	Gaps       []TimeWindow   `json:"gaps"`
	Chunks     int            `json:"chunks"`
	Samples    int            `json:"samples"`
	Skipped    int            `json:"skipped"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Executor fills the gaps in local history from the remote metering API.
//
// Runs for the same resource ID are serialised; runs for different resources
// may execute concurrently.
type Executor struct {
	remote    RemoteAPI
	store     LocalStore
	bounds    *RemoteBoundsResolver
	inspector *LocalCoverageInspector
	locks     *resourceLocks
	now       func() time.Time
	logger    Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock overrides the clock used to stamp results.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an Executor reading from remote and writing to store.
func NewExecutor(remote RemoteAPI, store LocalStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		remote:    remote,
		store:     store,
		bounds:    NewRemoteBoundsResolver(remote),
		inspector: NewLocalCoverageInspector(store),
		locks:     newResourceLocks(),
		now:       time.Now,
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// Running reports whether a run for resourceID is in progress.
func (e *Executor) Running(resourceID string) bool {
	return e.locks.busy(resourceID)
}

// Synchronize brings the local history of item up to date for query.
//
// It resolves remote and local coverage once, plans the leading and trailing
// gaps, and fetches each gap in chunks of increasing time at 30-minute SUM
// resolution. Context cancellation is checked before every chunk.
//
// The first error aborts the run. Samples stored by earlier chunks are kept
// and the partial Result is returned alongside the error.
func (e *Executor) Synchronize(ctx context.Context, resourceID, item string, query TimeWindow) (Result, error) {
	if query.Empty() {
		return Result{ResourceID: resourceID, Item: item, Query: query},
			fmt.Errorf("%w: %s", ErrInvalidWindow, query)
	}

	release, err := e.lock(ctx, resourceID)
	if err != nil {
		return Result{ResourceID: resourceID, Item: item, Query: query}, err
	}
	defer release()

	return e.synchronizeLocked(ctx, resourceID, item, query)
}

// lock waits until no other run holds resourceID. The caller must invoke the
// returned function once its run is over.
func (e *Executor) lock(ctx context.Context, resourceID string) (func(), error) {
	release, err := e.locks.acquire(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("waiting for running sync of %s: %w", resourceID, err)
	}
	return release, nil
}

// synchronizeLocked is Synchronize for a caller already holding the lock of
// resourceID. query must not be empty.
func (e *Executor) synchronizeLocked(ctx context.Context, resourceID, item string, query TimeWindow) (res Result, err error) {
	res = Result{ResourceID: resourceID, Item: item, Query: query}
	res.StartedAt = e.now()
	defer func() { res.FinishedAt = e.now() }()

	res.Remote, err = e.bounds.Bounds(ctx, resourceID)
	if err != nil {
		return res, err
	}

	res.Local, err = e.inspector.LocalCoverage(ctx, item, query)
	if err != nil {
		return res, err
	}

	res.Gaps = PlanGaps(query, res.Local, res.Remote)
	e.logger.Debug("history gaps planned",
		"resource_id", resourceID,
		"item", item,
		"query", query.String(),
		"remote", res.Remote.String(),
		"local", res.Local.String(),
		"gaps", len(res.Gaps),
	)

	for _, gap := range res.Gaps {
		if err := e.fillGap(ctx, resourceID, item, gap, &res); err != nil {
			e.logger.Warn("history sync aborted",
				"resource_id", resourceID,
				"item", item,
				"gap", gap.String(),
				"chunks_done", res.Chunks,
				"samples_written", res.Samples,
				"error", err,
			)
			return res, err
		}
	}

	if res.Samples > 0 {
		e.logger.Info("history sync complete",
			"resource_id", resourceID,
			"item", item,
			"gaps", len(res.Gaps),
			"chunks", res.Chunks,
			"samples", res.Samples,
		)
	}
	return res, nil
}

// fillGap fetches and stores one gap chunk by chunk.
func (e *Executor) fillGap(ctx context.Context, resourceID, item string, gap TimeWindow, res *Result) error {
	chunks, err := Chunks(gap, backfillGranularity)
	if err != nil {
		return err
	}

	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync of %s cancelled: %w", resourceID, err)
		}

		samples, err := e.remote.Readings(ctx, resourceID, chunk, backfillGranularity, Sum)
		if err != nil {
			return fmt.Errorf("readings for %s %s: %w", resourceID, chunk, err)
		}

		fresh := uncovered(samples, res.Local)
		res.Skipped += len(samples) - len(fresh)
		if len(fresh) > 0 {
			if err := e.store.StoreSamples(ctx, item, fresh); err != nil {
				return fmt.Errorf("storing %d samples for %s: %w", len(fresh), item, err)
			}
		}

		res.Chunks++
		res.Samples += len(fresh)
	}
	return nil
}

// uncovered drops samples inside the already covered local interval
// [local.Earliest, local.Latest]. The local store holds one contiguous
// interval, so those timestamps are already present.
func uncovered(samples []Sample, local CoverageBounds) []Sample {
	if !local.Complete() {
		return samples
	}
	out := samples[:0:0]
	for _, s := range samples {
		if !s.Timestamp.Before(local.Earliest.Time) && !s.Timestamp.After(local.Latest.Time) {
			continue
		}
		out = append(out, s)
	}
	return out
}
