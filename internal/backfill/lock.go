package backfill

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// resourceLocks hands out one binary semaphore per resource ID.
//
// Entries are never evicted; the set of resources is fixed by configuration.
type resourceLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{locks: make(map[string]*semaphore.Weighted)}
}

// acquire blocks until the resource is free or ctx is done.
// The returned function releases the resource.
func (l *resourceLocks) acquire(ctx context.Context, resourceID string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[resourceID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[resourceID] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// busy reports whether a run currently holds the resource.
func (l *resourceLocks) busy(resourceID string) bool {
	l.mu.Lock()
	sem, ok := l.locks[resourceID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	if sem.TryAcquire(1) {
		sem.Release(1)
		return false
	}
	return true
}
