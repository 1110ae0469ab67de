package backfill

import (
	"context"
	"fmt"
)

// RemoteAPI is the metering provider as seen by the synchroniser.
//
// Implementations wrap credential failures with ErrAuthenticationFailed and
// transport or server failures with ErrCommunication.
type RemoteAPI interface {
	// EarliestAvailable returns the first instant the remote holds data for.
	EarliestAvailable(ctx context.Context, resourceID string) (OptionalTime, error)

	// LatestAvailable returns the exclusive end of the data the remote holds.
	LatestAvailable(ctx context.Context, resourceID string) (OptionalTime, error)

	// Readings returns the aggregated samples inside [w.Start, w.End).
	Readings(ctx context.Context, resourceID string, w TimeWindow, g Granularity, fn Aggregation) ([]Sample, error)
}

// RemoteBoundsResolver reports what a remote resource has data for.
// It holds no cache; every call queries the remote.
type RemoteBoundsResolver struct {
	api RemoteAPI
}

// NewRemoteBoundsResolver creates a resolver over api.
func NewRemoteBoundsResolver(api RemoteAPI) *RemoteBoundsResolver {
	return &RemoteBoundsResolver{api: api}
}

// Bounds queries the earliest and latest available timestamps of a resource.
// An authentication failure on the first call is returned without making the
// second one.
func (r *RemoteBoundsResolver) Bounds(ctx context.Context, resourceID string) (CoverageBounds, error) {
	earliestAt, err := r.api.EarliestAvailable(ctx, resourceID)
	if err != nil {
		return CoverageBounds{}, fmt.Errorf("earliest available for %s: %w", resourceID, err)
	}

	latestAt, err := r.api.LatestAvailable(ctx, resourceID)
	if err != nil {
		return CoverageBounds{}, fmt.Errorf("latest available for %s: %w", resourceID, err)
	}

	return CoverageBounds{Earliest: earliestAt, Latest: latestAt}, nil
}
