package influxdb

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// maxPointsPerRequest caps the size of a single write request.
const maxPointsPerRequest = 5000

// WritePoints writes points with their own timestamps and returns once the
// server has acknowledged them. Large slices are split across requests; an
// error stops at the failing request.
//
// Parameters:
//   - ctx: Context for cancellation
//   - points: Points to write; an empty slice is a no-op
//
// Returns:
//   - error: ErrNotConnected, or ErrWriteFailed wrapping the server error
func (c *Client) WritePoints(ctx context.Context, points []*write.Point) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	for start := 0; start < len(points); start += maxPointsPerRequest {
		end := min(start+maxPointsPerRequest, len(points))
		if err := c.writeAPI.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	}
	return nil
}
