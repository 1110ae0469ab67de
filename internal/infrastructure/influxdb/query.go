package influxdb

import (
	"context"
	"fmt"
	"time"
)

// Record is one row of a Flux result reduced to its _time and _value.
type Record struct {
	Time  time.Time
	Value float64
}

// QueryValues runs a Flux query and returns the _time and _value of every
// record across all result tables, in the order the server sent them.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - flux: Flux query text
//
// Returns:
//   - []Record: Records with numeric values
//   - error: ErrNotConnected, or ErrQueryFailed on a query or type error
func (c *Client) QueryValues(ctx context.Context, flux string) ([]Record, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // Read-only result

	var records []Record
	for result.Next() {
		r := result.Record()
		v, ok := toFloat(r.Value())
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric _value %T at %s", ErrQueryFailed, r.Value(), r.Time())
		}
		records = append(records, Record{Time: r.Time().UTC(), Value: v})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return records, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
