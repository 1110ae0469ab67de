package tsdb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Series is one exported time series. Timestamps are Unix milliseconds and
// line up with Values by index.
type Series struct {
	Metric     map[string]string `json:"metric"`
	Values     []float64         `json:"values"`
	Timestamps []int64           `json:"timestamps"`
}

// Export returns the raw samples of every series matching selector between
// start and end, both inclusive.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - selector: Series selector such as meter_history_value{item="energy"}
//   - start, end: Time range; end must not be before start
//
// Returns:
//   - []Series: One entry per matching series
//   - error: ErrNotConnected, or ErrQueryFailed wrapping the cause
func (c *Client) Export(ctx context.Context, selector string, start, end time.Time) ([]Series, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("%w: selector is required", ErrQueryFailed)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrQueryFailed)
	}

	params := url.Values{}
	params.Set("match[]", selector)
	params.Set("start", formatUnixSeconds(start))
	params.Set("end", formatUnixSeconds(end))

	body, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/export", params, nil, "", http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	var series []Series
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s Series
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("%w: decoding export line: %w", ErrQueryFailed, err)
		}
		if len(s.Values) != len(s.Timestamps) {
			return nil, fmt.Errorf("%w: export line has %d values for %d timestamps",
				ErrQueryFailed, len(s.Values), len(s.Timestamps))
		}
		series = append(series, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading export: %w", ErrQueryFailed, err)
	}
	return series, nil
}

// formatUnixSeconds converts a timestamp to a seconds-since-epoch string.
func formatUnixSeconds(t time.Time) string {
	seconds := float64(t.UnixMilli()) / 1000
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
