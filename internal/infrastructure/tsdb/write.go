package tsdb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// maxLinesPerRequest caps the body size of a single /write request.
const maxLinesPerRequest = 5000

// Point is a single line-protocol data point.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// WritePoints writes points with their own timestamps, splitting large
// slices across several requests. It returns after VictoriaMetrics has
// acknowledged every request.
//
// Parameters:
//   - ctx: Context for cancellation
//   - points: Points to write; an empty slice is a no-op
//
// Returns:
//   - error: ErrNotConnected, or ErrWriteFailed wrapping the cause
func (c *Client) WritePoints(ctx context.Context, points []Point) error {
	if c == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	lines := make([]string, 0, min(len(points), maxLinesPerRequest))
	for _, p := range points {
		lines = append(lines, p.Line())
		if len(lines) == maxLinesPerRequest {
			if err := c.writeLines(ctx, lines); err != nil {
				return err
			}
			lines = lines[:0]
		}
	}
	return c.writeLines(ctx, lines)
}

// Line returns p in line protocol:
//
//	measurement,tag=value field=value timestamp_ns
//
// Tags and fields are sorted by key so equal points produce equal lines.
func (p Point) Line() string {
	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(p.Measurement))

	for _, k := range slices.Sorted(maps.Keys(p.Tags)) {
		b.WriteByte(',')
		b.WriteString(tagEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(tagEscaper.Replace(p.Tags[k]))
	}

	sep := byte(' ')
	for _, k := range slices.Sorted(maps.Keys(p.Fields)) {
		b.WriteByte(sep)
		sep = ','
		b.WriteString(tagEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(fieldValue(p.Fields[k]))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Time.UnixNano(), 10))
	return b.String()
}

func fieldValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val) + "i"
	case int64:
		return strconv.FormatInt(val, 10) + "i"
	case bool:
		return strconv.FormatBool(val)
	case string:
		return strconv.Quote(val)
	default:
		return fmt.Sprint(val)
	}
}

// Newlines are dropped so a value can never start a new line.
var (
	tagEscaper         = strings.NewReplacer("\n", "", "\r", "", " ", "\\ ", ",", "\\,", "=", "\\=")
	measurementEscaper = strings.NewReplacer("\n", "", "\r", "", " ", "\\ ", ",", "\\,")
)
