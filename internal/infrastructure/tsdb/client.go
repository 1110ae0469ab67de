package tsdb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

const (
	connectTimeout  = 10 * time.Second
	requestTimeout  = 30 * time.Second
	maxResponseSize = 50 << 20 // 50 MB
)

// Client talks to VictoriaMetrics over its HTTP API. It is safe for
// concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	closed     atomic.Bool
}

// Connect returns a client for cfg.URL after checking /health answers.
//
// Parameters:
//   - ctx: Context for the health check
//   - cfg: TSDB configuration from config.yaml
//
// Returns:
//   - *Client: Client ready for use
//   - error: Wrapping ErrConnectionFailed
func Connect(ctx context.Context, cfg config.TSDBConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrConnectionFailed)
	}

	c := newClient(cfg.URL, &http.Client{Timeout: requestTimeout})

	checkCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.HealthCheck(checkCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func newClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{url: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Close releases idle connections. Later calls fail with ErrNotConnected.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closed.Store(true)
	c.httpClient.CloseIdleConnections()
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// HealthCheck requests /health and expects 200.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if _, err := c.roundTrip(ctx, http.MethodGet, "/health", nil, nil, "", http.StatusOK); err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	return nil
}

// writeLines posts line protocol to /write as one gzip-compressed body.
func (c *Client) writeLines(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for i, line := range lines {
		if i > 0 {
			_, _ = zw.Write([]byte{'\n'}) //nolint:errcheck // bytes.Buffer writes do not fail
		}
		_, _ = io.WriteString(zw, line) //nolint:errcheck // bytes.Buffer writes do not fail
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: compressing body: %w", ErrWriteFailed, err)
	}

	if _, err := c.roundTrip(ctx, http.MethodPost, "/write", nil, &buf, "gzip",
		http.StatusNoContent, http.StatusOK); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// roundTrip performs one request and returns the body when the status is
// one of ok.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body io.Reader, encoding string, ok ...int) ([]byte, error) {
	endpoint := c.url + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !slices.Contains(ok, resp.StatusCode) {
		return nil, fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return data, nil
}
