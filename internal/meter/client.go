package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20 // 10 MB
	userAgent       = "graylogic-history"
)

// Client talks to the remote metering API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

var _ backfill.RemoteAPI = (*Client)(nil)

// boundResponse is the body of the first/last endpoints.
type boundResponse struct {
	Timestamp *time.Time `json:"timestamp"`
}

// readingsResponse is the body of the readings endpoint.
type readingsResponse struct {
	Data []struct {
		Timestamp time.Time `json:"timestamp"`
		Value     *float64  `json:"value"`
	} `json:"data"`
}

// New creates a client for the API at cfg.URL.
//
// Parameters:
//   - cfg: Meter configuration from config.yaml
//
// Returns:
//   - *Client: Client ready for use; no request is made
//   - error: If the URL is not absolute (wraps backfill.ErrConfiguration)
func New(cfg config.MeterConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: meter url %q must be absolute", backfill.ErrConfiguration, cfg.URL)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      cfg.Token,
	}, nil
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// HealthCheck verifies the API is reachable and accepts the token.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.get(ctx, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return statusError(resp.StatusCode)
}

// EarliestAvailable returns the timestamp of the first reading of resourceID.
// A 404 or a null timestamp means the resource has no data.
func (c *Client) EarliestAvailable(ctx context.Context, resourceID string) (backfill.OptionalTime, error) {
	return c.bound(ctx, resourceID, "first")
}

// LatestAvailable returns the exclusive end of the data held for resourceID.
func (c *Client) LatestAvailable(ctx context.Context, resourceID string) (backfill.OptionalTime, error) {
	return c.bound(ctx, resourceID, "last")
}

func (c *Client) bound(ctx context.Context, resourceID, which string) (backfill.OptionalTime, error) {
	resp, err := c.get(ctx, resourcePath(resourceID, which), nil)
	if err != nil {
		return backfill.None(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return backfill.None(), nil
	}

	var body boundResponse
	if err := decode(resp, &body); err != nil {
		return backfill.None(), err
	}
	if body.Timestamp == nil {
		return backfill.None(), nil
	}
	return backfill.Some(body.Timestamp.UTC()), nil
}

// Readings returns the readings of resourceID inside [w.Start, w.End)
// aggregated per g with fn. Values are returned as sent; null values are
// skipped.
func (c *Client) Readings(ctx context.Context, resourceID string, w backfill.TimeWindow, g backfill.Granularity, fn backfill.Aggregation) ([]backfill.Sample, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: granularity %s", backfill.ErrConfiguration, g)
	}

	params := url.Values{}
	params.Set("period", g.String())
	params.Set("function", string(fn))
	params.Set("from", w.Start.UTC().Format(time.RFC3339))
	params.Set("to", w.End.UTC().Format(time.RFC3339))

	resp, err := c.get(ctx, resourcePath(resourceID, "readings"), params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body readingsResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}

	samples := make([]backfill.Sample, 0, len(body.Data))
	for _, d := range body.Data {
		if d.Value == nil {
			continue
		}
		samples = append(samples, backfill.Sample{Timestamp: d.Timestamp.UTC(), Value: *d.Value})
	}
	return samples, nil
}

// get performs an authenticated GET. Transport failures wrap ErrCommunication;
// a cancelled ctx is returned as-is in the chain.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", backfill.ErrCommunication, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", backfill.ErrCommunication, path, err)
	}
	return resp, nil
}

// decode checks the status and unmarshals a JSON body into v.
func decode(resp *http.Response, v any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", backfill.ErrCommunication, err)
	}
	if err := statusError(resp.StatusCode); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w: %w", backfill.ErrCommunication, ErrInvalidResponse, err)
	}
	return nil
}

// statusError maps a response status onto the backfill error taxonomy.
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", backfill.ErrAuthenticationFailed, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", backfill.ErrCommunication, ErrRateLimited)
	default:
		return fmt.Errorf("%w: %w: HTTP %d", backfill.ErrCommunication, ErrUnexpectedStatus, status)
	}
}

func resourcePath(resourceID, endpoint string) string {
	return "/resources/" + url.PathEscape(resourceID) + "/" + endpoint
}
