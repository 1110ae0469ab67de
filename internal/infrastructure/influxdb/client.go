package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// requestTimeoutSeconds bounds each HTTP request; the option takes seconds.
	requestTimeoutSeconds = 60

	applicationName = "graylogic-history"
)

var errUnhealthy = errors.New("server not healthy")

// Client is an InfluxDB v2 connection bound to one org and bucket. Writes
// block until acknowledged. It is safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	closed   atomic.Bool
}

// Connect creates a client for cfg and pings the server.
//
// Parameters:
//   - ctx: Context for the ping
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Client ready for use
//   - error: Wrapping ErrConnectionFailed if the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(requestTimeoutSeconds).
		SetUseGZip(true).
		SetApplicationName(applicationName)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
	}
	if err := c.ping(ctx, connectTimeout); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// Close releases the client. Later calls fail with ErrNotConnected.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.closed.CompareAndSwap(false, true) {
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.ping(ctx, pingTimeout); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether Close has not been called yet. Use
// HealthCheck for an active check.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && !c.closed.Load()
}

// Bucket returns the bucket writes go to, for use in Flux queries.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errUnhealthy
	}
	return nil
}
