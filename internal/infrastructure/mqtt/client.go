package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

// Logger receives handler failures. logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler processes one received message. A returned error is logged;
// the message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Client is a broker connection whose subscriptions survive reconnects.
// It is safe for concurrent use.
type Client struct {
	client    pahomqtt.Client
	cfg       config.MQTTConfig
	connected atomic.Bool

	mu           sync.RWMutex
	handlers     map[string]route // by topic filter
	logger       Logger
	onConnect    func()
	onDisconnect func(error)
}

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker described by cfg and waits for the first
// connection. Once connected the client announces itself online on the
// system status topic, and does so again after every reconnect.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client
//   - error: Wrapping ErrConnectionFailed if the broker does not accept the
//     connection within the connect timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, handlers: make(map[string]route)}

	opts := buildClientOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), ErrConnectionFailed); err != nil {
		// Stop the background retry loop started by SetConnectRetry.
		c.client.Disconnect(0)
		return nil, err
	}

	// The paho handler runs on its own goroutine and may lag behind.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) connectionUp() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, r := range c.handlers {
		c.client.Subscribe(topic, r.qos, c.deliver(r.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), c.qos(), true,
		presencePayload(PresenceOnline, c.cfg.Broker.ClientID, ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	logger, callback := c.logger, c.onDisconnect
	c.mu.RUnlock()

	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

// Close announces a graceful shutdown and disconnects. It never fails; a
// nil or unconnected client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(Topics{}.SystemStatus(), c.qos(), true,
			presencePayload(PresenceOffline, c.cfg.Broker.ClientID, "graceful_shutdown")).
			WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback run after the first connection and every
// reconnect, once subscriptions have been replayed.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Publish sends payload to topic and waits for the broker acknowledgement
// required by qos.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.qos(), true)
}

// Subscribe routes messages matching the topic filter to handler.
// Filters may use + and # wildcards, e.g. Topics{}.AllHistoryCommands().
// The route is replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.handlers[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.deliver(handler)), ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		delete(c.handlers, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the route for topic. Messages already in flight may
// still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()

	return await(c.client.Unsubscribe(topic), ErrSubscribeFailed)
}

// HasSubscription reports whether a route exists for the exact filter.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.handlers[topic]
	return ok
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) // #nosec G115 -- validated 0-2 by config
}

func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging a returned error or a recovered panic.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
