// Package historybus connects the history scheduler to the home-automation
// host over MQTT.
//
// Every status change of a channel is published retained on
// graylogic/history/{resource}/status so the host always sees the latest
// state, and a message on graylogic/command/history/{resource} requests an
// immediate synchronisation of that resource.
package historybus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/mqtt"
)

// commandQoS is the subscription QoS for refresh commands.
const commandQoS = 1

// ErrInvalidCommand is returned for command messages that cannot be acted on.
var ErrInvalidCommand = errors.New("historybus: invalid command")

// Broker is the subset of the MQTT client the bus needs.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Scheduler is the subset of backfill.Scheduler the bus drives.
type Scheduler interface {
	Trigger(resourceID string) error
	Statuses() []backfill.ChannelStatus
}

// Logger is the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// command is the optional JSON body of a refresh command. An empty payload
// is the same as {"action":"sync"}.
type command struct {
	Action string `json:"action"`
}

// Bus relays statuses to MQTT and commands to the scheduler.
type Bus struct {
	broker    Broker
	scheduler Scheduler
	logger    Logger
}

// New creates a bus. Nothing is subscribed until Start.
func New(broker Broker, scheduler Scheduler) *Bus {
	return &Bus{broker: broker, scheduler: scheduler, logger: noopLogger{}}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to refresh commands and publishes the current status of
// every channel.
func (b *Bus) Start() error {
	topic := mqtt.Topics{}.AllHistoryCommands()
	if err := b.broker.Subscribe(topic, commandQoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.logger.Info("history command subscription active", "topic", topic)

	b.PublishAll()
	return nil
}

// Close removes the command subscription.
func (b *Bus) Close() error {
	if err := b.broker.Unsubscribe(mqtt.Topics{}.AllHistoryCommands()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("unsubscribing history commands: %w", err)
	}
	return nil
}

// PublishStatus publishes st on the status topic of its resource. It is
// meant as a scheduler status callback, so failures are logged rather than
// returned.
func (b *Bus) PublishStatus(st backfill.ChannelStatus) {
	payload, err := json.Marshal(st)
	if err != nil {
		b.logger.Warn("encoding history status failed", "resource_id", st.ResourceID, "error", err)
		return
	}

	if err := b.broker.PublishRetained(mqtt.Topics{}.HistoryStatus(st.ResourceID), payload); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			// Republished by PublishAll once the broker is back.
			b.logger.Debug("history status not published, broker offline", "resource_id", st.ResourceID)
			return
		}
		b.logger.Warn("publishing history status failed", "resource_id", st.ResourceID, "error", err)
	}
}

// PublishAll publishes the status of every channel. Call it after a
// reconnect so retained statuses reflect runs made while offline.
func (b *Bus) PublishAll() {
	for _, st := range b.scheduler.Statuses() {
		b.PublishStatus(st)
	}
}

func (b *Bus) handleCommand(topic string, payload []byte) error {
	resourceID, ok := mqtt.Topics{}.ParseHistoryCommand(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	if len(payload) > 0 {
		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if cmd.Action != "" && cmd.Action != "sync" {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
		}
	}

	if err := b.scheduler.Trigger(resourceID); err != nil {
		return err
	}
	b.logger.Debug("history sync requested over MQTT", "resource_id", resourceID)
	return nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
