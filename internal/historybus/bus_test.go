package historybus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/mqtt"
)

type fakeBroker struct {
	mu         sync.Mutex
	published  map[string][]byte
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: make(map[string][]byte),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[topic] = payload
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBroker) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	handler := f.handlers[mqtt.Topics{}.AllHistoryCommands()]
	f.mu.Unlock()
	if handler == nil {
		return errors.New("no subscription")
	}
	return handler(topic, payload)
}

type fakeScheduler struct {
	statuses  []backfill.ChannelStatus
	triggered []string
}

func (f *fakeScheduler) Trigger(resourceID string) error {
	for _, st := range f.statuses {
		if st.ResourceID == resourceID {
			f.triggered = append(f.triggered, resourceID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", backfill.ErrUnknownResource, resourceID)
}

func (f *fakeScheduler) Statuses() []backfill.ChannelStatus { return f.statuses }

func newTestBus(t *testing.T) (*Bus, *fakeBroker, *fakeScheduler) {
	t.Helper()
	broker := newFakeBroker()
	sched := &fakeScheduler{statuses: []backfill.ChannelStatus{
		{Channel: backfill.Channel{ResourceID: "res-elec", Item: "energy"}},
		{Channel: backfill.Channel{ResourceID: "res-gas", Item: "gas"}, LastError: "backfill: communication error"},
	}}
	bus := New(broker, sched)
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return bus, broker, sched
}

func TestStart_PublishesAllStatuses(t *testing.T) {
	_, broker, _ := newTestBus(t)

	raw, ok := broker.published["graylogic/history/res-gas/status"]
	if !ok {
		t.Fatalf("no status published for res-gas; got %v", broker.published)
	}
	var st backfill.ChannelStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if st.Item != "gas" || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}
	if _, ok := broker.published["graylogic/history/res-elec/status"]; !ok {
		t.Error("no status published for res-elec")
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"empty payload", "graylogic/command/history/res-elec", "", nil},
		{"sync action", "graylogic/command/history/res-gas", `{"action":"sync"}`, nil},
		{"unknown action", "graylogic/command/history/res-gas", `{"action":"purge"}`, ErrInvalidCommand},
		{"bad json", "graylogic/command/history/res-gas", `{`, ErrInvalidCommand},
		{"unknown resource", "graylogic/command/history/res-water", "", backfill.ErrUnknownResource},
		{"nested topic", "graylogic/command/history/res-gas/extra", "", ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, broker, _ := newTestBus(t)
			err := broker.deliver(tt.topic, []byte(tt.payload))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("handler error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandleCommand_Triggers(t *testing.T) {
	_, broker, sched := newTestBus(t)

	for range 2 {
		if err := broker.deliver(mqtt.Topics{}.HistoryCommand("res-gas"), nil); err != nil {
			t.Fatalf("handler error = %v", err)
		}
	}
	if len(sched.triggered) != 2 || sched.triggered[0] != "res-gas" {
		t.Errorf("triggered = %v", sched.triggered)
	}
}

func TestPublishStatus_Offline(t *testing.T) {
	bus, broker, _ := newTestBus(t)
	broker.publishErr = mqtt.ErrNotConnected
	delete(broker.published, "graylogic/history/res-elec/status")

	bus.PublishStatus(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-elec"}})

	if _, ok := broker.published["graylogic/history/res-elec/status"]; ok {
		t.Error("status recorded while broker offline")
	}

	broker.publishErr = nil
	bus.PublishAll()
	if _, ok := broker.published["graylogic/history/res-elec/status"]; !ok {
		t.Error("PublishAll did not republish after reconnect")
	}
}

func TestClose(t *testing.T) {
	bus, broker, _ := newTestBus(t)
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(broker.handlers) != 0 {
		t.Errorf("handlers left after Close: %v", broker.handlers)
	}
}
