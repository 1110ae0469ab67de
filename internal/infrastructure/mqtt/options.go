package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // milliseconds

	maxQoS         = 2
	maxPayloadSize = 1 << 20
	tlsMinVersion  = tls.VersionTLS12
)

// Presence states published on the system status topic.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Presence is the retained payload announcing whether the service is up.
type Presence struct {
	State    string    `json:"state"`
	ClientID string    `json:"client_id"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

func presencePayload(state, clientID, reason string) []byte {
	payload, _ := json.Marshal(Presence{ //nolint:errcheck // Plain strings always marshal
		State:    state,
		ClientID: clientID,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	return payload
}

// buildClientOptions maps cfg onto paho options. The will marks the service
// offline on the system status topic when the connection drops without a
// Close.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true). // subscriptions are replayed by Client
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(Topics{}.SystemStatus(),
			presencePayload(PresenceOffline, cfg.Broker.ClientID, "unexpected_disconnect"), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// checkTopic validates the arguments shared by publish and subscribe.
func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for token and wraps a timeout or broker error in sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
