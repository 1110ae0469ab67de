// Package mqtt provides MQTT client connectivity for the history service.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// The service publishes a retained status per channel on
// graylogic/history/{resource}/status and listens for refresh requests on
// graylogic/command/history/{resource}. Its own presence is announced on
// graylogic/system/status as a retained Presence; the LWT marks an
// unexpected disconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllHistoryCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        resourceID, _ := mqtt.Topics{}.ParseHistoryCommand(topic)
//	        return scheduler.Trigger(resourceID)
//	    })
//
// # Security Considerations
//
//   - TLS should be enabled for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
package mqtt
