// Package mqtt provides the broker connection for the radiolink gateway.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect and subscription restore
//   - a retained Last Will on radiolink/health for offline detection
//   - QoS and payload validation on publish
//   - panic recovery around message handlers
//
// # Topics
//
//	radiolink/data/{addr64}        payloads received from a peer
//	radiolink/peer/{addr64}        retained peer registry record
//	radiolink/command/send         send requests
//	radiolink/command/discover     discovery requests
//	radiolink/response/{id}        command outcome
//	radiolink/health               retained gateway health / LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(mqtt.Topics{}.Data(addr), payload, 1, false)
package mqtt
