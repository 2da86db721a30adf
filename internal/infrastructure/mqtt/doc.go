// Package mqtt provides the broker connection used by the wirehome bridge.
//
// The daemon runs without a broker; when one is configured it mirrors core
// events outward and accepts remote commands inward:
//
//	core eventbus ──► bridge ──► Client.Publish ──► broker ──► dashboards
//	                    ▲
//	remote / RFID ──────┴── Client.Subscribe(command/#, rfid/+)
//
// This package manages:
//   - Connection with paho auto-reconnect and subscription replay
//   - A retained status topic with Last Will and Testament
//   - Publish/subscribe with input validation and panic-safe handlers
//
// # Security Considerations
//
//   - Use TLS (broker.tls) when the broker is off-host
//   - Disarm credentials travel in command payloads; restrict command/# by ACL
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), client.QoS(), handle)
package mqtt
