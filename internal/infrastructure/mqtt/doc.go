// Package mqtt provides MQTT connectivity for HiveLink nodes.
//
// This package manages:
//   - Connection to a Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, including $share/{group}/ shared subscriptions
//   - Last Will and Testament (LWT) on hivelink/node/{id}/status
//   - A broker.Broker adapter so the RPC and registry layers can run on MQTT
//
// # Framing
//
// MQTT 3.1.1 has no message key, so the Broker adapter prefixes every payload
// with the routing key (uvarint length followed by the key bytes). Local
// members of a group are selected from that key, which keeps per-device
// ordering when several reply workers share one connection.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Node.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b := mqtt.NewBroker(client)
//	defer b.Close()
//
//	sub, err := b.Subscribe(ctx, broker.Topics{}.Requests(), "hivelink-backend", handler)
package mqtt
