package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOpTimeout         = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxQoS = 2
)

// Node status values published on the status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// NodeStatus is the retained payload on hivelink/node/{id}/status.
type NodeStatus struct {
	Status    string `json:"status"`
	NodeID    string `json:"node_id"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, nodeID, clientID, reason string) ([]byte, error) {
	return json.Marshal(NodeStatus{
		Status:    status,
		NodeID:    nodeID,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// newClientOptions maps config onto paho options, including the will.
//
// Sessions are clean and delivery is ordered: per-key ordering on the RPC
// topics depends on the router handing messages over one at a time.
func newClientOptions(cfg config.MQTTConfig, nodeID string) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// The timestamp is fixed at connect time; the broker replays the
	// payload unchanged.
	will, err := statusPayload(statusOffline, nodeID, cfg.Broker.ClientID, "unexpected_disconnect")
	if err == nil {
		opts.SetBinaryWill(broker.Topics{}.NodeStatus(nodeID), will, 1, true)
	}
	return opts
}
