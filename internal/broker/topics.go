package broker

import "fmt"

// TopicPrefix is the base of every HiveLink topic.
const TopicPrefix = "hivelink"

// Topics provides builders for HiveLink broker topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Topic names use "/" separators. The Kafka adapter maps them to "."
// because Kafka does not allow "/" in topic names.
type Topics struct{}

// Requests returns the well-known topic carrying inbound RPC requests.
//
// Example: hivelink/rpc/request
func (Topics) Requests() string {
	return fmt.Sprintf("%s/rpc/request", TopicPrefix)
}

// Reply returns the dedicated reply-to topic for an RPC client.
//
// Example: hivelink/rpc/reply/3f0c...
func (Topics) Reply(clientID string) string {
	return fmt.Sprintf("%s/rpc/reply/%s", TopicPrefix, clientID)
}

// RegistrySync returns the channel carrying subscription registry sync messages.
//
// Example: hivelink/sync/registry
func (Topics) RegistrySync() string {
	return fmt.Sprintf("%s/sync/registry", TopicPrefix)
}

// NodeStatus returns the online/offline status topic for a node.
//
// Example: hivelink/node/backend-01/status
func (Topics) NodeStatus(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/status", TopicPrefix, nodeID)
}

// Plugin returns the dynamically created topic for a plugin subscription.
//
// Example: hivelink/plugin/thermostat-sync
func (Topics) Plugin(name string) string {
	return fmt.Sprintf("%s/plugin/%s", TopicPrefix, name)
}
