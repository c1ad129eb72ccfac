package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "swetrack"

// Topics builds swetrack-sync MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("fleet")
//	topics.DeviceState("1234") // "fleet/device/1234/state"
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder rooted at prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root all topics are built under.
func (t Topics) Prefix() string {
	return t.prefix
}

// DeviceState returns the retained state topic for one tracker.
//
// Example: swetrack/device/1234/state
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", t.prefix, deviceID)
}

// CoordinatorStatus returns the retained poller status topic.
//
// Example: swetrack/coordinator/status
func (t Topics) CoordinatorStatus() string {
	return fmt.Sprintf("%s/coordinator/status", t.prefix)
}

// SystemStatus returns the online/offline topic used for the LWT.
//
// Example: swetrack/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix)
}

// RefreshCommand returns the topic that requests an immediate poll.
//
// Example: swetrack/command/refresh
func (t Topics) RefreshCommand() string {
	return fmt.Sprintf("%s/command/refresh", t.prefix)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: swetrack/device/+/state
func (t Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", t.prefix)
}

// AllTopics returns a pattern matching everything under the prefix.
func (t Topics) AllTopics() string {
	return t.prefix + "/#"
}
