package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every topic when none is configured.
const DefaultTopicPrefix = "pentaircloud"

// Topics builds the topic hierarchy under a prefix:
//
//	{prefix}/state/{device}            retained device snapshot
//	{prefix}/state/{device}/{entity}   retained entity state
//	{prefix}/command/{device}/{entity} entity commands
//	{prefix}/ack/{device}              command acknowledgements
//	{prefix}/bridge/health             bridge health
//	{prefix}/system/status             online/offline (LWT)
//	{prefix}/notification              safety notifications
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// DeviceState returns the retained snapshot topic of a device.
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), deviceID)
}

// EntityState returns the retained state topic of one entity.
func (t Topics) EntityState(deviceID, entity string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix(), deviceID, entity)
}

// Command returns the command topic of one entity.
func (t Topics) Command(deviceID, entity string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), deviceID, entity)
}

// Ack returns the acknowledgement topic of a device.
func (t Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), deviceID)
}

// BridgeHealth returns the bridge health topic.
func (t Topics) BridgeHealth() string {
	return t.prefix() + "/bridge/health"
}

// SystemStatus returns the online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// Notification returns the safety notification topic.
func (t Topics) Notification() string {
	return t.prefix() + "/notification"
}

// AllCommands matches every entity command.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+/+"
}

// ParseCommand splits a command topic into device and entity. ok is false
// for topics outside the command hierarchy.
func (t Topics) ParseCommand(topic string) (deviceID, entity string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
