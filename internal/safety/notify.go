package safety

import (
	"fmt"
	"time"
)

// Notification IDs. A later notification with the same ID replaces the
// earlier one.
const (
	NotificationSpeedOverride = "pentair_pump_safety"
	NotificationPumpBlock     = "pentair_pump_safety_block"
)

// Notification is a persistent, user-facing safety message.
type Notification struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// MultiNotifier fans a notification out to every member.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(n Notification) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(n)
		}
	}
}

// LogNotifier writes notifications to a logger at warn level.
type LogNotifier struct {
	Logger Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notification) {
	l.Logger.Warn("safety notification", "id", n.ID, "device_id", n.DeviceID, "title", n.Title, "message", n.Message)
}

func speedOverrideNotification(deviceID string, requested, applied int, at time.Time) Notification {
	return Notification{
		ID:       NotificationSpeedOverride,
		DeviceID: deviceID,
		Title:    "Pool Pump Safety Override",
		Message: fmt.Sprintf("Pool pump speed adjusted for heater safety. Requested: %d%%. Set to: %d%% (minimum for heater operation). Turn off heater to use lower speeds.",
			requested, applied),
		Time: at,
	}
}

func pumpBlockNotification(deviceID string, at time.Time) Notification {
	return Notification{
		ID:       NotificationPumpBlock,
		DeviceID: deviceID,
		Title:    "Pool Pump Safety Alert",
		Message:  "Cannot turn off pool pump while heater is active. Please turn off the heater first for safety.",
		Time:     at,
	}
}
