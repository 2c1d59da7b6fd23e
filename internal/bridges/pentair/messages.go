package pentair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pentair-cloud-core/internal/climate"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
)

// EntityClimate is the entity key of the thermostat on command and state
// topics.
const EntityClimate = "climate"

// Climate actions.
const (
	ActionSetHVACMode    = "set_hvac_mode"
	ActionSetTemperature = "set_temperature"
)

// CommandMessage is received on {prefix}/command/{device}/{entity}.
type CommandMessage struct {
	// ID correlates the acknowledgement. One is generated when empty.
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	Action     string   `json:"action"`
	Percentage *int     `json:"percentage,omitempty"`
	Preset     string   `json:"preset_mode,omitempty"`
	Value      *float64 `json:"value,omitempty"`

	// Climate only.
	Mode        string   `json:"hvac_mode,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	Source string `json:"source,omitempty"`
}

// EntityCommand converts the message to an entity command.
func (m CommandMessage) EntityCommand() entity.Command {
	return entity.Command{
		Action:     m.Action,
		Percentage: m.Percentage,
		Preset:     m.Preset,
		Value:      m.Value,
	}
}

// ParseCommand decodes a command payload.
//
// Besides JSON it accepts "on" and "off" (any case) and a bare number,
// which becomes set_value on the speed entity, set_temperature on the
// thermostat and set_percentage elsewhere.
func ParseCommand(entityKey string, payload []byte) (CommandMessage, error) {
	s := bytes.TrimSpace(payload)
	if len(s) == 0 {
		return CommandMessage{}, fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}

	var msg CommandMessage
	if s[0] == '{' {
		if err := json.Unmarshal(s, &msg); err != nil {
			return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if msg.Action == "" {
			return CommandMessage{}, fmt.Errorf("%w: action is required", ErrInvalidCommand)
		}
	} else {
		var err error
		if msg, err = shorthand(entityKey, string(s)); err != nil {
			return CommandMessage{}, err
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return msg, nil
}

func shorthand(entityKey, s string) (CommandMessage, error) {
	switch strings.ToLower(s) {
	case "on":
		return CommandMessage{Action: entity.ActionTurnOn}, nil
	case "off":
		return CommandMessage{Action: entity.ActionTurnOff}, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	switch entityKey {
	case entity.KeyPumpSpeed:
		return CommandMessage{Action: entity.ActionSetValue, Value: &v}, nil
	case EntityClimate:
		return CommandMessage{Action: ActionSetTemperature, Temperature: &v}, nil
	default:
		pct := int(v)
		return CommandMessage{Action: entity.ActionSetPercentage, Percentage: &pct}, nil
	}
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidCommand  = "INVALID_COMMAND"
	ErrCodeUnknownEntity   = "UNKNOWN_ENTITY"
	ErrCodeUnsupported     = "UNSUPPORTED"
	ErrCodeSafetyViolation = "SAFETY_VIOLATION"
	ErrCodeCommandFailed   = "COMMAND_FAILED"
)

// AckMessage is published on {prefix}/ack/{device}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Entity    string    `json:"entity"`
	Action    string    `json:"action,omitempty"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is the retained snapshot on {prefix}/state/{device}.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Device    device.Device  `json:"device"`
	Entities  []entity.State `json:"entities"`
	Climate   *climate.State `json:"climate,omitempty"`
}

// HealthStatus is the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published on {prefix}/bridge/health.
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`
	CommandsTotal  uint64       `json:"commands_total"`
	CommandErrors  uint64       `json:"command_errors"`
	Reason         string       `json:"reason,omitempty"`
}
