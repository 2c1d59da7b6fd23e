package entity

import (
	"context"
	"fmt"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
	"github.com/nerrad567/pentair-cloud-core/internal/safety"
)

// Kind is the presentation and action model of an entity.
type Kind string

const (
	KindFan     Kind = "fan"
	KindNumber  Kind = "number"
	KindSwitch  Kind = "switch"
	KindLight   Kind = "light"
	KindProgram Kind = "program"
)

// Policy selects how commands reach the device.
type Policy string

const (
	// PolicyDirect sends activate/deactivate straight to the hub.
	PolicyDirect Policy = "direct"
	// PolicyPumpSpeed routes through the safety coordinator's speed path.
	PolicyPumpSpeed Policy = "pump_speed"
	// PolicyHeater routes through the safety coordinator's heater path.
	PolicyHeater Policy = "heater"
)

// Actions accepted by Apply.
const (
	ActionTurnOn        = "turn_on"
	ActionTurnOff       = "turn_off"
	ActionSetPercentage = "set_percentage"
	ActionSetPreset     = "set_preset_mode"
	ActionSetValue      = "set_value"
)

// Descriptor configures an Entity.
type Descriptor struct {
	Key    string       `json:"key"`
	Name   string       `json:"name"`
	Icon   string       `json:"icon,omitempty"`
	Kind   Kind         `json:"kind"`
	Policy Policy       `json:"policy"`
	Role   program.Role `json:"role,omitempty"`
	// ProgramID is the bound slot. Zero for pump entities, which span the
	// four speed programs.
	ProgramID int `json:"program_id,omitempty"`
	// Diagnostic entities are hidden by default in user interfaces.
	Diagnostic bool `json:"diagnostic"`
}

// Commander issues program commands. It is satisfied by *hub.Hub.
type Commander interface {
	Activate(ctx context.Context, deviceID string, programID int) bool
	Deactivate(ctx context.Context, deviceID string, programID int) bool
	Device(id string) (*device.Device, error)
}

// Safety is the interlock layer. It is satisfied by *safety.Coordinator.
type Safety interface {
	SetPercentage(percentage int) int
	SetPreset(name string) (int, error)
	TurnOffPump(ctx context.Context) error
	SetHeater(ctx context.Context, on bool) error
	Percentage() int
	HeaterOn() bool
	Override() bool
}

// Command is an action request from a host adapter.
type Command struct {
	Action     string   `json:"action"`
	Percentage *int     `json:"percentage,omitempty"`
	Preset     string   `json:"preset_mode,omitempty"`
	Value      *float64 `json:"value,omitempty"`
}

// State is the readable state of an entity.
type State struct {
	Descriptor

	DeviceID    string         `json:"device_id"`
	Available   bool           `json:"available"`
	On          bool           `json:"on"`
	Percentage  *int           `json:"percentage,omitempty"`
	PresetMode  string         `json:"preset_mode,omitempty"`
	PresetModes []string       `json:"preset_modes,omitempty"`
	Value       *float64       `json:"value,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Entity is one controllable facet of a device.
type Entity struct {
	desc     Descriptor
	deviceID string
	cmd      Commander
	safety   Safety
}

// New creates an Entity. Safety is required for the pump and heater
// policies.
func New(deviceID string, desc Descriptor, cmd Commander, sc Safety) (*Entity, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if desc.Key == "" {
		return nil, fmt.Errorf("entity key is required")
	}
	if cmd == nil {
		return nil, fmt.Errorf("commander is required")
	}
	if (desc.Policy == PolicyPumpSpeed || desc.Policy == PolicyHeater) && sc == nil {
		return nil, fmt.Errorf("entity %s: safety coordinator is required", desc.Key)
	}
	if desc.Policy != PolicyPumpSpeed && desc.ProgramID == 0 {
		return nil, fmt.Errorf("entity %s: program id is required", desc.Key)
	}
	return &Entity{desc: desc, deviceID: deviceID, cmd: cmd, safety: sc}, nil
}

// Descriptor returns the entity configuration.
func (e *Entity) Descriptor() Descriptor {
	return e.desc
}

// Key returns the entity key, unique within a device.
func (e *Entity) Key() string {
	return e.desc.Key
}

// State reads the current state from the device snapshot and the safety
// coordinator.
func (e *Entity) State() State {
	st := State{Descriptor: e.desc, DeviceID: e.deviceID}

	d, err := e.cmd.Device(e.deviceID)
	if err != nil {
		return st
	}
	st.Available = true

	switch e.desc.Kind {
	case KindFan:
		pct := e.safety.Percentage()
		st.On = pct > 0
		st.Percentage = &pct
		st.PresetMode = safety.PresetFor(pct)
		st.PresetModes = safety.PresetModes()
		st.Attributes = pumpAttributes(d, e.safety)
	case KindNumber:
		v := float64(e.safety.Percentage())
		st.On = v > 0
		st.Value = &v
		st.Attributes = pumpAttributes(d, e.safety)
	default:
		if p, ok := d.Program(e.desc.ProgramID); ok {
			st.On = p.Running()
			st.Attributes = map[string]any{
				"program_id":   p.ID,
				"program_name": p.Name,
				"program_type": p.Type.String(),
			}
		}
		if e.desc.Policy == PolicyHeater {
			if st.Attributes == nil {
				st.Attributes = map[string]any{}
			}
			st.Attributes["pump_running"] = d.PumpRunning
		}
	}
	return st
}

func pumpAttributes(d *device.Device, sc Safety) map[string]any {
	attrs := map[string]any{
		"motor_speed":     d.MotorSpeed,
		"power":           d.Power,
		"flow_rate":       d.FlowRate,
		"heater_on":       sc.HeaterOn(),
		"safety_override": sc.Override(),
	}
	if d.ActivePumpProgram != nil {
		attrs["active_pump_program"] = *d.ActivePumpProgram
	}
	return attrs
}

// Apply executes a host command.
func (e *Entity) Apply(ctx context.Context, c Command) error {
	switch c.Action {
	case ActionTurnOn:
		return e.TurnOn(ctx, c.Percentage, c.Preset)
	case ActionTurnOff:
		return e.TurnOff(ctx)
	case ActionSetPercentage:
		if c.Percentage == nil {
			return fmt.Errorf("%w: %s requires percentage", ErrMissingArgument, c.Action)
		}
		return e.SetPercentage(*c.Percentage)
	case ActionSetPreset:
		return e.SetPreset(c.Preset)
	case ActionSetValue:
		if c.Value == nil {
			return fmt.Errorf("%w: %s requires value", ErrMissingArgument, c.Action)
		}
		return e.SetValue(ctx, *c.Value)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, c.Action)
	}
}

// TurnOn switches the entity on. For the pump a preset takes priority over a
// percentage; with neither the pump starts at medium speed.
func (e *Entity) TurnOn(ctx context.Context, percentage *int, preset string) error {
	switch e.desc.Policy {
	case PolicyPumpSpeed:
		if preset != "" {
			return e.SetPreset(preset)
		}
		if percentage != nil && *percentage > 0 {
			e.safety.SetPercentage(*percentage)
			return nil
		}
		e.safety.SetPercentage(program.SpeedMedium)
		return nil
	case PolicyHeater:
		return e.safety.SetHeater(ctx, true)
	}
	if !e.cmd.Activate(ctx, e.deviceID, e.desc.ProgramID) {
		return fmt.Errorf("%w: activating program %d", ErrCommandFailed, e.desc.ProgramID)
	}
	return nil
}

// TurnOff switches the entity off. Stopping the pump can fail with
// safety.ErrSafetyViolation while the heater runs.
func (e *Entity) TurnOff(ctx context.Context) error {
	switch e.desc.Policy {
	case PolicyPumpSpeed:
		return e.safety.TurnOffPump(ctx)
	case PolicyHeater:
		return e.safety.SetHeater(ctx, false)
	}
	if !e.cmd.Deactivate(ctx, e.deviceID, e.desc.ProgramID) {
		return fmt.Errorf("%w: deactivating program %d", ErrCommandFailed, e.desc.ProgramID)
	}
	return nil
}

// SetPercentage requests a pump speed.
func (e *Entity) SetPercentage(percentage int) error {
	if e.desc.Policy != PolicyPumpSpeed {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, ActionSetPercentage, e.desc.Key)
	}
	e.safety.SetPercentage(percentage)
	return nil
}

// SetPreset requests a pump preset mode.
func (e *Entity) SetPreset(name string) error {
	if e.desc.Kind != KindFan {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, ActionSetPreset, e.desc.Key)
	}
	_, err := e.safety.SetPreset(name)
	return err
}

// SetValue sets a number entity. Zero stops the pump; any other value snaps
// to the closest of the low, medium, high and max speeds.
func (e *Entity) SetValue(ctx context.Context, value float64) error {
	if e.desc.Kind != KindNumber {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, ActionSetValue, e.desc.Key)
	}
	if value <= 0 {
		return e.safety.TurnOffPump(ctx)
	}
	e.safety.SetPercentage(program.Closest(max(1, int(value+0.5))))
	return nil
}
