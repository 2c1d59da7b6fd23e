package device

import (
	"encoding/json"
	"time"
)

// Program slot bounds. The controller exposes eight addressable programs.
const (
	MinProgramID = 1
	MaxProgramID = 8
)

// Control values written to and read from the zp{n}e10 field.
const (
	ControlInactive = 0
	ControlActive   = 3
)

// ProgramType classifies how a program is triggered.
type ProgramType int

const (
	ProgramTypeSchedule ProgramType = 0
	ProgramTypeInterval ProgramType = 1
	ProgramTypeManual   ProgramType = 2
)

// String returns the lowercase name of the program type.
func (t ProgramType) String() string {
	switch t {
	case ProgramTypeSchedule:
		return "schedule"
	case ProgramTypeInterval:
		return "interval"
	case ProgramTypeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Program is one vendor program slot on a device.
//
// Running is derived from ControlValue and has no independent storage, so the
// two can never disagree.
type Program struct {
	ID           int         `json:"id"`
	Name         string      `json:"name"`
	Type         ProgramType `json:"type"`
	ControlValue int         `json:"control_value"`
}

// Running reports whether the program is armed.
func (p Program) Running() bool {
	return p.ControlValue == ControlActive
}

// MarshalJSON adds the derived running flag to the encoded program.
func (p Program) MarshalJSON() ([]byte, error) {
	type alias Program
	return json.Marshal(struct {
		alias
		TypeName string `json:"type_name"`
		Running  bool   `json:"running"`
	}{
		alias:    alias(p),
		TypeName: p.Type.String(),
		Running:  p.Running(),
	})
}

// Telemetry is the pump and relay state decoded from a status poll.
type Telemetry struct {
	// ActivePumpProgram is the 1-based program driving the pump, or nil.
	ActivePumpProgram *int
	MotorSpeed        float64
	Power             int
	FlowRate          float64
	Relay1On          bool
	Relay2On          bool
}

// Device is a discovered pool controller and its programs.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	PumpRunning       bool    `json:"pump_running"`
	ActivePumpProgram *int    `json:"active_pump_program"`
	MotorSpeed        float64 `json:"motor_speed"`
	Power             int     `json:"power"`
	FlowRate          float64 `json:"flow_rate"`
	Relay1On          bool    `json:"relay1_on"`
	Relay2On          bool    `json:"relay2_on"`

	Programs []Program `json:"programs"`

	// LastUpdated is when telemetry was last merged from a poll.
	LastUpdated time.Time `json:"last_updated"`
}

// Program returns the program with the given slot ID.
func (d *Device) Program(id int) (Program, bool) {
	for _, p := range d.Programs {
		if p.ID == id {
			return p, true
		}
	}
	return Program{}, false
}

// RunningPrograms returns the IDs of all armed programs in slot order.
func (d *Device) RunningPrograms() []int {
	var ids []int
	for _, p := range d.Programs {
		if p.Running() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.ActivePumpProgram != nil {
		v := *d.ActivePumpProgram
		cpy.ActivePumpProgram = &v
	}

	if d.Programs != nil {
		cpy.Programs = make([]Program, len(d.Programs))
		copy(cpy.Programs, d.Programs)
	}

	return &cpy
}
