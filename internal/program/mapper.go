// Package program maps logical pool roles to vendor program slots.
//
// A Mapper is built once from configuration and is read-only afterwards. It
// answers both directions: which slot implements a role, and which role (and
// pump speed) a slot stands for when decoding poll results.
package program

import (
	"errors"
	"fmt"

	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
)

// Role is a logical function bound to a program slot.
type Role string

const (
	RoleSpeedLow    Role = "speed_low"
	RoleSpeedMedium Role = "speed_medium"
	RoleSpeedHigh   Role = "speed_high"
	RoleSpeedMax    Role = "speed_max"
	RoleRelayLights Role = "relay_lights"
	RoleRelayHeater Role = "relay_heater"
)

// Pump speed percentages reported for each speed role.
const (
	SpeedOff    = 0
	SpeedLow    = 30
	SpeedMedium = 50
	SpeedHigh   = 75
	SpeedMax    = 100
)

// ErrInvalidMapping is returned when a role assignment is unusable.
var ErrInvalidMapping = errors.New("program: invalid mapping")

// speedRoles lists the pump roles in ascending speed order.
var speedRoles = []struct {
	role  Role
	speed int
}{
	{RoleSpeedLow, SpeedLow},
	{RoleSpeedMedium, SpeedMedium},
	{RoleSpeedHigh, SpeedHigh},
	{RoleSpeedMax, SpeedMax},
}

// Mapper translates between roles and program slots.
type Mapper struct {
	byRole map[Role]int
	byID   map[int]Role
	sensor string
}

// New builds a Mapper from the programs section of the configuration.
// Every role must map to a distinct slot in 1..8.
func New(cfg config.ProgramsConfig) (*Mapper, error) {
	assign := map[Role]int{
		RoleSpeedLow:    cfg.SpeedLow,
		RoleSpeedMedium: cfg.SpeedMedium,
		RoleSpeedHigh:   cfg.SpeedHigh,
		RoleSpeedMax:    cfg.SpeedMax,
		RoleRelayLights: cfg.RelayLights,
		RoleRelayHeater: cfg.RelayHeater,
	}

	m := &Mapper{
		byRole: make(map[Role]int, len(assign)),
		byID:   make(map[int]Role, len(assign)),
		sensor: cfg.TemperatureSensor,
	}
	for _, role := range Roles() {
		id := assign[role]
		if id < 1 || id > 8 {
			return nil, fmt.Errorf("%w: %s=%d out of range", ErrInvalidMapping, role, id)
		}
		if other, dup := m.byID[id]; dup {
			return nil, fmt.Errorf("%w: %s and %s share program %d", ErrInvalidMapping, other, role, id)
		}
		m.byRole[role] = id
		m.byID[id] = role
	}
	return m, nil
}

// Roles returns every role in a stable order.
func Roles() []Role {
	return []Role{
		RoleSpeedLow, RoleSpeedMedium, RoleSpeedHigh, RoleSpeedMax,
		RoleRelayLights, RoleRelayHeater,
	}
}

// ProgramFor returns the slot bound to role.
func (m *Mapper) ProgramFor(role Role) (int, bool) {
	id, ok := m.byRole[role]
	return id, ok
}

// RoleFor returns the role bound to a slot.
func (m *Mapper) RoleFor(programID int) (Role, bool) {
	role, ok := m.byID[programID]
	return role, ok
}

// IsPumpProgram reports whether the slot drives a pump speed.
func (m *Mapper) IsPumpProgram(programID int) bool {
	_, ok := m.SpeedForProgram(programID)
	return ok
}

// SpeedForProgram returns the pump percentage a speed slot stands for.
func (m *Mapper) SpeedForProgram(programID int) (int, bool) {
	role, ok := m.byID[programID]
	if !ok {
		return 0, false
	}
	for _, sr := range speedRoles {
		if sr.role == role {
			return sr.speed, true
		}
	}
	return 0, false
}

// TemperatureSensor returns the configured sensor reference, if any.
func (m *Mapper) TemperatureSensor() string {
	return m.sensor
}

// Bucket maps a requested percentage onto a speed role using ceiling buckets.
// It returns the role and the speed that will actually be reported. A
// percentage of zero or below means stop; ok is then false.
func Bucket(percentage int) (role Role, actual int, ok bool) {
	if percentage <= 0 {
		return "", SpeedOff, false
	}
	for _, sr := range speedRoles[:len(speedRoles)-1] {
		if percentage <= sr.speed {
			return sr.role, sr.speed, true
		}
	}
	last := speedRoles[len(speedRoles)-1]
	return last.role, last.speed, true
}

// Closest returns the speed point nearest to value among 30, 50, 75 and 100,
// preferring the lower point on ties. Zero and below mean off.
func Closest(value int) int {
	if value <= 0 {
		return SpeedOff
	}
	best := speedRoles[0].speed
	for _, sr := range speedRoles[1:] {
		if abs(value-sr.speed) < abs(value-best) {
			best = sr.speed
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
