package entity

import (
	"fmt"
	"sort"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
)

// Entity keys of the fixed entities.
const (
	KeyPump      = "pump"
	KeyPumpSpeed = "pump_speed"
	KeyHeater    = "heater"
	KeyLight     = "light"
)

// ProgramKey returns the key of the raw entity for a program slot.
func ProgramKey(programID int) string {
	return fmt.Sprintf("program_%d", programID)
}

// Descriptors returns the entity descriptors for a device.
//
// The pump, speed, heater and light entities are always present. One raw
// program entity is added for every discovered slot.
func Descriptors(d device.Device, m *program.Mapper) []Descriptor {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	lights, _ := m.ProgramFor(program.RoleRelayLights)
	heater, _ := m.ProgramFor(program.RoleRelayHeater)

	descs := []Descriptor{
		{Key: KeyPump, Name: name + " Pump", Icon: "mdi:pump", Kind: KindFan, Policy: PolicyPumpSpeed},
		{Key: KeyPumpSpeed, Name: name + " Speed Control", Icon: "mdi:speedometer", Kind: KindNumber, Policy: PolicyPumpSpeed},
		{Key: KeyHeater, Name: name + " Heater", Icon: "mdi:fire", Kind: KindSwitch, Policy: PolicyHeater, Role: program.RoleRelayHeater, ProgramID: heater},
		{Key: KeyLight, Name: name + " Light", Icon: "mdi:lightbulb", Kind: KindLight, Policy: PolicyDirect, Role: program.RoleRelayLights, ProgramID: lights},
	}

	programs := make([]device.Program, len(d.Programs))
	copy(programs, d.Programs)
	sort.Slice(programs, func(i, j int) bool { return programs[i].ID < programs[j].ID })
	for _, p := range programs {
		role, _ := m.RoleFor(p.ID)
		descs = append(descs, Descriptor{
			Key:        ProgramKey(p.ID),
			Name:       fmt.Sprintf("%s - %s (Program)", name, p.Name),
			Kind:       KindProgram,
			Policy:     PolicyDirect,
			Role:       role,
			ProgramID:  p.ID,
			Diagnostic: true,
		})
	}
	return descs
}

// Set is the entities of one device, keyed by entity key.
type Set struct {
	deviceID string
	order    []string
	byKey    map[string]*Entity
}

// NewSet builds every entity for a device.
func NewSet(d device.Device, m *program.Mapper, cmd Commander, sc Safety) (*Set, error) {
	s := &Set{deviceID: d.ID, byKey: make(map[string]*Entity)}
	for _, desc := range Descriptors(d, m) {
		e, err := New(d.ID, desc, cmd, sc)
		if err != nil {
			return nil, err
		}
		s.order = append(s.order, desc.Key)
		s.byKey[desc.Key] = e
	}
	return s, nil
}

// DeviceID returns the device the set belongs to.
func (s *Set) DeviceID() string {
	return s.deviceID
}

// Get returns the entity with the given key.
func (s *Set) Get(key string) (*Entity, error) {
	e, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownEntity, s.deviceID, key)
	}
	return e, nil
}

// Entities returns every entity in build order.
func (s *Set) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

// States returns the state of every entity in build order.
func (s *Set) States() []State {
	out := make([]State, 0, len(s.order))
	for _, e := range s.Entities() {
		out = append(out, e.State())
	}
	return out
}
