package device

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory store of discovered devices.
//
// Devices keep their discovery order and each device keeps its programs in
// the order they were first seen. The registry never performs remote calls.
//
// All public methods are thread-safe. Reads return deep copies so callers
// can never mutate registry state directly.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*Device
	logger  Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Replace swaps the device set for a freshly discovered one.
//
// Devices present both before and after keep their programs and telemetry;
// only the display name is taken from the new entry. Devices no longer
// reported are dropped.
func (r *Registry) Replace(devices []Device) error {
	next := make(map[string]*Device, len(devices))
	order := make([]string, 0, len(devices))

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range devices {
		d := devices[i]
		if d.ID == "" {
			return fmt.Errorf("%w: empty id at index %d", ErrInvalidDevice, i)
		}
		if _, dup := next[d.ID]; dup {
			continue
		}
		if existing, ok := r.devices[d.ID]; ok {
			kept := existing.DeepCopy()
			kept.Name = d.Name
			next[d.ID] = kept
		} else {
			next[d.ID] = d.DeepCopy()
		}
		order = append(order, d.ID)
	}

	r.devices = next
	r.order = order
	r.logger.Info("device registry replaced", "count", len(order))
	return nil
}

// ListDevices returns all devices in discovery order.
func (r *Registry) ListDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.devices[id].DeepCopy())
	}
	return out
}

// FindDevice returns the device with the given ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) FindDevice(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// IDs returns the device IDs in discovery order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// UpsertProgram inserts or overwrites a program by slot ID.
//
// Existing programs are updated in place so their position never changes;
// unseen programs are appended. Repeating the same upsert is a no-op.
func (r *Registry) UpsertProgram(deviceID string, programID int, name string, typ ProgramType, controlValue int) error {
	if programID < MinProgramID || programID > MaxProgramID {
		return fmt.Errorf("%w: %d", ErrInvalidProgram, programID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	for i := range d.Programs {
		if d.Programs[i].ID == programID {
			d.Programs[i].Name = name
			d.Programs[i].Type = typ
			d.Programs[i].ControlValue = controlValue
			return nil
		}
	}

	d.Programs = append(d.Programs, Program{
		ID:           programID,
		Name:         name,
		Type:         typ,
		ControlValue: controlValue,
	})
	r.logger.Debug("program discovered", "device_id", deviceID, "program_id", programID, "name", name)
	return nil
}

// UpdateTelemetry stores the decoded pump and relay readings for a device.
// PumpRunning is derived from the active pump program.
func (r *Registry) UpdateTelemetry(deviceID string, t Telemetry, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	if t.ActivePumpProgram != nil {
		v := *t.ActivePumpProgram
		d.ActivePumpProgram = &v
	} else {
		d.ActivePumpProgram = nil
	}
	d.PumpRunning = d.ActivePumpProgram != nil
	d.MotorSpeed = t.MotorSpeed
	d.Power = t.Power
	d.FlowRate = t.FlowRate
	d.Relay1On = t.Relay1On
	d.Relay2On = t.Relay2On
	d.LastUpdated = at
	return nil
}

// SetProgramControl overwrites the control value of a known program.
// It is used for optimistic updates after a successful command.
func (r *Registry) SetProgramControl(deviceID string, programID int, controlValue int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	for i := range d.Programs {
		if d.Programs[i].ID == programID {
			d.Programs[i].ControlValue = controlValue
			return nil
		}
	}
	return fmt.Errorf("%w: device %s program %d", ErrProgramNotFound, deviceID, programID)
}
