package climate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// HVAC modes.
const (
	ModeOff  = "off"
	ModeHeat = "heat"
)

// HVAC actions.
const (
	ActionOff     = "off"
	ActionHeating = "heating"
	ActionIdle    = "idle"
)

// Defaults, in degrees Fahrenheit.
const (
	DefaultTarget     = 82.0
	DefaultMinTemp    = 60.0
	DefaultMaxTemp    = 104.0
	DefaultHysteresis = 1.0
	DefaultUnit       = "F"
	TargetStep        = 1.0
)

// Heater switches the pool heater. It is satisfied by *safety.Coordinator.
type Heater interface {
	SetHeater(ctx context.Context, on bool) error
	HeaterOn() bool
}

// Logger defines the logging interface used by the Thermostat.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Thermostat. Zero values take the defaults.
type Options struct {
	DeviceID   string
	Heater     Heater
	Target     float64
	MinTemp    float64
	MaxTemp    float64
	Hysteresis float64
	Unit       string
	Logger     Logger
}

// State is the readable thermostat state.
type State struct {
	DeviceID   string   `json:"device_id"`
	Mode       string   `json:"hvac_mode"`
	Modes      []string `json:"hvac_modes"`
	Action     string   `json:"hvac_action"`
	Target     float64  `json:"target_temperature"`
	Current    *float64 `json:"current_temperature"`
	MinTemp    float64  `json:"min_temp"`
	MaxTemp    float64  `json:"max_temp"`
	Step       float64  `json:"target_temperature_step"`
	Unit       string   `json:"temperature_unit"`
	HeaterOn   bool     `json:"heater_on"`
	Hysteresis float64  `json:"hysteresis"`
}

// Thermostat drives the heater of one device from a temperature reading.
type Thermostat struct {
	deviceID   string
	heater     Heater
	minTemp    float64
	maxTemp    float64
	hysteresis float64
	unit       string
	logger     Logger

	// controlMu serialises heater decisions; a heater start can take
	// several seconds.
	controlMu sync.Mutex

	mu       sync.Mutex
	mode     string
	target   float64
	current  *float64
	heaterOn bool
	heating  bool
}

// New creates a Thermostat in mode off.
func New(opts Options) (*Thermostat, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if opts.Heater == nil {
		return nil, fmt.Errorf("heater is required")
	}

	t := &Thermostat{
		deviceID:   opts.DeviceID,
		heater:     opts.Heater,
		minTemp:    opts.MinTemp,
		maxTemp:    opts.MaxTemp,
		hysteresis: opts.Hysteresis,
		unit:       opts.Unit,
		logger:     opts.Logger,
		mode:       ModeOff,
	}
	if t.minTemp == 0 {
		t.minTemp = DefaultMinTemp
	}
	if t.maxTemp == 0 {
		t.maxTemp = DefaultMaxTemp
	}
	if t.minTemp >= t.maxTemp {
		return nil, fmt.Errorf("min_temp %.1f must be below max_temp %.1f", t.minTemp, t.maxTemp)
	}
	if t.hysteresis <= 0 {
		t.hysteresis = DefaultHysteresis
	}
	if t.unit == "" {
		t.unit = DefaultUnit
	}
	if t.logger == nil {
		t.logger = noopLogger{}
	}
	target := opts.Target
	if target == 0 {
		target = DefaultTarget
	}
	t.target = t.clamp(target)
	t.heaterOn = t.heater.HeaterOn()
	return t, nil
}

func (t *Thermostat) clamp(v float64) float64 {
	v = math.Round(v/TargetStep) * TargetStep
	return math.Max(t.minTemp, math.Min(t.maxTemp, v))
}

// DeviceID returns the thermostat's device.
func (t *Thermostat) DeviceID() string {
	return t.deviceID
}

// State returns a snapshot of the thermostat.
func (t *Thermostat) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := State{
		DeviceID:   t.deviceID,
		Mode:       t.mode,
		Modes:      []string{ModeOff, ModeHeat},
		Target:     t.target,
		MinTemp:    t.minTemp,
		MaxTemp:    t.maxTemp,
		Step:       TargetStep,
		Unit:       t.unit,
		HeaterOn:   t.heaterOn,
		Hysteresis: t.hysteresis,
	}
	if t.current != nil {
		v := *t.current
		st.Current = &v
	}
	switch {
	case t.mode == ModeOff:
		st.Action = ActionOff
	case t.heating:
		st.Action = ActionHeating
	default:
		st.Action = ActionIdle
	}
	return st
}

// SetMode changes the HVAC mode and re-evaluates the heater.
func (t *Thermostat) SetMode(ctx context.Context, mode string) error {
	if mode != ModeOff && mode != ModeHeat {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	t.mu.Lock()
	t.mode = mode
	t.heating = t.heaterOn && mode == ModeHeat
	t.mu.Unlock()

	t.logger.Info("hvac mode changed", "device_id", t.deviceID, "mode", mode)
	return t.control(ctx)
}

// SetTarget changes the target temperature, clamped to the supported range
// and rounded to the step, and re-evaluates the heater.
func (t *Thermostat) SetTarget(ctx context.Context, target float64) error {
	t.mu.Lock()
	t.target = t.clamp(target)
	t.mu.Unlock()
	return t.control(ctx)
}

// UpdateTemperature records a sensor reading and re-evaluates the heater.
func (t *Thermostat) UpdateTemperature(ctx context.Context, temp float64) error {
	t.mu.Lock()
	t.current = &temp
	t.mu.Unlock()
	return t.control(ctx)
}

// ClearTemperature forgets the reading after an unusable sensor value.
// The heater is left as it is.
func (t *Thermostat) ClearTemperature() {
	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()
}

// Observe re-reads the heater state after a poll.
func (t *Thermostat) Observe(d device.Device) {
	if d.ID != t.deviceID {
		return
	}
	on := t.heater.HeaterOn()
	t.mu.Lock()
	t.heaterOn = on
	t.heating = on && t.mode == ModeHeat
	t.mu.Unlock()
}

// control applies the hysteresis rules.
func (t *Thermostat) control(ctx context.Context) error {
	t.controlMu.Lock()
	defer t.controlMu.Unlock()

	t.mu.Lock()
	mode, target, heaterOn := t.mode, t.target, t.heaterOn
	var current float64
	known := t.current != nil
	if known {
		current = *t.current
	}
	t.mu.Unlock()

	switch {
	case mode == ModeOff:
		if heaterOn {
			return t.switchHeater(ctx, false)
		}
	case !known:
		t.logger.Debug("no temperature reading, heater unchanged", "device_id", t.deviceID)
	case current < target-t.hysteresis && !heaterOn:
		t.logger.Info("below target, heating", "device_id", t.deviceID, "current", current, "target", target)
		return t.switchHeater(ctx, true)
	case current > target && heaterOn:
		t.logger.Info("above target, heater off", "device_id", t.deviceID, "current", current, "target", target)
		return t.switchHeater(ctx, false)
	}
	return nil
}

func (t *Thermostat) switchHeater(ctx context.Context, on bool) error {
	if err := t.heater.SetHeater(ctx, on); err != nil {
		return fmt.Errorf("switching heater %s: %w", onOff(on), err)
	}
	t.mu.Lock()
	t.heaterOn = on
	t.heating = on && t.mode == ModeHeat
	t.mu.Unlock()
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// ParseTemperature decodes a sensor payload: a bare number or a JSON object
// with a "temperature" member.
func ParseTemperature(payload []byte) (float64, error) {
	s := bytes.TrimSpace(payload)
	if v, err := strconv.ParseFloat(string(bytes.Trim(s, `"`)), 64); err == nil {
		return validTemperature(v)
	}

	var obj struct {
		Temperature *float64 `json:"temperature"`
	}
	if err := json.Unmarshal(s, &obj); err != nil || obj.Temperature == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTemperature, s)
	}
	return validTemperature(*obj.Temperature)
}

func validTemperature(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTemperature, v)
	}
	return v, nil
}
