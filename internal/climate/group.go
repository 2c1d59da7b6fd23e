package climate

import (
	"context"
	"sort"
	"sync"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// HeaterFunc resolves the heater of a device.
type HeaterFunc func(deviceID string) (Heater, error)

// Group holds one Thermostat per device, created on first use.
type Group struct {
	template Options
	heaters  HeaterFunc

	mu     sync.Mutex
	thermo map[string]*Thermostat
}

// NewGroup creates an empty Group. DeviceID and Heater in the template are
// replaced per device.
func NewGroup(template Options, heaters HeaterFunc) *Group {
	return &Group{
		template: template,
		heaters:  heaters,
		thermo:   make(map[string]*Thermostat),
	}
}

// For returns the thermostat of deviceID, creating it if needed.
func (g *Group) For(deviceID string) (*Thermostat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.thermo[deviceID]; ok {
		return t, nil
	}
	h, err := g.heaters(deviceID)
	if err != nil {
		return nil, err
	}
	opts := g.template
	opts.DeviceID = deviceID
	opts.Heater = h
	t, err := New(opts)
	if err != nil {
		return nil, err
	}
	g.thermo[deviceID] = t
	return t, nil
}

// Observe forwards a polled device to its thermostat.
func (g *Group) Observe(d device.Device) {
	if t, err := g.For(d.ID); err == nil {
		t.Observe(d)
	}
}

// UpdateTemperature feeds one sensor reading to every thermostat. The first
// error is returned after all thermostats ran.
func (g *Group) UpdateTemperature(ctx context.Context, temp float64) error {
	var first error
	for _, t := range g.all() {
		if err := t.UpdateTemperature(ctx, temp); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ClearTemperature forgets the reading on every thermostat.
func (g *Group) ClearTemperature() {
	for _, t := range g.all() {
		t.ClearTemperature()
	}
}

// Thermostats returns every thermostat created so far, sorted by device.
func (g *Group) Thermostats() []*Thermostat {
	return g.all()
}

func (g *Group) all() []*Thermostat {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.thermo))
	for id := range g.thermo {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Thermostat, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.thermo[id])
	}
	return out
}
