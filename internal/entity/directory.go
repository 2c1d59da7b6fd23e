package entity

import (
	"fmt"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
)

// Source is a Commander that can also list devices. It is satisfied by
// *hub.Hub.
type Source interface {
	Commander
	Devices() []device.Device
}

// SafetyFunc resolves the safety coordinator of a device.
type SafetyFunc func(deviceID string) (Safety, error)

// Directory builds entity sets on demand from the current device
// snapshots. Sets are rebuilt on every call, so slots discovered by a later
// poll show up without a restart.
type Directory struct {
	source Source
	mapper *program.Mapper
	safety SafetyFunc
}

// NewDirectory creates a Directory.
func NewDirectory(source Source, mapper *program.Mapper, safety SafetyFunc) (*Directory, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if mapper == nil {
		return nil, fmt.Errorf("mapper is required")
	}
	if safety == nil {
		return nil, fmt.Errorf("safety resolver is required")
	}
	return &Directory{source: source, mapper: mapper, safety: safety}, nil
}

// For returns the entity set of one device.
func (d *Directory) For(deviceID string) (*Set, error) {
	dev, err := d.source.Device(deviceID)
	if err != nil {
		return nil, err
	}
	sc, err := d.safety(deviceID)
	if err != nil {
		return nil, fmt.Errorf("safety coordinator for %s: %w", deviceID, err)
	}
	return NewSet(*dev, d.mapper, d.source, sc)
}

// Entity returns one entity of one device.
func (d *Directory) Entity(deviceID, key string) (*Entity, error) {
	s, err := d.For(deviceID)
	if err != nil {
		return nil, err
	}
	return s.Get(key)
}

// All returns the entity set of every known device. Devices whose set
// cannot be built are skipped.
func (d *Directory) All() []*Set {
	devices := d.source.Devices()
	out := make([]*Set, 0, len(devices))
	for _, dev := range devices {
		s, err := d.For(dev.ID)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
