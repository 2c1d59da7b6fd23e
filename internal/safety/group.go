package safety

import (
	"sync"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// Group holds one Coordinator per device, created on first use from a
// template. DeviceID in the template is ignored.
type Group struct {
	template Options

	mu     sync.Mutex
	coords map[string]*Coordinator
	closed bool
}

// NewGroup creates an empty Group.
func NewGroup(template Options) *Group {
	return &Group{
		template: template,
		coords:   make(map[string]*Coordinator),
	}
}

// For returns the coordinator for deviceID, creating it if needed.
func (g *Group) For(deviceID string) (*Coordinator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}
	if c, ok := g.coords[deviceID]; ok {
		return c, nil
	}

	opts := g.template
	opts.DeviceID = deviceID
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	g.coords[deviceID] = c
	return c, nil
}

// Observe forwards a polled device to its coordinator. It is meant to be
// registered as a hub change listener.
func (g *Group) Observe(d device.Device) {
	c, err := g.For(d.ID)
	if err != nil {
		return
	}
	c.Observe(d)
}

// Close closes every coordinator. For returns ErrClosed afterwards.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	coords := make([]*Coordinator, 0, len(g.coords))
	for _, c := range g.coords {
		coords = append(coords, c)
	}
	g.mu.Unlock()

	for _, c := range coords {
		c.Close()
	}
}
