package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/pentair-cloud-core/internal/safety"
)

// Event channels.
const (
	EventDeviceStateChanged = "device.state_changed"
	EventSafetyNotification = "safety.notification"

	// channelAll subscribes a client to every channel.
	channelAll = "*"
)

// DeviceEvent is the payload of a device.state_changed event.
type DeviceEvent struct {
	Device   device.Device  `json:"device"`
	Entities []entity.State `json:"entities,omitempty"`
}

// Event is one broadcast. DeviceID scopes it for clients that filter by
// device; an empty DeviceID reaches every subscriber of Channel.
type Event struct {
	Channel  string
	DeviceID string
	Payload  any
}

// SnapshotFunc returns the current device.state_changed events, sent to a
// client when it subscribes to that channel.
type SnapshotFunc func() []Event

// Hub tracks WebSocket clients and fans events out to them.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex
	snapshot SnapshotFunc
	dropped  atomic.Uint64
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetSnapshot installs the function that seeds new device subscribers.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Calling it twice is harmless.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		client.close()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast delivers ev to every matching client. A client whose buffer is
// full misses the event; the miss is counted in Dropped.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: ev.Channel,
		DeviceID:  ev.DeviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev.Payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", ev.Channel, "error", err)
		return
	}

	// Client locks are taken only after the hub lock is released.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if !client.wants(ev.Channel, ev.DeviceID) {
			continue
		}
		if client.trySend(data) {
			sent++
		} else {
			h.dropped.Add(1)
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", ev.Channel, "device_id", ev.DeviceID, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) currentSnapshot() []Event {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// deviceEvent builds the device.state_changed event for d, including the
// entity states when the device's entity set resolves.
func (s *Server) deviceEvent(d device.Device) Event {
	payload := DeviceEvent{Device: d}
	if set, err := s.entities.For(d.ID); err == nil {
		payload.Entities = set.States()
	} else {
		s.logger.Debug("entity states unavailable for broadcast", "device_id", d.ID, "error", err)
	}
	return Event{Channel: EventDeviceStateChanged, DeviceID: d.ID, Payload: payload}
}

// deviceSnapshot returns one device.state_changed event per known device.
func (s *Server) deviceSnapshot() []Event {
	devices := s.core.Devices()
	events := make([]Event, 0, len(devices))
	for _, d := range devices {
		events = append(events, s.deviceEvent(d))
	}
	return events
}

// Observe broadcasts a polled device and its entity states. Register it
// with the hub's change listeners.
func (s *Server) Observe(d device.Device) {
	s.hub.Broadcast(s.deviceEvent(d))
}

// Notify implements safety.Notifier.
func (s *Server) Notify(n safety.Notification) {
	s.hub.Broadcast(Event{Channel: EventSafetyNotification, DeviceID: n.DeviceID, Payload: n})
}
