package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/pentair-cloud-core/internal/cloud"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// Device filter applied during discovery.
const (
	SupportedDeviceType = "IF31"
	activeStatus        = "ACTIVE"
)

// UpdateStatus refreshes every known device from the cloud.
//
// Without force it is a no-op when the previous refresh started less than
// MinInterval ago. The refresh time is recorded before the fetch.
//
// Poll failures are logged and not returned; the data stays stale until the
// next cycle. An unauthorized or timed-out poll triggers one
// re-authentication. Only context errors are returned.
func (h *Hub) UpdateStatus(ctx context.Context, force bool) error {
	changed := h.refresh(ctx, force)
	h.notify(changed...)
	return ctx.Err()
}

func (h *Hub) refresh(ctx context.Context, force bool) []device.Device {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	now := h.now()
	if !force && !h.lastRefresh.IsZero() && now.Sub(h.lastRefresh) < h.minInterval {
		h.logger.Debug("status refresh requested before minimum interval", "since_last", now.Sub(h.lastRefresh))
		h.metrics.PollCompleted(ResultSkipped, now)
		return nil
	}
	h.lastRefresh = now

	cred, err := h.creds.EnsureToken(ctx)
	if err != nil {
		h.logger.Error("status refresh without credential", "error", err)
		h.metrics.PollCompleted(ResultError, now)
		return nil
	}

	ids := h.registry.IDs()
	if len(ids) == 0 {
		h.logger.Debug("status refresh skipped, no devices")
		h.metrics.PollCompleted(ResultSkipped, now)
		return nil
	}

	statuses, err := h.cloud.GetStatus(ctx, cred, ids)
	if err != nil {
		h.logger.Error("status refresh failed", "error", err)
		h.metrics.PollCompleted(ResultError, now)
		h.recover(ctx, err)
		return nil
	}

	var changed []device.Device
	for _, st := range statuses {
		if d, ok := h.merge(st); ok {
			changed = append(changed, d)
		}
	}
	h.metrics.PollCompleted(ResultSuccess, now)
	h.logger.Debug("status refresh completed", "devices", len(statuses), "merged", len(changed))
	return changed
}

// merge decodes one device's fields and applies them to the registry.
// A decode error skips only this device.
func (h *Hub) merge(st cloud.DeviceStatus) (device.Device, bool) {
	decoded, err := cloud.DecodeStatus(st.Fields)
	if err != nil {
		h.logger.Error("protocol error decoding device status", "device_id", st.ID, "error", err)
		return device.Device{}, false
	}

	if err := h.registry.UpdateTelemetry(st.ID, decoded.Telemetry, h.now()); err != nil {
		h.logger.Debug("status for unknown device ignored", "device_id", st.ID)
		return device.Device{}, false
	}
	for _, p := range decoded.Programs {
		if err := h.registry.UpsertProgram(st.ID, p.ID, p.Name, p.Type, p.ControlValue); err != nil {
			h.logger.Warn("program upsert failed", "device_id", st.ID, "program_id", p.ID, "error", err)
		}
	}

	d, err := h.registry.FindDevice(st.ID)
	if err != nil {
		return device.Device{}, false
	}
	return *d, true
}

// recover re-authenticates once when the poll failure suggests an expired
// or timed-out session.
func (h *Hub) recover(ctx context.Context, err error) {
	if !errors.Is(err, cloud.ErrUnauthorized) && !strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return
	}
	h.logger.Warn("session problem detected, re-authenticating", "error", err)
	if rerr := h.creds.Reauthenticate(ctx); rerr != nil {
		h.logger.Error("re-authentication failed", "error", rerr)
	}
}

// PopulateDevices discovers the account's compatible devices, replaces the
// registry contents and runs a forced status refresh.
func (h *Hub) PopulateDevices(ctx context.Context) error {
	cred, err := h.creds.EnsureToken(ctx)
	if err != nil {
		return fmt.Errorf("ensuring token: %w", err)
	}
	h.rediscover.Store(false)

	infos, err := h.cloud.ListDevices(ctx, cred)
	if err != nil {
		h.rediscover.Store(true)
		return fmt.Errorf("discovering devices: %w", err)
	}

	devices := make([]device.Device, 0, len(infos))
	for _, info := range infos {
		switch {
		case info.Type != SupportedDeviceType:
			h.logger.Debug("incompatible device skipped", "device_id", info.ID, "type", info.Type, "product", info.ProductName)
		case info.Status != activeStatus:
			h.logger.Debug("inactive device skipped", "device_id", info.ID, "status", info.Status)
		default:
			h.logger.Info("compatible device found", "device_id", info.ID, "name", info.Name())
			devices = append(devices, device.Device{ID: info.ID, Name: info.Name()})
		}
	}

	if err := h.registry.Replace(devices); err != nil {
		return fmt.Errorf("replacing devices: %w", err)
	}
	h.metrics.DevicesDiscovered(len(devices))

	return h.UpdateStatus(ctx, true)
}
