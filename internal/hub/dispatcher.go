package hub

import (
	"context"
	"strconv"

	"github.com/nerrad567/pentair-cloud-core/internal/cloud"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// Command actions reported to the Recorder.
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
)

// SetProgram arms or disarms one program slot.
//
// It returns true only when the cloud confirms with set_device_success; the
// registry is then updated to the new control value before returning. On any
// failure the registry is left untouched.
func (h *Hub) SetProgram(ctx context.Context, deviceID string, programID int, active bool) bool {
	action, value := ActionDeactivate, device.ControlInactive
	if active {
		action, value = ActionActivate, device.ControlActive
	}

	if programID < device.MinProgramID || programID > device.MaxProgramID {
		h.logger.Error("program out of range", "device_id", deviceID, "program_id", programID)
		h.metrics.CommandCompleted(action, ResultError)
		return false
	}
	if _, err := h.registry.FindDevice(deviceID); err != nil {
		h.logger.Error("command for unknown device", "device_id", deviceID, "error", err)
		h.metrics.CommandCompleted(action, ResultError)
		return false
	}

	cred, err := h.creds.EnsureToken(ctx)
	if err != nil {
		h.logger.Error("command without credential", "action", action, "device_id", deviceID, "error", err)
		h.metrics.CommandCompleted(action, ResultError)
		return false
	}

	h.logger.Debug("sending program command", "action", action, "device_id", deviceID, "program_id", programID)
	if err := h.cloud.SetField(ctx, cred, deviceID, cloud.ProgramControlField(programID), strconv.Itoa(value)); err != nil {
		h.logger.Error("program command failed", "action", action, "device_id", deviceID, "program_id", programID, "error", err)
		h.metrics.CommandCompleted(action, ResultError)
		return false
	}
	h.metrics.CommandCompleted(action, ResultSuccess)

	if err := h.registry.SetProgramControl(deviceID, programID, value); err != nil {
		h.logger.Debug("command for program not yet polled", "device_id", deviceID, "program_id", programID)
	}
	h.notifyDevice(deviceID)
	return true
}

// Activate arms a program. Other running programs are not touched.
func (h *Hub) Activate(ctx context.Context, deviceID string, programID int) bool {
	return h.SetProgram(ctx, deviceID, programID, true)
}

// Deactivate disarms a program.
func (h *Hub) Deactivate(ctx context.Context, deviceID string, programID int) bool {
	return h.SetProgram(ctx, deviceID, programID, false)
}

// StopAllPrograms deactivates slots 1-8 and reports whether all succeeded.
func (h *Hub) StopAllPrograms(ctx context.Context, deviceID string) bool {
	ok := true
	for id := device.MinProgramID; id <= device.MaxProgramID; id++ {
		if !h.Deactivate(ctx, deviceID, id) {
			ok = false
		}
	}
	return ok
}
