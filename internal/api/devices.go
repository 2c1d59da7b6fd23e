package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// handleListDevices returns every known device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.core.Devices()
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDiscover lists the account's devices and their programs again.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if err := s.core.PopulateDevices(r.Context()); err != nil {
		s.logger.Warn("device discovery failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeCommandFailed, "device discovery failed: "+err.Error())
		return
	}
	s.handleListDevices(w, r)
}

// handleRefresh polls the cloud. With ?force=true the minimum poll interval
// is ignored.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "force must be a boolean")
			return
		}
		force = parsed
	}

	if err := s.core.UpdateStatus(r.Context(), force); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "refresh cancelled")
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	s.handleListDevices(w, r)
}

// handleActivateProgram starts one program slot.
func (s *Server) handleActivateProgram(w http.ResponseWriter, r *http.Request) {
	s.setProgram(w, r, true)
}

// handleDeactivateProgram stops one program slot.
func (s *Server) handleDeactivateProgram(w http.ResponseWriter, r *http.Request) {
	s.setProgram(w, r, false)
}

func (s *Server) setProgram(w http.ResponseWriter, r *http.Request, active bool) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	programID, err := strconv.Atoi(chi.URLParam(r, "program"))
	if err != nil || programID < device.MinProgramID || programID > device.MaxProgramID {
		writeBadRequest(w, fmt.Sprintf("program must be an integer between %d and %d", device.MinProgramID, device.MaxProgramID))
		return
	}

	var done bool
	if active {
		done = s.core.Activate(r.Context(), d.ID, programID)
	} else {
		done = s.core.Deactivate(r.Context(), d.ID, programID)
	}
	if !done {
		writeError(w, http.StatusBadGateway, ErrCodeCommandFailed,
			fmt.Sprintf("program %d command was not confirmed", programID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  d.ID,
		"program_id": programID,
		"active":     active,
	})
}

// handleStopAll deactivates every program slot of a device.
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if !s.core.StopAllPrograms(r.Context(), d.ID) {
		writeError(w, http.StatusBadGateway, ErrCodeCommandFailed, "not every program stopped")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID,
		"stopped":   true,
	})
}

// lookupDevice resolves the {id} URL parameter, writing a 404 when unknown.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	d, err := s.core.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return d, true
}
