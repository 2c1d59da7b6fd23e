package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/pentair-cloud-core/internal/climate"
)

// climateRequest is the body of PUT /devices/{id}/climate.
type climateRequest struct {
	Mode   *string  `json:"hvac_mode"`
	Target *float64 `json:"target_temperature"`
}

// handleGetClimate returns the pool thermostat of a device.
func (s *Server) handleGetClimate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThermostat(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.State())
}

// handleSetClimate changes the mode, the target or both. The mode is
// applied first.
func (s *Server) handleSetClimate(w http.ResponseWriter, r *http.Request) {
	var req climateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Mode == nil && req.Target == nil {
		writeBadRequest(w, "hvac_mode or target_temperature is required")
		return
	}

	t, ok := s.lookupThermostat(w, r)
	if !ok {
		return
	}
	if req.Mode != nil {
		if err := t.SetMode(r.Context(), *req.Mode); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.Target != nil {
		if err := t.SetTarget(r.Context(), *req.Target); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, t.State())
}

func (s *Server) lookupThermostat(w http.ResponseWriter, r *http.Request) (*climate.Thermostat, bool) {
	if s.climate == nil {
		writeNotFound(w, "climate control is disabled")
		return nil, false
	}
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return nil, false
	}
	t, err := s.climate.For(d.ID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return t, true
}
