package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pentair-cloud-core/internal/entity"
)

// handleListEntities returns every entity of a device with its state.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	set, err := s.entities.For(d.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID,
		"entities":  set.States(),
	})
}

// handleEntityCommand applies an entity command such as
// {"action":"turn_on","preset_mode":"high"}.
func (s *Server) handleEntityCommand(w http.ResponseWriter, r *http.Request) {
	var cmd entity.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}
	s.applyEntity(w, r, chi.URLParam(r, "key"), cmd)
}

// pumpRequest is the body of PUT /devices/{id}/pump. A preset wins over a
// percentage.
type pumpRequest struct {
	Percentage *int   `json:"percentage"`
	Preset     string `json:"preset_mode"`
}

// handleGetPump returns the pump entity.
func (s *Server) handleGetPump(w http.ResponseWriter, r *http.Request) {
	s.getEntity(w, r, entity.KeyPump)
}

// handleSetPump requests a pump speed through the safety interlock. The
// request is debounced, so the response is 202.
func (s *Server) handleSetPump(w http.ResponseWriter, r *http.Request) {
	var req pumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var cmd entity.Command
	switch {
	case req.Preset != "":
		cmd = entity.Command{Action: entity.ActionSetPreset, Preset: req.Preset}
	case req.Percentage != nil:
		cmd = entity.Command{Action: entity.ActionSetPercentage, Percentage: req.Percentage}
	default:
		writeBadRequest(w, "percentage or preset_mode is required")
		return
	}
	s.applyEntity(w, r, entity.KeyPump, cmd)
}

// handleStopPump turns the pump off. It answers 409 while the heater runs.
func (s *Server) handleStopPump(w http.ResponseWriter, r *http.Request) {
	s.applyEntity(w, r, entity.KeyPump, entity.Command{Action: entity.ActionTurnOff})
}

// handleSetHeater switches the heater with {"on": bool}.
func (s *Server) handleSetHeater(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On *bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on is required")
		return
	}

	action := entity.ActionTurnOff
	if *req.On {
		action = entity.ActionTurnOn
	}
	s.applyEntity(w, r, entity.KeyHeater, entity.Command{Action: action})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request, key string) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	e, err := s.entities.Entity(d.ID, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.State())
}

func (s *Server) applyEntity(w http.ResponseWriter, r *http.Request, key string, cmd entity.Command) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	e, err := s.entities.Entity(d.ID, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := e.Apply(r.Context(), cmd); err != nil {
		s.logger.Info("entity command refused",
			"device_id", d.ID,
			"entity", key,
			"action", cmd.Action,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"entity": e.State(),
	})
}
