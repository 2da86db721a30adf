package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/wirehome/internal/remote"
)

type disarmRequest struct {
	Credential string `json:"credential"`
}

type overrideRequest struct {
	Role  string   `json:"role"`
	Value *float64 `json:"value"`
}

// acceptedResponse acknowledges a queued command.
type acceptedResponse struct {
	Status string `json:"status"`
}

var accepted = acceptedResponse{Status: "accepted"}

// handleGetAlarm returns the engine's last published snapshot.
func (s *Server) handleGetAlarm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.alarm.Snapshot())
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	s.commands.Arm(commandSource(r))
	writeJSON(w, http.StatusAccepted, accepted)
}

// handleDisarm queues a disarm. The credential is checked by the engine,
// so a wrong PIN is still 202 and shows up as an unchanged alarm state.
func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	var req disarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.commands.Disarm(req.Credential, commandSource(r)); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role == "" || req.Value == nil {
		writeBadRequest(w, "role and value are required")
		return
	}

	err := s.commands.Override(req.Role, *req.Value, commandSource(r))
	switch {
	case errors.Is(err, remote.ErrUnknownRole):
		writeNotFound(w, err.Error())
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, accepted)
	}
}
