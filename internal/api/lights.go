package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/level451/neewerctl/internal/lights"
)

// cctRequest is the body for CCT commands.
type cctRequest struct {
	Brightness   *int `json:"brightness"`
	TemperatureK *int `json:"temperature_k"`
}

// powerRequest is the body for power commands.
type powerRequest struct {
	On *bool `json:"on"`
}

// commandRequest is the body for the fan-out command endpoint. Exactly one
// of the CCT pair or the power flag must be present.
type commandRequest struct {
	Target       string `json:"target"`
	Brightness   *int   `json:"brightness"`
	TemperatureK *int   `json:"temperature_k"`
	On           *bool  `json:"on"`
}

// handleStatus returns a snapshot of every managed light.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

// handleListLights returns the light list portion of the status snapshot.
func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	st := s.manager.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"lights": st.Lights,
		"count":  st.Total,
	})
}

// handleGetLight returns one light's status.
func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	mac := strings.ToLower(chi.URLParam(r, "mac"))

	for _, ls := range s.manager.Status().Lights {
		if ls.MAC == mac {
			writeJSON(w, http.StatusOK, ls)
			return
		}
	}
	writeNotFound(w, "unknown light: "+mac)
}

// handleSetCCT sets brightness and colour temperature on one light.
func (s *Server) handleSetCCT(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	var req cctRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Brightness == nil || req.TemperatureK == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "brightness and temperature_k are required")
		return
	}

	s.runCommand(w, r, func() ([]lights.CommandResult, error) {
		return s.manager.SetCCT(r.Context(), mac, *req.Brightness, *req.TemperatureK)
	})
}

// handleSetPower switches one light on or off.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "on is required")
		return
	}

	s.runCommand(w, r, func() ([]lights.CommandResult, error) {
		return s.manager.SetPower(r.Context(), mac, *req.On)
	})
}

// handleCommand delivers a command to a MAC or to every light. An absent
// target means every light, matching the MQTT command topic.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Target == "" {
		req.Target = lights.TargetAll
	}

	switch {
	case req.Brightness != nil && req.TemperatureK != nil:
		s.runCommand(w, r, func() ([]lights.CommandResult, error) {
			return s.manager.SetCCT(r.Context(), req.Target, *req.Brightness, *req.TemperatureK)
		})
	case req.On != nil:
		s.runCommand(w, r, func() ([]lights.CommandResult, error) {
			return s.manager.SetPower(r.Context(), req.Target, *req.On)
		})
	default:
		writeError(w, http.StatusBadRequest, ErrCodeValidation,
			"either brightness+temperature_k or on must be provided")
	}
}

// runCommand executes a command closure and maps the outcome to a response.
// Delivery failures to individual lights are reported in the results, not as
// an HTTP error; the HTTP layer only fails on unknown targets or shutdown.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, run func() ([]lights.CommandResult, error)) {
	results, err := run()
	if err != nil {
		switch {
		case errors.Is(err, lights.ErrUnknownLight):
			writeNotFound(w, err.Error())
		case errors.Is(err, lights.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, ErrCodeConflict, err.Error())
		default:
			s.logger.Error("command failed",
				"error", err,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeInternalError(w, "command failed")
		}
		return
	}

	delivered := 0
	for _, res := range results {
		if res.OK {
			delivered++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"delivered": delivered,
		"total":     len(results),
	})
}
