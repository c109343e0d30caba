package server

import (
	"encoding/json"
	"net/http"

	"github.com/lm-plugin/worker/internal/channel"
	"github.com/lm-plugin/worker/pkg/types"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// AcceptedResponse is the body of POST /command.
type AcceptedResponse struct {
	Accepted bool              `json:"accepted"`
	Type     types.CommandType `json:"type"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Connected: s.endpoint != nil && s.endpoint.Connected(),
	})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Snapshot())
}

// postCommand dispatches one envelope. The outcome is reported through
// notifications, never in this response.
func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	var cmd types.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid command envelope: "+err.Error())
		return
	}
	if cmd.Type == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command type is required")
		return
	}

	s.core.Dispatch(cmd)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true, Type: cmd.Type})
}

// attachPort upgrades to a websocket and serves it as the live port until
// either side closes it.
func (s *Server) attachPort(w http.ResponseWriter, r *http.Request) {
	if s.endpoint == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "no endpoint configured")
		return
	}
	// The upgrader has already answered the request on failure.
	port, err := channel.NewServerPort(w, r)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.log.Info().Str("remote", r.RemoteAddr).Msg("port attached")
	if err := s.endpoint.Attach(r.Context(), port); err != nil {
		s.log.Warn().Err(err).Msg("port closed with error")
		return
	}
	s.log.Info().Str("remote", r.RemoteAddr).Msg("port detached")
}
