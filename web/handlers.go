package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/skybridge/client"
)

type statusResponse struct {
	State  string `json:"state"`
	URL    string `json:"url"`
	Topics int    `json:"topics"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		State:  s.controller.State().String(),
		URL:    s.controller.URL(),
		Topics: len(s.controller.Topics()),
	}
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Connect(r.Context()); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Disconnect(); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) HandleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Topics())
}

func (s *Server) HandlePoses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Poses())
}

func (s *Server) HandlePose(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pose, ok := s.state.Pose(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no odometry adapter named " + name})
		return
	}
	writeJSON(w, http.StatusOK, pose)
}

func (s *Server) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Telemetry())
}

// handleError maps bridge errors to HTTP status codes
func (s *Server) handleError(w http.ResponseWriter, err error) {
	slog.Error("Control request failed", "error", err)

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, client.ErrConnectInProgress):
		status = http.StatusConflict
	case errors.Is(err, client.ErrSessionClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, client.ErrNotConnected):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
