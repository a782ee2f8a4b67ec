package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/mattjoyce/dgw/internal/buffer"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Connection:    "unknown",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Status != nil {
		snap := s.deps.Status.Snapshot()
		resp.Connection = snap.Status
		resp.RecoveryPending = snap.RecoveryPending
		resp.Maintenance = snap.Maintenance
		if snap.Maintenance {
			until := snap.MaintenanceUntil
			resp.MaintenanceUntil = &until
		}
	}
	if s.deps.Buffer != nil {
		if sr, ok := s.deps.Buffer.(buffer.StatsReporter); ok {
			stats, err := sr.Stats(r.Context())
			if err != nil {
				s.logger.Error("failed to read buffer stats", "error", err)
				s.writeError(w, http.StatusInternalServerError, "failed to read buffer stats")
				return
			}
			resp.Buffered, resp.Dropped = stats.Buffered, stats.Dropped
		} else {
			n, err := s.deps.Buffer.Len(r.Context())
			if err != nil {
				s.logger.Error("failed to count buffered records", "error", err)
				s.writeError(w, http.StatusInternalServerError, "failed to count buffered records")
				return
			}
			resp.Buffered = n
		}
	}
	if s.deps.Debug != nil {
		resp.Debug = s.deps.Debug.Enabled()
	}
	if s.deps.Hub != nil {
		resp.LastEventID = s.deps.Hub.LastID()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDebug handles POST /debug/{state} where state is on|off|true|false.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if s.deps.Debug == nil {
		s.writeError(w, http.StatusNotFound, "debug capture not configured")
		return
	}
	var on bool
	switch chi.URLParam(r, "state") {
	case "on", "true":
		on = true
	case "off", "false":
		on = false
	default:
		s.writeError(w, http.StatusBadRequest, "state must be on or off")
		return
	}
	if err := s.deps.Debug.SetEnabled(on); err != nil {
		s.logger.Error("failed to toggle debug capture", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to toggle debug capture")
		return
	}
	s.writeJSON(w, http.StatusOK, DebugResponse{Debug: on})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
