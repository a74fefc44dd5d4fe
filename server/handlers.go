package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type handlers struct {
	deps      Deps
	startedAt time.Time
}

func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		slog.Warn("failed to write healthz response", slog.Any("err", err))
	}
}

// handleReadyz reports ready only when the database answers a ping; without a
// database configured, process liveness is readiness.
func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		slog.Warn("failed to write readyz response", slog.Any("err", err))
	}
}

type statusQueue struct {
	Total       int `json:"total"`
	PlayedIndex int `json:"played_index"`
}

type statusResponse struct {
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	ActiveSessions map[string]string      `json:"active_sessions"`
	Queues         map[string]statusQueue `json:"queues"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		ActiveSessions: map[string]string{},
		Queues:         map[string]statusQueue{},
	}
	if h.deps.Registry != nil {
		resp.ActiveSessions = h.deps.Registry.Snapshot()
	}
	if h.deps.Queue != nil {
		for scope, s := range h.deps.Queue.Stats() {
			resp.Queues[scope] = statusQueue{Total: s.Total, PlayedIndex: s.PlayedIndex}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode status response", slog.Any("err", err))
	}
}
