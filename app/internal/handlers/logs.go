package handlers

import (
	"net/http"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/models"
)

// HandleGetLogs returns system logs with optional filtering
func HandleGetLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := limitParam(r, 100, 500)
		offset := intParam(r, "offset", 0, 1<<30)

		q := r.URL.Query()
		logs, err := database.GetLogs(limit, q.Get("level"), q.Get("category"), q.Get("source"), offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		if logs == nil {
			logs = []models.LogEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}

// HandleGetLogStats returns log statistics
func HandleGetLogStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := database.GetLogStats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleHealth reports liveness and whether the shared database answers
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		if database.DB != nil {
			if err := database.DB.PingContext(r.Context()); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}
