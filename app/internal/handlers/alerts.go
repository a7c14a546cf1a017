package handlers

import (
	"net/http"
	"pipewatch/app/internal/alerts"
	"pipewatch/app/internal/errhandler"
	"pipewatch/app/internal/snapshots"
	"time"

	"github.com/gorilla/mux"
)

// HandleAlertHistory returns the alerts fired within ?hours=
func HandleAlertHistory(m *alerts.Manager, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hist, err := m.History(windowParam(r, def))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"alerts": hist})
	}
}

// HandleAlertRules returns the configured rules
func HandleAlertRules(m *alerts.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"rules": m.Rules()})
	}
}

// HandleCheckAlerts evaluates the rules against the newest snapshot and the
// error summary of ?hours=
func HandleCheckAlerts(m *alerts.Manager, store snapshots.Store, h *errhandler.Handler, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := windowParam(r, def)
		snap, ok := snapshots.Latest(store, h.Now().Add(-window))
		if !ok {
			writeError(w, http.StatusConflict, "no snapshot in window")
			return
		}
		summary, err := h.Summary(window)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}

		fired, err := m.Check(r.Context(), snap, &summary)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshot_timestamp": snap.Timestamp,
			"fired":              fired,
		})
	}
}

// HandleResolveAlert resolves the newest open alert of a rule
func HandleResolveAlert(m *alerts.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule := mux.Vars(r)["rule"]
		ok, err := m.Resolve(rule)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no open alert for rule")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rule_name": rule, "resolved": true})
	}
}
