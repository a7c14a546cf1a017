package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"pipewatch/app/internal/classify"
	"pipewatch/app/internal/errhandler"
	"pipewatch/app/internal/errorlog"
	"pipewatch/app/internal/models"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// reportRequest is the body of POST /api/errors
type reportRequest struct {
	ErrorType    string         `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	Component    string         `json:"component"`
	Operation    string         `json:"operation"`
	Severity     string         `json:"severity"`
	Context      map[string]any `json:"context"`
}

// HandleReportError records a failure reported by another process
func HandleReportError(h *errhandler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Component == "" || req.Operation == "" || req.ErrorMessage == "" {
			writeError(w, http.StatusBadRequest, "component, operation and error_message are required")
			return
		}
		severity := models.SeverityMedium
		if req.Severity != "" {
			s, err := models.ParseSeverity(req.Severity)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			severity = s
		}

		failure := &classify.Reported{Type: req.ErrorType, Message: req.ErrorMessage}
		rec := h.Handle(failure, req.Component, req.Operation, severity, req.Context)
		writeJSON(w, http.StatusCreated, rec)
	}
}

// HandleListErrors lists error records with optional filters
func HandleListErrors(h *errhandler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := errorlog.Filter{
			Severity:  models.Severity(q.Get("severity")),
			Category:  models.Category(q.Get("category")),
			Component: q.Get("component"),
			Limit:     limitParam(r, 100, 1000),
		}
		if window := windowParam(r, 0); window > 0 {
			f.Since = h.Now().Add(-window)
		}
		if v := q.Get("resolved"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "resolved must be true or false")
				return
			}
			f.Resolved = &b
		}

		recs, err := h.List(f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"errors": recs})
	}
}

// HandleGetError returns one error record
func HandleGetError(h *errhandler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.Get(mux.Vars(r)["id"])
		if errors.Is(err, errorlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "error not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// HandleErrorSummary aggregates the errors of ?hours=
func HandleErrorSummary(h *errhandler.Handler, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := h.Summary(windowParam(r, def))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// HandleExportErrors writes every error record as one JSON array
func HandleExportErrors(h *errhandler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="error_log.json"`)
		if err := h.Store().Export(w); err != nil {
			writeError(w, http.StatusInternalServerError, "export failed")
		}
	}
}

// HandleResolveError marks an error as resolved
func HandleResolveError(h *errhandler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ok, err := h.MarkResolved(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "error not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"error_id": id, "resolved": true})
	}
}

// HandleRetryError runs the recovery strategy of an error again
func HandleRetryError(h *errhandler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		action, err := h.Retry(id)
		if errors.Is(err, errorlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "error not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server error")
			return
		}
		rec, _ := h.Get(id)
		writeJSON(w, http.StatusOK, map[string]any{
			"error_id":        id,
			"recovery_action": action,
			"retry_count":     rec.RetryCount,
		})
	}
}
