package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"pipewatch/app/internal/cache"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/snapshots"
	"pipewatch/app/internal/telemetry"
	"time"
)

// HandleAppendSnapshot appends one monitoring snapshot. A missing timestamp
// is set to the time of the request.
func HandleAppendSnapshot(store snapshots.Store, m *telemetry.Metrics, rc *cache.Cache[[]byte]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s models.MonitoringSnapshot
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now().UTC()
		}

		if err := store.Append(s); err != nil {
			if errors.Is(err, snapshots.ErrInvalid) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to append snapshot")
			return
		}
		m.SnapshotAppended(s.UptimeStatus)
		if rc != nil {
			rc.DeletePrefix(reportCachePrefix)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"appended": true, "total": store.Count()})
	}
}

// HandleListSnapshots returns the raw snapshots of ?hours= in storage order
func HandleListSnapshots(store snapshots.Store, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps := store.Load(time.Now().Add(-windowParam(r, def)))
		if snaps == nil {
			snaps = []models.MonitoringSnapshot{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
	}
}
