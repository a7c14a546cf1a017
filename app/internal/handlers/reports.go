package handlers

import (
	"encoding/json"
	"net/http"
	"pipewatch/app/internal/cache"
	"pipewatch/app/internal/stats"
	"time"
)

// reportCachePrefix keys cached report bodies; appends invalidate it
const reportCachePrefix = "report:"

// HandleReport returns the full metrics report for ?hours=. Encoded reports
// are cached when rc is non-nil.
func HandleReport(c *stats.Collector, rc *cache.Cache[[]byte], def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := windowParam(r, def)
		key := reportCachePrefix + window.String()

		if rc != nil {
			if body, ok := rc.Get(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "hit")
				_, _ = w.Write(body)
				return
			}
		}

		body, err := json.Marshal(c.Report(window))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode report")
			return
		}
		body = append(body, '\n')
		if rc != nil {
			rc.Set(key, body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// HandlePerformance returns performance metrics for ?hours=
func HandlePerformance(c *stats.Collector, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Performance(windowParam(r, def)))
	}
}

// HandleTrends returns trend analyses for ?hours=
func HandleTrends(c *stats.Collector, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := windowParam(r, def)
		writeJSON(w, http.StatusOK, map[string]any{
			"period_hours": window.Hours(),
			"trends":       c.Trends(window),
		})
	}
}

// HandleAnomalies returns detected anomalies for ?hours=
func HandleAnomalies(c *stats.Collector, def time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := windowParam(r, def)
		writeJSON(w, http.StatusOK, map[string]any{
			"period_hours": window.Hours(),
			"anomalies":    c.Anomalies(window),
		})
	}
}
