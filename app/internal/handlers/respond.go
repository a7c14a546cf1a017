package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// maxWindow caps the hours query parameter at one year
const maxWindow = 24 * 365 * time.Hour

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// windowParam reads ?hours=, falling back to def for missing or unusable
// values. Fractional hours are allowed.
func windowParam(r *http.Request, def time.Duration) time.Duration {
	q := r.URL.Query().Get("hours")
	if q == "" {
		return def
	}
	h, err := strconv.ParseFloat(q, 64)
	if err != nil || h <= 0 {
		return def
	}
	d := time.Duration(h * float64(time.Hour))
	if d > maxWindow {
		d = maxWindow
	}
	return d
}

// intParam reads a non-negative integer query parameter bounded by max
func intParam(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		n = max
	}
	return n
}

// limitParam is intParam for page sizes, where 0 also selects def
func limitParam(r *http.Request, def, max int) int {
	if n := intParam(r, "limit", def, max); n > 0 {
		return n
	}
	return def
}
