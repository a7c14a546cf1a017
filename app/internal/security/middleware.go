// Package security holds the HTTP middlewares guarding the API
package security

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/ratelimit"
	"strconv"
	"strings"
)

// MaxBodyBytes caps request bodies. Ingestion payloads are single records.
const MaxBodyBytes = 1 << 20

// SecureHeaders adds security headers to responses and caps the body size.
// The API serves JSON only, so the policy allows nothing to load.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Throttle rejects requests from clients that ran out of tokens with 429.
// A nil limiter disables throttling.
func Throttle(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !l.Allow(ip) {
				log.Printf("rate limited %s %s from %s", r.Method, r.URL.Path, ip)
				_ = database.InsertLog(database.LogLevelWarn, database.LogCategorySystem, "ratelimit",
					"Ingestion rate limited", fmt.Sprintf("ip=%s, path=%s", ip, r.URL.Path))

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": l.ErrorMessage()})
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining(ip)))
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from the request
func ClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
