package handlers

import (
	"net/http"
	"os"
	"pipewatch/app/internal/alerts"
	"pipewatch/app/internal/cache"
	"pipewatch/app/internal/errhandler"
	"pipewatch/app/internal/ratelimit"
	"pipewatch/app/internal/security"
	"pipewatch/app/internal/snapshots"
	"pipewatch/app/internal/stats"
	"pipewatch/app/internal/telemetry"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Deps are the components the HTTP API serves
type Deps struct {
	Collector     *stats.Collector
	Errors        *errhandler.Handler
	Snapshots     snapshots.Store
	Alerts        *alerts.Manager
	Metrics       *telemetry.Metrics
	ReportCache   *cache.Cache[[]byte] // nil disables report caching
	Ingest        *ratelimit.Limiter   // nil disables ingestion throttling
	DefaultWindow time.Duration
	AccessLog     bool
}

// SetupRoutes configures all HTTP routes and middlewares
func SetupRoutes(d Deps) http.Handler {
	window := d.DefaultWindow
	if window <= 0 {
		window = 24 * time.Hour
	}

	throttle := security.Throttle(d.Ingest)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", HandleHealth()).Methods(http.MethodGet)
	router.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Metrics collector
	api.HandleFunc("/report", HandleReport(d.Collector, d.ReportCache, window)).Methods(http.MethodGet)
	api.HandleFunc("/performance", HandlePerformance(d.Collector, window)).Methods(http.MethodGet)
	api.HandleFunc("/trends", HandleTrends(d.Collector, window)).Methods(http.MethodGet)
	api.HandleFunc("/anomalies", HandleAnomalies(d.Collector, window)).Methods(http.MethodGet)

	// Snapshot history
	api.HandleFunc("/snapshots", HandleListSnapshots(d.Snapshots, window)).Methods(http.MethodGet)
	api.Handle("/snapshots", throttle(HandleAppendSnapshot(d.Snapshots, d.Metrics, d.ReportCache))).Methods(http.MethodPost)

	// Error log
	errs := api.PathPrefix("/errors").Subrouter()
	errs.HandleFunc("", HandleListErrors(d.Errors)).Methods(http.MethodGet)
	errs.Handle("", throttle(HandleReportError(d.Errors))).Methods(http.MethodPost)
	errs.HandleFunc("/summary", HandleErrorSummary(d.Errors, window)).Methods(http.MethodGet)
	errs.HandleFunc("/export", HandleExportErrors(d.Errors)).Methods(http.MethodGet)
	errs.HandleFunc("/{id}", HandleGetError(d.Errors)).Methods(http.MethodGet)
	errs.HandleFunc("/{id}/resolve", HandleResolveError(d.Errors)).Methods(http.MethodPost)
	errs.HandleFunc("/{id}/retry", HandleRetryError(d.Errors)).Methods(http.MethodPost)

	// Alerts
	if d.Alerts != nil {
		al := api.PathPrefix("/alerts").Subrouter()
		al.HandleFunc("", HandleAlertHistory(d.Alerts, window)).Methods(http.MethodGet)
		al.HandleFunc("/rules", HandleAlertRules(d.Alerts)).Methods(http.MethodGet)
		al.HandleFunc("/check", HandleCheckAlerts(d.Alerts, d.Snapshots, d.Errors, window)).Methods(http.MethodPost)
		al.HandleFunc("/{rule}/resolve", HandleResolveAlert(d.Alerts)).Methods(http.MethodPost)
	}

	// System log
	api.HandleFunc("/logs", HandleGetLogs()).Methods(http.MethodGet)
	api.HandleFunc("/logs/stats", HandleGetLogStats()).Methods(http.MethodGet)

	var handler http.Handler = security.SecureHeaders(router)
	handler = gorillahandlers.CompressHandler(handler)
	if d.AccessLog {
		handler = gorillahandlers.CombinedLoggingHandler(os.Stdout, handler)
	}
	handler = gorillahandlers.RecoveryHandler(gorillahandlers.PrintRecoveryStack(true))(handler)
	return handler
}
