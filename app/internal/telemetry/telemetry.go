// Package telemetry exposes pipewatch counters and gauges to Prometheus.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ErrorsHandled   *prometheus.CounterVec
	RecoveryActions *prometheus.CounterVec
	Snapshots       *prometheus.CounterVec
	AlertsFired     *prometheus.CounterVec
	UptimePercent   prometheus.Gauge
	SuccessRate     prometheus.Gauge
	AnomaliesFound  *prometheus.GaugeVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ErrorsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipewatch",
			Name:      "errors_handled_total",
			Help:      "Errors recorded by the error handler.",
		}, []string{"severity", "category", "component"}),
		RecoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipewatch",
			Name:      "recovery_actions_total",
			Help:      "Recovery actions proposed per category.",
		}, []string{"category"}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipewatch",
			Name:      "snapshots_appended_total",
			Help:      "Monitoring snapshots appended per uptime status.",
		}, []string{"uptime_status"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipewatch",
			Name:      "alerts_fired_total",
			Help:      "Alerts that passed their cooldown.",
		}, []string{"rule", "severity"}),
		UptimePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipewatch",
			Name:      "uptime_percentage",
			Help:      "Uptime percentage of the last generated report.",
		}),
		SuccessRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipewatch",
			Name:      "success_rate",
			Help:      "Success rate of the last generated report.",
		}),
		AnomaliesFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pipewatch",
			Name:      "anomalies",
			Help:      "Anomalies found by the last generated report.",
		}, []string{"metric", "severity"}),
	}
	m.registry.MustRegister(
		m.ErrorsHandled, m.RecoveryActions, m.Snapshots, m.AlertsFired,
		m.UptimePercent, m.SuccessRate, m.AnomaliesFound,
	)
	return m
}

// Registry returns the underlying registry, for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ErrorHandled counts one recorded error
func (m *Metrics) ErrorHandled(severity, category, component string) {
	if m == nil {
		return
	}
	m.ErrorsHandled.WithLabelValues(severity, category, component).Inc()
}

// RecoveryProposed counts one recovery action
func (m *Metrics) RecoveryProposed(category string) {
	if m == nil {
		return
	}
	m.RecoveryActions.WithLabelValues(category).Inc()
}

// SnapshotAppended counts one appended snapshot
func (m *Metrics) SnapshotAppended(status string) {
	if m == nil {
		return
	}
	m.Snapshots.WithLabelValues(status).Inc()
}

// AlertFired counts one alert
func (m *Metrics) AlertFired(rule, severity string) {
	if m == nil {
		return
	}
	m.AlertsFired.WithLabelValues(rule, severity).Inc()
}

// ReportGenerated sets the report gauges. Anomaly counts are keyed by
// metric and severity.
func (m *Metrics) ReportGenerated(uptime, successRate float64, anomalies map[[2]string]int) {
	if m == nil {
		return
	}
	m.UptimePercent.Set(uptime)
	m.SuccessRate.Set(successRate)
	m.AnomaliesFound.Reset()
	for k, n := range anomalies {
		m.AnomaliesFound.WithLabelValues(k[0], k[1]).Set(float64(n))
	}
}
