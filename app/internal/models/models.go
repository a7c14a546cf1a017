package models

import "time"

// Uptime statuses reported by a monitoring cycle
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Tracked metric names used by trend and anomaly analysis
const (
	MetricDataFreshness   = "data_freshness_hours"
	MetricAnomalyRate     = "anomaly_rate"
	MetricTotalDataPoints = "total_data_points"
)

// TrackedMetrics lists the analysed metrics in report order.
var TrackedMetrics = []string{MetricDataFreshness, MetricAnomalyRate, MetricTotalDataPoints}

// MonitoringSnapshot is one periodic health data point. Snapshots are never
// mutated once appended.
type MonitoringSnapshot struct {
	Timestamp          time.Time         `json:"timestamp" validate:"required"`
	UptimeStatus       string            `json:"uptime_status" validate:"required,oneof=healthy degraded down"`
	DataFreshnessHours *float64          `json:"data_freshness_hours" validate:"omitempty,gte=0"`
	AnomalyRate        *float64          `json:"anomaly_rate" validate:"omitempty,gte=0,lte=1"`
	TotalDataPoints    *int              `json:"total_data_points" validate:"omitempty,gte=0"`
	ConnectorStatus    map[string]string `json:"connector_status"`
	LastSuccessfulRun  *time.Time        `json:"last_successful_run,omitempty"`
	ErrorCount         int               `json:"error_count" validate:"gte=0"`
	WarningCount       int               `json:"warning_count" validate:"gte=0"`
}

// Metric returns the value of a tracked metric and whether it is present.
func (s MonitoringSnapshot) Metric(name string) (float64, bool) {
	switch name {
	case MetricDataFreshness:
		if s.DataFreshnessHours != nil {
			return *s.DataFreshnessHours, true
		}
	case MetricAnomalyRate:
		if s.AnomalyRate != nil {
			return *s.AnomalyRate, true
		}
	case MetricTotalDataPoints:
		if s.TotalDataPoints != nil {
			return float64(*s.TotalDataPoints), true
		}
	}
	return 0, false
}

// PerformanceMetrics summarizes the snapshots of one window. The response
// time fields are derived from data freshness (hours x 1000); no latency
// telemetry exists.
type PerformanceMetrics struct {
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	AvgResponseTimeMS float64   `json:"avg_response_time_ms"`
	MaxResponseTimeMS float64   `json:"max_response_time_ms"`
	MinResponseTimeMS float64   `json:"min_response_time_ms"`
	SuccessRate       float64   `json:"success_rate"`
	ErrorCount        int       `json:"error_count"`
	TotalRequests     int       `json:"total_requests"`
	UptimePercentage  float64   `json:"uptime_percentage"`
}

// Trend directions
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Significance and anomaly severity levels
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// TrendAnalysis describes the linear trend of one metric.
type TrendAnalysis struct {
	MetricName       string  `json:"metric_name"`
	TrendDirection   string  `json:"trend_direction"`
	ChangePercentage float64 `json:"change_percentage"`
	Significance     string  `json:"significance"`
	DataPoints       int     `json:"data_points"`
}

// AnomalyRecord is a single value flagged by z-score analysis.
type AnomalyRecord struct {
	MetricName string    `json:"metric_name"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Mean       float64   `json:"mean"`
	StdDev     float64   `json:"std_dev"`
	ZScore     float64   `json:"z_score"`
	Severity   string    `json:"severity"`
}

// ReportSummary is the headline block of a metrics report.
type ReportSummary struct {
	TotalTrends           int     `json:"total_trends"`
	TotalAnomalies        int     `json:"total_anomalies"`
	HighSeverityAnomalies int     `json:"high_severity_anomalies"`
	UptimePercentage      float64 `json:"uptime_percentage"`
	SuccessRate           float64 `json:"success_rate"`
}

// MetricsReport bundles everything the collector derives for a window.
type MetricsReport struct {
	ReportTimestamp time.Time          `json:"report_timestamp"`
	PeriodHours     float64            `json:"period_hours"`
	Performance     PerformanceMetrics `json:"performance"`
	Trends          []TrendAnalysis    `json:"trends"`
	Anomalies       []AnomalyRecord    `json:"anomalies"`
	Summary         ReportSummary      `json:"summary"`
}

// LogEntry is a row of the persisted system log
type LogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Source    string `json:"source"`
	Message   string `json:"message"`
	Details   string `json:"details"`
}

// LogStats holds counts of system log entries by level
type LogStats struct {
	TotalLogs  int `json:"total_logs"`
	ErrorCount int `json:"error_count"`
	WarnCount  int `json:"warn_count"`
	InfoCount  int `json:"info_count"`
	DebugCount int `json:"debug_count"`
}
