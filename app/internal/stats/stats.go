// Package stats derives performance, trend and anomaly statistics from the
// monitoring snapshot history.
package stats

import (
	"fmt"
	"log"
	"math"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/snapshots"
	"pipewatch/app/internal/telemetry"
	"time"
)

// Options configures a Collector
type Options struct {
	Now     func() time.Time
	Metrics *telemetry.Metrics
}

// Collector computes statistics over a snapshot store. None of its methods
// return errors: failures degrade to zeroed results and a log entry.
type Collector struct {
	store   snapshots.Store
	now     func() time.Time
	metrics *telemetry.Metrics
}

// New creates a collector reading from store
func New(store snapshots.Store, opts Options) *Collector {
	c := &Collector{store: store, now: opts.Now, metrics: opts.Metrics}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Performance summarizes the snapshots of the last d
func (c *Collector) Performance(d time.Duration) (pm models.PerformanceMetrics) {
	end := c.now()
	start := end.Add(-d)
	defer c.guard("performance metrics", func() { pm = emptyPerformance(start, end) })

	return performance(c.store.Load(start), start, end)
}

// Report bundles performance, trends and anomalies for the last d. All
// parts are computed from one read of the store.
func (c *Collector) Report(d time.Duration) (r models.MetricsReport) {
	end := c.now()
	start := end.Add(-d)
	r = models.MetricsReport{
		ReportTimestamp: end,
		PeriodHours:     d.Hours(),
		Performance:     emptyPerformance(start, end),
		Trends:          []models.TrendAnalysis{},
		Anomalies:       []models.AnomalyRecord{},
	}
	defer c.guard("metrics report", func() {
		r.Performance = emptyPerformance(start, end)
		r.Trends = []models.TrendAnalysis{}
		r.Anomalies = []models.AnomalyRecord{}
		r.Summary = models.ReportSummary{}
	})

	snaps := c.store.Load(start)
	history := c.store.Count()

	r.Performance = c.safePerformance(snaps, start, end)
	r.Trends = c.safeTrends(snaps)
	r.Anomalies = c.safeAnomalies(snaps, history)

	high := 0
	counts := map[[2]string]int{}
	for _, a := range r.Anomalies {
		if a.Severity == models.LevelHigh {
			high++
		}
		counts[[2]string{a.MetricName, a.Severity}]++
	}
	r.Summary = models.ReportSummary{
		TotalTrends:           len(r.Trends),
		TotalAnomalies:        len(r.Anomalies),
		HighSeverityAnomalies: high,
		UptimePercentage:      r.Performance.UptimePercentage,
		SuccessRate:           r.Performance.SuccessRate,
	}
	c.metrics.ReportGenerated(r.Summary.UptimePercentage, r.Summary.SuccessRate, counts)
	return r
}

func (c *Collector) safePerformance(snaps []models.MonitoringSnapshot, start, end time.Time) (pm models.PerformanceMetrics) {
	defer c.guard("performance metrics", func() { pm = emptyPerformance(start, end) })
	return performance(snaps, start, end)
}

func (c *Collector) safeTrends(snaps []models.MonitoringSnapshot) (out []models.TrendAnalysis) {
	defer c.guard("trends", func() { out = []models.TrendAnalysis{} })
	return trends(snaps)
}

func (c *Collector) safeAnomalies(snaps []models.MonitoringSnapshot, history int) (out []models.AnomalyRecord) {
	defer c.guard("anomalies", func() { out = []models.AnomalyRecord{} })
	return anomalies(snaps, history)
}

// guard recovers a failed computation, logs it and applies reset
func (c *Collector) guard(op string, reset func()) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("Error calculating %s: %v", op, r)
	_ = database.InsertLog(database.LogLevelError, database.LogCategoryMetrics, "stats",
		fmt.Sprintf("Error calculating %s", op), fmt.Sprint(r))
	reset()
}

func emptyPerformance(start, end time.Time) models.PerformanceMetrics {
	return models.PerformanceMetrics{PeriodStart: start, PeriodEnd: end}
}

func performance(snaps []models.MonitoringSnapshot, start, end time.Time) models.PerformanceMetrics {
	pm := emptyPerformance(start, end)
	if len(snaps) == 0 {
		return pm
	}

	healthy, errs, warns := 0, 0, 0
	var freshness []float64
	for _, s := range snaps {
		if s.UptimeStatus == models.StatusHealthy {
			healthy++
		}
		errs += s.ErrorCount
		warns += s.WarningCount
		if s.DataFreshnessHours != nil {
			freshness = append(freshness, *s.DataFreshnessHours*1000)
		}
	}

	total := len(snaps)
	pm.TotalRequests = total
	pm.ErrorCount = errs
	pm.UptimePercentage = float64(healthy) / float64(total) * 100
	// Raw issue counts are subtracted from check counts, so this goes
	// negative when checks carry several errors or warnings.
	pm.SuccessRate = float64(total-(errs+warns)) / float64(total) * 100

	// Freshness stands in for response time; no latency is collected
	if len(freshness) > 0 {
		pm.AvgResponseTimeMS = mean(freshness)
		pm.MaxResponseTimeMS, pm.MinResponseTimeMS = maxMin(freshness)
	}

	mustFinite(pm.AvgResponseTimeMS, pm.MaxResponseTimeMS, pm.MinResponseTimeMS)
	return pm
}

// mustFinite panics on NaN or infinite results so that guard zeroes them
func mustFinite(vs ...float64) {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("non-finite result %v", v))
		}
	}
}
