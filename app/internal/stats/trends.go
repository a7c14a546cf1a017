package stats

import (
	"math"
	"pipewatch/app/internal/models"
	"sort"
	"time"
)

const (
	stableSlope      = 0.01
	highChangePct    = 20.0
	mediumChangePct  = 10.0
	minTrendPoints   = 2
	minAnomalyPoints = 5
	minHistory       = 10
	anomalyZ         = 2.0
	highAnomalyZ     = 3.0
)

// Trends fits a linear trend to each tracked metric over the last d
func (c *Collector) Trends(d time.Duration) (out []models.TrendAnalysis) {
	defer c.guard("trends", func() { out = []models.TrendAnalysis{} })
	return trends(c.store.Load(c.now().Add(-d)))
}

func trends(snaps []models.MonitoringSnapshot) []models.TrendAnalysis {
	out := []models.TrendAnalysis{}
	if len(snaps) < minTrendPoints {
		return out
	}

	sorted := make([]models.MonitoringSnapshot, len(snaps))
	copy(sorted, snaps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for _, name := range models.TrackedMetrics {
		var values []float64
		for _, s := range sorted {
			if v, ok := s.Metric(name); ok {
				values = append(values, v)
			}
		}
		if len(values) < minTrendPoints {
			continue
		}
		out = append(out, trendOf(name, values))
	}
	return out
}

func trendOf(name string, values []float64) models.TrendAnalysis {
	m := slope(values)
	first, last := values[0], values[len(values)-1]

	change := 0.0
	if first != 0 {
		change = (last - first) / first * 100
	}
	mustFinite(m, change)

	t := models.TrendAnalysis{
		MetricName:       name,
		ChangePercentage: change,
		DataPoints:       len(values),
	}

	switch {
	case math.Abs(m) < stableSlope:
		t.TrendDirection = models.TrendStable
	case m > 0:
		t.TrendDirection = models.TrendIncreasing
	default:
		t.TrendDirection = models.TrendDecreasing
	}

	switch {
	case math.Abs(change) > highChangePct:
		t.Significance = models.LevelHigh
	case math.Abs(change) > mediumChangePct:
		t.Significance = models.LevelMedium
	default:
		t.Significance = models.LevelLow
	}
	return t
}
