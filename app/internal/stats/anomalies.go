package stats

import (
	"math"
	"pipewatch/app/internal/models"
	"time"
)

// Anomalies flags values more than two sample standard deviations from the
// window mean. Detection needs at least ten snapshots of history and five
// in the window.
func (c *Collector) Anomalies(d time.Duration) (out []models.AnomalyRecord) {
	defer c.guard("anomalies", func() { out = []models.AnomalyRecord{} })
	history := c.store.Count()
	if history < minHistory {
		return []models.AnomalyRecord{}
	}
	return anomalies(c.store.Load(c.now().Add(-d)), history)
}

type point struct {
	value float64
	at    time.Time
}

// anomalies walks snapshots in storage order. A point keeps the timestamp
// of its own snapshot.
func anomalies(snaps []models.MonitoringSnapshot, history int) []models.AnomalyRecord {
	out := []models.AnomalyRecord{}
	if history < minHistory || len(snaps) < minAnomalyPoints {
		return out
	}

	for _, name := range models.TrackedMetrics {
		var points []point
		for _, s := range snaps {
			if v, ok := s.Metric(name); ok {
				points = append(points, point{value: v, at: s.Timestamp})
			}
		}
		if len(points) < minAnomalyPoints {
			continue
		}
		out = append(out, zScoreOutliers(name, points)...)
	}
	return out
}

func zScoreOutliers(name string, points []point) []models.AnomalyRecord {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.value
	}
	m := mean(values)
	sd := sampleStdDev(values, m)
	mustFinite(m, sd)
	if sd == 0 {
		return nil
	}

	var out []models.AnomalyRecord
	for _, p := range points {
		z := math.Abs((p.value - m) / sd)
		if z <= anomalyZ {
			continue
		}
		severity := models.LevelMedium
		if z > highAnomalyZ {
			severity = models.LevelHigh
		}
		out = append(out, models.AnomalyRecord{
			MetricName: name,
			Timestamp:  p.at,
			Value:      p.value,
			Mean:       m,
			StdDev:     sd,
			ZScore:     z,
			Severity:   severity,
		})
	}
	return out
}
