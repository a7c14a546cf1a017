package snapshots

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"pipewatch/app/internal/models"
	"strings"
	"time"
)

// legacySnapshot is a record of the whole-document monitoring_metrics.json
// history. Timestamps there are ISO 8601 strings, usually without a zone.
type legacySnapshot struct {
	Timestamp          string            `json:"timestamp"`
	UptimeStatus       string            `json:"uptime_status"`
	DataFreshnessHours *float64          `json:"data_freshness_hours"`
	AnomalyRate        *float64          `json:"anomaly_rate"`
	TotalDataPoints    *int              `json:"total_data_points"`
	ConnectorStatus    map[string]string `json:"connector_status"`
	LastSuccessfulRun  *string           `json:"last_successful_run"`
	ErrorCount         int               `json:"error_count"`
	WarningCount       int               `json:"warning_count"`
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO parses the ISO 8601 forms found in legacy files. Values
// without a zone are read in local time.
func ParseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("snapshots: unrecognised timestamp %q", s)
}

// ImportLegacy appends every record of a legacy JSON array document to dst
// in document order. Records with an unparseable timestamp or failing
// validation are skipped, as the legacy reader did.
func ImportLegacy(r io.Reader, dst Store) (imported, skipped int, err error) {
	var records []legacySnapshot
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, 0, fmt.Errorf("snapshots: failed to decode legacy history: %w", err)
	}

	for i, rec := range records {
		ts, err := ParseISO(rec.Timestamp)
		if err != nil {
			log.Printf("snapshots: legacy record %d: %v", i, err)
			skipped++
			continue
		}
		snap := models.MonitoringSnapshot{
			Timestamp:          ts,
			UptimeStatus:       rec.UptimeStatus,
			DataFreshnessHours: rec.DataFreshnessHours,
			AnomalyRate:        rec.AnomalyRate,
			TotalDataPoints:    rec.TotalDataPoints,
			ConnectorStatus:    rec.ConnectorStatus,
			ErrorCount:         rec.ErrorCount,
			WarningCount:       rec.WarningCount,
		}
		if rec.LastSuccessfulRun != nil {
			if t, err := ParseISO(*rec.LastSuccessfulRun); err == nil {
				snap.LastSuccessfulRun = &t
			}
		}

		if err := dst.Append(snap); err != nil {
			if errors.Is(err, ErrInvalid) {
				log.Printf("snapshots: legacy record %d: %v", i, err)
				skipped++
				continue
			}
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}
