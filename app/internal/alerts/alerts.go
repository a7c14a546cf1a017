// Package alerts evaluates alert rules against the latest monitoring
// snapshot and error summary, with per-rule cooldown and a persisted history.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/telemetry"
	"sort"
	"strings"
	"sync"
	"time"
)

// HistoryLimit is the number of alerts kept in the history table
const HistoryLimit = 1000

// Alert is one fired rule
type Alert struct {
	ID         int64           `json:"id"`
	RuleName   string          `json:"rule_name"`
	Severity   models.Severity `json:"severity"`
	Message    string          `json:"message"`
	Timestamp  time.Time       `json:"timestamp"`
	Details    map[string]any  `json:"details"`
	Resolved   bool            `json:"resolved"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Options configures a Manager
type Options struct {
	Notifier Notifier
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

// Manager evaluates rules and keeps the alert history
type Manager struct {
	db       *sql.DB
	notifier Notifier
	metrics  *telemetry.Metrics
	now      func() time.Time
	streaks  *Streaks

	mu    sync.RWMutex
	rules []Rule
}

// NewManager creates a manager storing its history in db
func NewManager(db *sql.DB, rules []Rule, opts Options) (*Manager, error) {
	if db == nil {
		return nil, errors.New("alerts: nil database")
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS alert_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  rule_name TEXT NOT NULL,
  severity TEXT NOT NULL,
  message TEXT NOT NULL,
  details TEXT,
  ts_unix_nano INTEGER NOT NULL,
  resolved INTEGER NOT NULL DEFAULT 0,
  resolved_unix_nano INTEGER
);
CREATE INDEX IF NOT EXISTS idx_alert_history_rule ON alert_history(rule_name, resolved);
`); err != nil {
		return nil, fmt.Errorf("alerts: failed to migrate: %w", err)
	}
	streaks, err := LoadStreaks(db)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:       db,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
		streaks:  streaks,
		rules:    rules,
	}
	if m.notifier == nil {
		m.notifier = LogNotifier{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Rules returns a copy of the configured rules
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Rule(nil), m.rules...)
}

// SetRules replaces the rule set
func (m *Manager) SetRules(rules []Rule) {
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
	m.streaks.Prune(rules)
}

// Check evaluates every enabled rule. errs may be nil, in which case
// error_burst rules never fire. It returns the alerts that were delivered.
func (m *Manager) Check(ctx context.Context, snap models.MonitoringSnapshot, errs *models.ErrorSummary) ([]Alert, error) {
	now := m.now()
	fired := []Alert{}
	var failures []error

	for _, rule := range m.Rules() {
		if !rule.Enabled {
			m.streaks.Reset(rule.Name)
			continue
		}

		message, details, violated := evaluate(rule, snap, errs)
		streak := m.streaks.Update(rule.Name, violated)
		if !violated || streak < max(rule.Consecutive, 1) {
			continue
		}

		cooling, err := m.inCooldown(rule, now)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if cooling {
			continue
		}

		a := Alert{
			RuleName:  rule.Name,
			Severity:  rule.Severity,
			Message:   message,
			Timestamp: now,
			Details:   details,
		}
		if err := m.notifier.Notify(ctx, a); err != nil {
			log.Printf("Failed to send alert %s: %v", rule.Name, err)
			_ = database.InsertLog(database.LogLevelError, database.LogCategoryAlert, rule.Name, "Failed to send alert", err.Error())
			continue
		}
		id, err := m.record(a)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		a.ID = id
		m.metrics.AlertFired(rule.Name, string(rule.Severity))
		fired = append(fired, a)
	}
	return fired, errors.Join(failures...)
}

// History returns the alerts fired within the last d, oldest first
func (m *Manager) History(d time.Duration) ([]Alert, error) {
	cutoff := m.now().Add(-d).UnixNano()
	rows, err := m.db.Query(`SELECT id, rule_name, severity, message, COALESCE(details, ''), ts_unix_nano, resolved, resolved_unix_nano
		FROM alert_history WHERE ts_unix_nano >= ? ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("alerts: failed to query history: %w", err)
	}
	defer rows.Close()

	out := []Alert{}
	for rows.Next() {
		var (
			a          Alert
			details    string
			ts         int64
			resolved   int
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.RuleName, &a.Severity, &a.Message, &details, &ts, &resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("alerts: failed to scan history: %w", err)
		}
		a.Timestamp = time.Unix(0, ts).UTC()
		a.Resolved = resolved == 1
		if resolvedAt.Valid {
			t := time.Unix(0, resolvedAt.Int64).UTC()
			a.ResolvedAt = &t
		}
		if details != "" {
			_ = json.Unmarshal([]byte(details), &a.Details)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Resolve marks the most recent unresolved alert of a rule as resolved and
// reports whether there was one.
func (m *Manager) Resolve(rule string) (bool, error) {
	res, err := m.db.Exec(`UPDATE alert_history SET resolved = 1, resolved_unix_nano = ?
		WHERE id = (SELECT id FROM alert_history WHERE rule_name = ? AND resolved = 0 ORDER BY id DESC LIMIT 1)`,
		m.now().UnixNano(), rule)
	if err != nil {
		return false, fmt.Errorf("alerts: failed to resolve %s: %w", rule, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("Alert resolved: %s", rule)
		_ = database.InsertLog(database.LogLevelInfo, database.LogCategoryAlert, rule, "Alert resolved", "")
	}
	return n > 0, nil
}

// inCooldown reports whether an unresolved alert of the rule fired after
// now minus the cooldown.
func (m *Manager) inCooldown(rule Rule, now time.Time) (bool, error) {
	cutoff := now.Add(-time.Duration(rule.CooldownMinutes) * time.Minute).UnixNano()
	var n int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM alert_history WHERE rule_name = ? AND resolved = 0 AND ts_unix_nano > ?`,
		rule.Name, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("alerts: failed to check cooldown for %s: %w", rule.Name, err)
	}
	return n > 0, nil
}

func (m *Manager) record(a Alert) (int64, error) {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return 0, fmt.Errorf("alerts: failed to encode details: %w", err)
	}
	res, err := m.db.Exec(`INSERT INTO alert_history (rule_name, severity, message, details, ts_unix_nano) VALUES (?, ?, ?, ?, ?)`,
		a.RuleName, string(a.Severity), a.Message, string(details), a.Timestamp.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("alerts: failed to record %s: %w", a.RuleName, err)
	}
	id, _ := res.LastInsertId()

	if _, err := m.db.Exec(`DELETE FROM alert_history WHERE id <= ?`, id-HistoryLimit); err != nil {
		log.Printf("alerts: failed to prune history: %v", err)
	}
	return id, nil
}

// unhealthyStatuses are connector statuses that trip connector_down
var unhealthyStatuses = map[string]bool{"down": true, "error": true, "no_data": true}

func evaluate(rule Rule, s models.MonitoringSnapshot, errs *models.ErrorSummary) (string, map[string]any, bool) {
	switch rule.Condition {
	case ConditionUptimeDown:
		if s.UptimeStatus != models.StatusDown {
			return "", nil, false
		}
		freshness := "unknown"
		if s.DataFreshnessHours != nil {
			freshness = fmt.Sprintf("%.1f", *s.DataFreshnessHours)
		}
		return fmt.Sprintf("Pipeline is DOWN. Data freshness: %s hours", freshness), map[string]any{
			"uptime_status":        s.UptimeStatus,
			"data_freshness_hours": s.DataFreshnessHours,
			"last_successful_run":  s.LastSuccessfulRun,
		}, true

	case ConditionDataStale:
		if s.DataFreshnessHours == nil || *s.DataFreshnessHours <= rule.Threshold {
			return "", nil, false
		}
		return fmt.Sprintf("Data is stale: %.1f hours old (threshold: %g hours)", *s.DataFreshnessHours, rule.Threshold), map[string]any{
			"data_freshness_hours": *s.DataFreshnessHours,
			"threshold_hours":      rule.Threshold,
			"last_successful_run":  s.LastSuccessfulRun,
		}, true

	case ConditionAnomalyHigh:
		if s.AnomalyRate == nil || *s.AnomalyRate <= rule.Threshold {
			return "", nil, false
		}
		return fmt.Sprintf("High anomaly rate detected: %.1f%% (threshold: %.1f%%)", *s.AnomalyRate*100, rule.Threshold*100), map[string]any{
			"anomaly_rate":      *s.AnomalyRate,
			"threshold":         rule.Threshold,
			"total_data_points": s.TotalDataPoints,
		}, true

	case ConditionConnectorDown:
		var bad []string
		for name, status := range s.ConnectorStatus {
			if unhealthyStatuses[status] {
				bad = append(bad, name)
			}
		}
		if len(bad) == 0 {
			return "", nil, false
		}
		sort.Strings(bad)
		return "Unhealthy connectors detected: " + strings.Join(bad, ", "), map[string]any{
			"unhealthy_connectors": bad,
			"connector_status":     s.ConnectorStatus,
		}, true

	case ConditionErrorBurst:
		if errs == nil || float64(errs.TotalErrors) <= rule.Threshold {
			return "", nil, false
		}
		return fmt.Sprintf("Error burst: %d errors in window (threshold: %g)", errs.TotalErrors, rule.Threshold), map[string]any{
			"total_errors": errs.TotalErrors,
			"threshold":    rule.Threshold,
			"by_severity":  errs.BySeverity,
		}, true
	}
	return "", nil, false
}
