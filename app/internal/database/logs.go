package database

import "pipewatch/app/internal/models"

// ============================================
// Logging Functions
// ============================================

// LogLevel constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogCategory constants
const (
	LogCategoryError    = "error"
	LogCategoryRecovery = "recovery"
	LogCategorySnapshot = "snapshot"
	LogCategoryMetrics  = "metrics"
	LogCategoryAlert    = "alert"
	LogCategorySystem   = "system"
)

// InsertLog adds a new log entry. It is a no-op until Init has been called.
func InsertLog(level, category, source, message, details string) error {
	if DB == nil {
		return nil
	}
	_, err := DB.Exec(`INSERT INTO system_logs (timestamp, level, category, source, message, details)
		VALUES (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), ?, ?, ?, ?, ?)`,
		level, category, source, message, details)
	return err
}

// GetLogs retrieves logs with optional filtering
func GetLogs(limit int, level, category, source string, offset int) ([]models.LogEntry, error) {
	query := `SELECT id, timestamp, level, category, COALESCE(source, ''), message, COALESCE(details, '')
		FROM system_logs WHERE 1=1`
	args := []any{}

	if level != "" {
		query += " AND level = ?"
		args = append(args, level)
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Level, &entry.Category, &entry.Source, &entry.Message, &entry.Details); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// GetLogStats returns statistics about logs
func GetLogStats() (*models.LogStats, error) {
	var stats models.LogStats

	err := DB.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(level = 'error'), 0),
		COALESCE(SUM(level = 'warn'), 0),
		COALESCE(SUM(level = 'info'), 0),
		COALESCE(SUM(level = 'debug'), 0)
		FROM system_logs`).Scan(&stats.TotalLogs, &stats.ErrorCount, &stats.WarnCount, &stats.InfoCount, &stats.DebugCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// PruneLogs removes old logs to keep the database size manageable (keeps last N logs)
func PruneLogs(keepCount int) error {
	_, err := DB.Exec(`DELETE FROM system_logs WHERE id NOT IN (
		SELECT id FROM system_logs ORDER BY timestamp DESC, id DESC LIMIT ?
	)`, keepCount)
	return err
}
