package snapshots

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"pipewatch/app/internal/models"
	"time"
)

// SQLiteStore keeps snapshots in the shared SQLite database. Arrival order
// is the rowid order.
type SQLiteStore struct {
	db       *sql.DB
	reporter FailureReporter
}

// NewSQLiteStore creates the snapshots table if needed
func NewSQLiteStore(db *sql.DB, reporter FailureReporter) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, reporter: reporter}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_unix_nano INTEGER NOT NULL,
  uptime_status TEXT NOT NULL,
  data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_unix_nano);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("snapshots: migration failed: %w", err)
	}
	return nil
}

// Append validates and inserts one snapshot
func (s *SQLiteStore) Append(snap models.MonitoringSnapshot) error {
	if err := Validate(snap); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshots: failed to encode snapshot: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO snapshots (ts_unix_nano, uptime_status, data) VALUES (?, ?, ?)`,
		snap.Timestamp.UnixNano(), snap.UptimeStatus, string(data))
	if err != nil {
		return fmt.Errorf("snapshots: insert failed: %w", err)
	}
	return nil
}

// Load returns the snapshots at or after cutoff
func (s *SQLiteStore) Load(cutoff time.Time) []models.MonitoringSnapshot {
	out, err := s.query(cutoff.UnixNano())
	if err != nil {
		report(s.reporter, err, "load", map[string]any{"backend": "sqlite"})
		return []models.MonitoringSnapshot{}
	}
	return out
}

func (s *SQLiteStore) query(cutoff int64) ([]models.MonitoringSnapshot, error) {
	rows, err := s.db.Query(`SELECT data FROM snapshots WHERE ts_unix_nano >= ? ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("snapshots: query failed: %w", err)
	}
	defer rows.Close()

	out := []models.MonitoringSnapshot{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("snapshots: scan failed: %w", err)
		}
		var snap models.MonitoringSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("snapshots: corrupt row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Count returns the number of stored snapshots
func (s *SQLiteStore) Count() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Prune deletes all but the newest keep rows
func (s *SQLiteStore) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("snapshots: prune failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
