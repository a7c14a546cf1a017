// Package errorlog stores error records as an append-only JSON-lines log
// with a SQLite index keyed by error id.
//
// Every version of a record is appended to the log; the index points at the
// latest version and carries the mutable fields (resolved, recovery_action,
// retry_count), so inserts never rewrite existing data and an update costs
// one appended line plus one row update.
package errorlog

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"pipewatch/app/internal/jsonl"
	"pipewatch/app/internal/models"
	"strings"
	"sync"
	"time"
)

// DefaultPath is where the record log is kept
const DefaultPath = "logs/error_log.jsonl"

var (
	// ErrDuplicateID is returned by Insert when the id is already indexed
	ErrDuplicateID = errors.New("errorlog: duplicate error id")
	// ErrNotFound is returned when no record has the requested id
	ErrNotFound = errors.New("errorlog: record not found")
)

// Mutator changes a record in place. Only Resolved, RecoveryAction and
// RetryCount are kept; changes to other fields are discarded.
type Mutator func(rec *models.ErrorRecord)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Since     time.Time
	Severity  models.Severity
	Category  models.Category
	Component string
	Resolved  *bool
	Limit     int
}

// Log is the error record store
type Log struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Open opens the record log at path and its index in db, rebuilding the
// index when it is empty but the log is not.
func Open(path string, db *sql.DB) (*Log, error) {
	if path == "" {
		path = DefaultPath
	}
	l := &Log{path: path, db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}

	var indexed int
	if err := db.QueryRow(`SELECT COUNT(*) FROM error_index`).Scan(&indexed); err != nil {
		return nil, fmt.Errorf("errorlog: count failed: %w", err)
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 && indexed == 0 {
		if _, err := l.Rebuild(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS error_index (
  error_id TEXT PRIMARY KEY,
  byte_offset INTEGER NOT NULL,
  ts_unix_nano INTEGER NOT NULL,
  severity TEXT NOT NULL,
  category TEXT NOT NULL,
  component TEXT NOT NULL,
  fingerprint TEXT NOT NULL DEFAULT '',
  resolved INTEGER NOT NULL DEFAULT 0,
  recovery_action TEXT NOT NULL DEFAULT '',
  retry_count INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_error_index_ts ON error_index(ts_unix_nano);
CREATE INDEX IF NOT EXISTS idx_error_index_component ON error_index(component);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("errorlog: migration failed: %w", err)
	}
	return nil
}

// Path returns the record log path
func (l *Log) Path() string {
	return l.path
}

// Insert appends a new record. The id must not be indexed yet.
func (l *Log) Insert(rec models.ErrorRecord) error {
	if rec.ErrorID == "" {
		return fmt.Errorf("errorlog: record has no id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var exists int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM error_index WHERE error_id = ?`, rec.ErrorID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("errorlog: lookup failed: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateID
	}

	offset, err := l.appendLine(rec)
	if err != nil {
		return err
	}

	_, err = l.db.Exec(`INSERT INTO error_index
		(error_id, byte_offset, ts_unix_nano, severity, category, component, fingerprint, resolved, recovery_action, retry_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ErrorID, offset, rec.Timestamp.UnixNano(), string(rec.Severity), string(rec.Category),
		rec.Component, rec.Fingerprint, rec.Resolved, rec.RecoveryAction, rec.RetryCount, nowString())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateID
		}
		return fmt.Errorf("errorlog: index insert failed: %w", err)
	}
	return nil
}

// Update applies mutate to the record with the given id and persists the
// mutable fields. It reports whether the record exists.
func (l *Log) Update(id string, mutate Mutator) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	changed := rec
	changed.Context = cloneContext(rec.Context)
	mutate(&changed)
	rec.Resolved = changed.Resolved
	rec.RecoveryAction = changed.RecoveryAction
	rec.RetryCount = changed.RetryCount

	offset, err := l.appendLine(rec)
	if err != nil {
		return true, err
	}
	_, err = l.db.Exec(`UPDATE error_index SET byte_offset = ?, resolved = ?, recovery_action = ?, retry_count = ?, updated_at = ?
		WHERE error_id = ?`, offset, rec.Resolved, rec.RecoveryAction, rec.RetryCount, nowString(), id)
	if err != nil {
		return true, fmt.Errorf("errorlog: index update failed: %w", err)
	}
	return true, nil
}

// Get returns the latest version of a record
func (l *Log) Get(id string) (models.ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(id)
}

func (l *Log) get(id string) (models.ErrorRecord, error) {
	var (
		offset   int64
		resolved bool
		action   string
		retries  int
	)
	err := l.db.QueryRow(`SELECT byte_offset, resolved, recovery_action, retry_count FROM error_index WHERE error_id = ?`, id).
		Scan(&offset, &resolved, &action, &retries)
	if err == sql.ErrNoRows {
		return models.ErrorRecord{}, ErrNotFound
	}
	if err != nil {
		return models.ErrorRecord{}, fmt.Errorf("errorlog: lookup failed: %w", err)
	}

	f, err := os.Open(l.path)
	if err != nil {
		return models.ErrorRecord{}, fmt.Errorf("errorlog: failed to open log: %w", err)
	}
	defer f.Close()

	rec, err := readAt(f, offset)
	if err != nil {
		return models.ErrorRecord{}, err
	}
	rec.Resolved, rec.RecoveryAction, rec.RetryCount = resolved, action, retries
	return rec, nil
}

// Query returns the records with timestamp >= cutoff in insertion order
func (l *Log) Query(cutoff time.Time) ([]models.ErrorRecord, error) {
	return l.List(Filter{Since: cutoff})
}

// List returns the records matching f in insertion order
func (l *Log) List(f Filter) ([]models.ErrorRecord, error) {
	query := `SELECT byte_offset, resolved, recovery_action, retry_count FROM error_index WHERE 1=1`
	args := []any{}

	if !f.Since.IsZero() {
		query += " AND ts_unix_nano >= ?"
		args = append(args, f.Since.UnixNano())
	}
	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, string(f.Category))
	}
	if f.Component != "" {
		query += " AND component = ?"
		args = append(args, f.Component)
	}
	if f.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, *f.Resolved)
	}
	query += " ORDER BY rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("errorlog: query failed: %w", err)
	}
	type ref struct {
		offset   int64
		resolved bool
		action   string
		retries  int
	}
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.offset, &r.resolved, &r.action, &r.retries); err != nil {
			rows.Close()
			return nil, fmt.Errorf("errorlog: scan failed: %w", err)
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.ErrorRecord, 0, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("errorlog: failed to open log: %w", err)
	}
	defer file.Close()

	for _, r := range refs {
		rec, err := readAt(file, r.offset)
		if err != nil {
			return nil, err
		}
		rec.Resolved, rec.RecoveryAction, rec.RetryCount = r.resolved, r.action, r.retries
		out = append(out, rec)
	}
	return out, nil
}

// Export writes every record as one JSON array document
func (l *Log) Export(w io.Writer) error {
	recs, err := l.Query(time.Time{})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("errorlog: export failed: %w", err)
	}
	return nil
}

// Rebuild recreates the index from the record log. The latest line of an id
// wins; insertion order follows the first line of each id.
func (l *Log) Rebuild() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		_, err = l.db.Exec(`DELETE FROM error_index`)
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("errorlog: failed to open log: %w", err)
	}
	defer f.Close()

	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("errorlog: begin failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM error_index`); err != nil {
		return 0, fmt.Errorf("errorlog: clear index failed: %w", err)
	}

	seen := make(map[string]bool)
	r := bufio.NewReader(f)
	var offset int64
	for {
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return 0, fmt.Errorf("errorlog: read failed: %w", readErr)
		}
		lineStart := offset
		offset += int64(len(line))

		var rec models.ErrorRecord
		if len(strings.TrimSpace(string(line))) > 0 && json.Unmarshal(line, &rec) == nil && rec.ErrorID != "" {
			seen[rec.ErrorID] = true
			_, err := tx.Exec(`INSERT INTO error_index
				(error_id, byte_offset, ts_unix_nano, severity, category, component, fingerprint, resolved, recovery_action, retry_count, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(error_id) DO UPDATE SET byte_offset = excluded.byte_offset, resolved = excluded.resolved,
					recovery_action = excluded.recovery_action, retry_count = excluded.retry_count, updated_at = excluded.updated_at`,
				rec.ErrorID, lineStart, rec.Timestamp.UnixNano(), string(rec.Severity), string(rec.Category),
				rec.Component, rec.Fingerprint, rec.Resolved, rec.RecoveryAction, rec.RetryCount, nowString())
			if err != nil {
				return 0, fmt.Errorf("errorlog: reindex failed: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("errorlog: commit failed: %w", err)
	}
	return len(seen), nil
}

// appendLine writes rec as one line and returns the offset it starts at.
// With O_APPEND the descriptor offset after the write is the end of our
// own line even when other processes append concurrently.
func (l *Log) appendLine(rec models.ErrorRecord) (int64, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("errorlog: failed to encode record: %w", err)
	}
	line = append(line, '\n')

	f, err := jsonl.OpenAppend(l.path)
	if err != nil {
		return 0, fmt.Errorf("errorlog: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return 0, fmt.Errorf("errorlog: append failed: %w", err)
	}
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("errorlog: seek failed: %w", err)
	}
	return end - int64(len(line)), nil
}

func readAt(f *os.File, offset int64) (models.ErrorRecord, error) {
	r := bufio.NewReader(io.NewSectionReader(f, offset, 1<<40))
	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return models.ErrorRecord{}, fmt.Errorf("errorlog: read at %d failed: %w", offset, err)
	}
	var rec models.ErrorRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return models.ErrorRecord{}, fmt.Errorf("errorlog: corrupt record at %d: %w", offset, err)
	}
	return rec, nil
}

func cloneContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
