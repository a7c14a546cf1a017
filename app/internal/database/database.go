package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is the shared database handle used by the system log
var DB *sql.DB

// Init opens the database at dbPath, stores it in DB and creates the schema
func Init(dbPath string) error {
	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	DB = db
	return EnsureSchema()
}

// Open opens a SQLite database at the provided path, creating its directory.
// The pool is limited to one connection: SQLite serializes writers anyway and
// an in-memory database only exists on the connection that created it.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if !isMemory(path) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: failed to connect: %w", err)
	}
	return db, nil
}

// Close closes the shared handle if it is open
func Close() error {
	if DB == nil {
		return nil
	}
	err := DB.Close()
	DB = nil
	return err
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
