package config

import (
	"fmt"
	"os"
	"pipewatch/app/internal/errorlog"
	"pipewatch/app/internal/snapshots"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Snapshot backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port            string
	ShutdownTimeout time.Duration
	IngestPerMinute int // per client, 0 disables limiting

	// Storage
	DBPath          string
	ErrorLogPath    string
	SnapshotBackend string
	SnapshotPath    string
	SnapshotKeep    int // newest snapshots kept, 0 keeps all

	// Analysis
	DefaultWindow time.Duration
	ReportCache   time.Duration

	// Error handling
	CaptureStack bool
	LogKeep      int

	// Alerts
	AlertRulesFile string
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenv("PORT", "4555"),
		ShutdownTimeout: envDurSecs("SHUTDOWN_TIMEOUT_SECONDS", 10),
		IngestPerMinute: envInt("INGEST_RATE_PER_MINUTE", 600),
		DBPath:          getenv("DB_PATH", "./data/pipewatch.db"),
		ErrorLogPath:    getenv("ERROR_LOG_PATH", errorlog.DefaultPath),
		SnapshotBackend: strings.ToLower(getenv("SNAPSHOT_BACKEND", BackendFile)),
		SnapshotPath:    getenv("SNAPSHOT_PATH", snapshots.DefaultPath),
		SnapshotKeep:    envInt("SNAPSHOT_KEEP", snapshots.DefaultKeep),
		DefaultWindow:   time.Duration(envInt("DEFAULT_WINDOW_HOURS", 24)) * time.Hour,
		ReportCache:     envDurSecs("REPORT_CACHE_SECONDS", 30),
		CaptureStack:    envBool("CAPTURE_STACK", true),
		LogKeep:         envInt("LOG_KEEP", 10000),
		AlertRulesFile:  getenv("ALERT_RULES_FILE", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback
func (c *Config) Validate() error {
	switch c.SnapshotBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config: SNAPSHOT_BACKEND must be %q or %q, got %q", BackendFile, BackendSQLite, c.SnapshotBackend)
	}
	if c.DefaultWindow <= 0 {
		return fmt.Errorf("config: DEFAULT_WINDOW_HOURS must be positive")
	}
	if c.ReportCache < 0 {
		return fmt.Errorf("config: REPORT_CACHE_SECONDS must not be negative")
	}
	if c.IngestPerMinute < 0 {
		return fmt.Errorf("config: INGEST_RATE_PER_MINUTE must not be negative")
	}
	if c.SnapshotKeep < 0 {
		return fmt.Errorf("config: SNAPSHOT_KEEP must not be negative")
	}
	if c.LogKeep < 0 {
		return fmt.Errorf("config: LOG_KEEP must not be negative")
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Helper functions
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(getenv(k, ""))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envDurSecs(k string, def int) time.Duration {
	return time.Duration(envInt(k, def)) * time.Second
}
