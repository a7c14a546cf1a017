// Package service wires the stores, the error handler, the collector and
// the alert manager from one configuration. Both the HTTP server and the
// one-shot CLI commands build their components here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"pipewatch/app/internal/alerts"
	"pipewatch/app/internal/cache"
	"pipewatch/app/internal/config"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/errhandler"
	"pipewatch/app/internal/errorlog"
	"pipewatch/app/internal/handlers"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/ratelimit"
	"pipewatch/app/internal/snapshots"
	"pipewatch/app/internal/stats"
	"pipewatch/app/internal/telemetry"
	"time"
)

// ErrNoSnapshot is returned by CheckAlerts when the window holds no snapshot
var ErrNoSnapshot = errors.New("service: no snapshot in window")

// Service holds the wired components
type Service struct {
	Config    *config.Config
	Metrics   *telemetry.Metrics
	ErrorLog  *errorlog.Log
	Errors    *errhandler.Handler
	Snapshots snapshots.Store
	Collector *stats.Collector
	Alerts    *alerts.Manager

	reportCache *cache.Cache[[]byte]
	ingest      *ratelimit.Limiter
}

// Open initializes the shared database and builds every component
func Open(cfg *config.Config) (*Service, error) {
	if err := database.Init(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("service: failed to initialize database: %w", err)
	}

	s := &Service{Config: cfg, Metrics: telemetry.New()}
	if err := s.build(); err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

// FromEnv loads the configuration and opens the service
func FromEnv() (*Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return Open(cfg)
}

func (s *Service) build() error {
	cfg := s.Config

	elog, err := errorlog.Open(cfg.ErrorLogPath, database.DB)
	if err != nil {
		return err
	}
	s.ErrorLog = elog
	s.Errors = errhandler.New(elog, errhandler.Options{
		Metrics:      s.Metrics,
		CaptureStack: cfg.CaptureStack,
	})

	switch cfg.SnapshotBackend {
	case config.BackendSQLite:
		store, err := snapshots.NewSQLiteStore(database.DB, s.Errors)
		if err != nil {
			return err
		}
		s.Snapshots = store
	default:
		s.Snapshots = snapshots.NewFileStore(cfg.SnapshotPath, s.Errors)
	}
	s.Snapshots = snapshots.WithRetention(s.Snapshots, cfg.SnapshotKeep)

	s.Collector = stats.New(s.Snapshots, stats.Options{Metrics: s.Metrics})

	rules, err := alerts.LoadRules(cfg.AlertRulesFile)
	if err != nil {
		return err
	}
	s.Alerts, err = alerts.NewManager(database.DB, rules, alerts.Options{Metrics: s.Metrics})
	if err != nil {
		return err
	}
	return nil
}

// Handler builds the HTTP API. The report cache and the ingestion limiter
// live until Close.
func (s *Service) Handler(accessLog bool) http.Handler {
	if s.Config.ReportCache > 0 && s.reportCache == nil {
		s.reportCache = cache.New[[]byte](s.Config.ReportCache)
	}
	if s.Config.IngestPerMinute > 0 && s.ingest == nil {
		s.ingest = ratelimit.New(ratelimit.Config{
			TokensPerMinute: s.Config.IngestPerMinute,
			SweepEvery:      5 * time.Minute,
		})
	}

	return handlers.SetupRoutes(handlers.Deps{
		Collector:     s.Collector,
		Errors:        s.Errors,
		Snapshots:     s.Snapshots,
		Alerts:        s.Alerts,
		Metrics:       s.Metrics,
		ReportCache:   s.reportCache,
		Ingest:        s.ingest,
		DefaultWindow: s.Config.DefaultWindow,
		AccessLog:     accessLog,
	})
}

// CheckAlerts evaluates the alert rules against the newest snapshot of the
// window and the error summary of the same window
func (s *Service) CheckAlerts(ctx context.Context, window time.Duration) (models.MonitoringSnapshot, []alerts.Alert, error) {
	snap, ok := snapshots.Latest(s.Snapshots, s.Errors.Now().Add(-window))
	if !ok {
		return snap, nil, ErrNoSnapshot
	}
	summary, err := s.Errors.Summary(window)
	if err != nil {
		return snap, nil, err
	}
	fired, err := s.Alerts.Check(ctx, snap, &summary)
	return snap, fired, err
}

// Maintain trims the snapshot history and the system log to their
// configured sizes
func (s *Service) Maintain() {
	if s.Config.SnapshotKeep > 0 {
		if n, err := s.Snapshots.Prune(s.Config.SnapshotKeep); err != nil {
			log.Printf("service: failed to prune snapshots: %v", err)
		} else if n > 0 {
			log.Printf("service: pruned %d snapshot(s)", n)
		}
	}
	if s.Config.LogKeep <= 0 {
		return
	}
	if err := database.PruneLogs(s.Config.LogKeep); err != nil {
		log.Printf("service: failed to prune system log: %v", err)
	}
}

// Close stops background work and closes the database
func (s *Service) Close() error {
	if s.reportCache != nil {
		s.reportCache.Stop()
	}
	if s.ingest != nil {
		s.ingest.Stop()
	}
	if s.Errors != nil {
		_ = s.Errors.Close()
	}
	return database.Close()
}
