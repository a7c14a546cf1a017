package snapshots

import (
	"errors"
	"os"
	"path/filepath"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/models"
	"strings"
	"testing"
	"time"
)

type fakeReporter struct {
	calls []string
}

func (f *fakeReporter) Handle(err error, component, operation string, severity models.Severity, ctx map[string]any) models.ErrorRecord {
	f.calls = append(f.calls, component+"."+operation)
	return models.ErrorRecord{}
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func snap(ts time.Time, status string, freshness float64) models.MonitoringSnapshot {
	return models.MonitoringSnapshot{
		Timestamp:          ts,
		UptimeStatus:       status,
		DataFreshnessHours: f64(freshness),
		AnomalyRate:        f64(0.01),
		TotalDataPoints:    i(100),
		ConnectorStatus:    map[string]string{"fred": "healthy"},
	}
}

func newFileStore(t *testing.T) (*FileStore, *fakeReporter) {
	t.Helper()
	rep := &fakeReporter{}
	return NewFileStore(filepath.Join(t.TempDir(), "out", "metrics.jsonl"), rep), rep
}

func newSQLiteStore(t *testing.T) (*SQLiteStore, *fakeReporter) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rep := &fakeReporter{}
	s, err := NewSQLiteStore(db, rep)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s, rep
}

// --------------- Shared behaviour ---------------

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("file", func(t *testing.T) {
		s, _ := newFileStore(t)
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, _ := newSQLiteStore(t)
		fn(t, s)
	})
}

func TestStore_EmptyHistory(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		if got := s.Load(time.Time{}); len(got) != 0 {
			t.Errorf("expected empty history, got %d", len(got))
		}
		if s.Count() != 0 {
			t.Errorf("Count = %d, want 0", s.Count())
		}
	})
}

func TestStore_PreservesArrivalOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		now := time.Now()
		// Out of timestamp order on purpose
		order := []time.Duration{-1 * time.Hour, -3 * time.Hour, -2 * time.Hour}
		for n, d := range order {
			if err := s.Append(snap(now.Add(d), models.StatusHealthy, float64(n))); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		got := s.Load(now.Add(-24 * time.Hour))
		if len(got) != 3 {
			t.Fatalf("expected 3 snapshots, got %d", len(got))
		}
		for n := range got {
			if *got[n].DataFreshnessHours != float64(n) {
				t.Errorf("position %d holds freshness %v, want %d", n, *got[n].DataFreshnessHours, n)
			}
		}
		if s.Count() != 3 {
			t.Errorf("Count = %d, want 3", s.Count())
		}
	})
}

func TestStore_WindowIsInclusive(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cutoff := time.Now().Add(-2 * time.Hour)
		s.Append(snap(cutoff.Add(-time.Second), models.StatusHealthy, 1))
		s.Append(snap(cutoff, models.StatusHealthy, 2))
		s.Append(snap(cutoff.Add(time.Minute), models.StatusDown, 3))

		got := s.Load(cutoff)
		if len(got) != 2 {
			t.Fatalf("expected 2 snapshots in window, got %d", len(got))
		}
		if *got[0].DataFreshnessHours != 2 {
			t.Errorf("first in window = %v, want the one at the cutoff", *got[0].DataFreshnessHours)
		}
		if s.Count() != 3 {
			t.Errorf("Count = %d, want whole history 3", s.Count())
		}
	})
}

func TestStore_PruneKeepsNewest(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		now := time.Now()
		for n := 0; n < 5; n++ {
			s.Append(snap(now.Add(time.Duration(n)*time.Minute), models.StatusHealthy, float64(n)))
		}

		dropped, err := s.Prune(3)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if dropped != 2 {
			t.Errorf("dropped %d, want 2", dropped)
		}
		got := s.Load(time.Time{})
		if len(got) != 3 || *got[0].DataFreshnessHours != 2 || *got[2].DataFreshnessHours != 4 {
			t.Errorf("kept %d snapshots starting at %v", len(got), got)
		}

		if dropped, _ := s.Prune(10); dropped != 0 {
			t.Errorf("pruning below the limit dropped %d", dropped)
		}
		if dropped, _ := s.Prune(0); dropped != 0 || s.Count() != 3 {
			t.Errorf("keep 0 should keep everything, dropped %d", dropped)
		}
	})
}

func TestWithRetention_CapsHistory(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		capped := WithRetention(s, 10)
		now := time.Now()
		for n := 0; n < 25; n++ {
			if err := capped.Append(snap(now.Add(time.Duration(n)*time.Second), models.StatusHealthy, float64(n))); err != nil {
				t.Fatalf("Append %d: %v", n, err)
			}
		}
		if capped.Count() != 10 {
			t.Errorf("Count = %d, want 10", capped.Count())
		}
		got := capped.Load(time.Time{})
		if len(got) != 10 || *got[0].DataFreshnessHours != 15 {
			t.Errorf("oldest kept = %v, want 15", *got[0].DataFreshnessHours)
		}
	})

	s, _ := newFileStore(t)
	if WithRetention(s, 0) != Store(s) {
		t.Error("keep 0 should return the store unchanged")
	}
}

func TestLatest(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		now := time.Now()
		if _, ok := Latest(s, now.Add(-time.Hour)); ok {
			t.Fatal("expected no snapshot in an empty store")
		}
		s.Append(snap(now.Add(-10*time.Minute), models.StatusDown, 1))
		s.Append(snap(now.Add(-30*time.Minute), models.StatusHealthy, 2))

		got, ok := Latest(s, now.Add(-time.Hour))
		if !ok || *got.DataFreshnessHours != 1 {
			t.Errorf("Latest = %+v %v, want the newest timestamp", got, ok)
		}
		if _, ok := Latest(s, now); ok {
			t.Error("expected nothing after the cutoff")
		}
	})
}

func TestStore_RejectsInvalid(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		bad := snap(time.Now(), "sideways", 1)
		if err := s.Append(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("status: got %v, want ErrInvalid", err)
		}

		bad = snap(time.Now(), models.StatusHealthy, 1)
		bad.AnomalyRate = f64(1.5)
		if err := s.Append(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("anomaly_rate: got %v, want ErrInvalid", err)
		}

		if s.Count() != 0 {
			t.Errorf("invalid snapshots were stored")
		}
	})
}

func TestStore_MissingMetricsRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		sn := models.MonitoringSnapshot{Timestamp: time.Now(), UptimeStatus: models.StatusDown}
		if err := s.Append(sn); err != nil {
			t.Fatalf("Append: %v", err)
		}
		got := s.Load(time.Time{})
		if len(got) != 1 {
			t.Fatalf("expected 1 snapshot, got %d", len(got))
		}
		if _, ok := got[0].Metric(models.MetricDataFreshness); ok {
			t.Error("missing freshness came back as present")
		}
	})
}

// --------------- FileStore ---------------

func TestFileStore_CorruptReturnsEmptyAndReports(t *testing.T) {
	s, rep := newFileStore(t)
	s.Append(snap(time.Now(), models.StatusHealthy, 1))

	f, _ := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("{not json}\n")
	f.Close()
	s.Append(snap(time.Now(), models.StatusHealthy, 2))

	if got := s.Load(time.Time{}); len(got) != 0 {
		t.Errorf("expected empty result for corrupt file, got %d", len(got))
	}
	if len(rep.calls) != 1 || rep.calls[0] != "snapshot_store.load" {
		t.Errorf("reporter calls = %v, want one snapshot_store.load", rep.calls)
	}
}

func TestFileStore_SkipsTornLastLine(t *testing.T) {
	s, rep := newFileStore(t)
	s.Append(snap(time.Now(), models.StatusHealthy, 1))

	f, _ := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString(`{"timestamp":"2025-`)
	f.Close()

	if got := s.Load(time.Time{}); len(got) != 1 {
		t.Errorf("expected the complete record only, got %d", len(got))
	}
	if len(rep.calls) != 0 {
		t.Errorf("torn write should not be reported, got %v", rep.calls)
	}
}

func TestFileStore_AppendAfterTornLine(t *testing.T) {
	s, rep := newFileStore(t)
	s.Append(snap(time.Now().Add(-time.Minute), models.StatusHealthy, 1))

	f, _ := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString(`{"timestamp":"2025-`)
	f.Close()

	if err := s.Append(snap(time.Now(), models.StatusDown, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := s.Load(time.Time{})
	if len(got) != 2 {
		t.Fatalf("loaded %d snapshots after torn write and append, want 2", len(got))
	}
	if got[1].UptimeStatus != models.StatusDown {
		t.Errorf("second snapshot = %+v", got[1])
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
	if len(rep.calls) != 0 {
		t.Errorf("unexpected reports: %v", rep.calls)
	}
	data, _ := os.ReadFile(s.Path())
	if strings.Contains(string(data), `{"timestamp":"2025-{`) {
		t.Error("fragment was joined with the next record")
	}
}

func TestFileStore_PruneLeavesCorruptHistory(t *testing.T) {
	s, _ := newFileStore(t)
	for n := 0; n < 3; n++ {
		s.Append(snap(time.Now(), models.StatusHealthy, 1))
	}
	f, _ := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("garbage\n")
	f.Close()
	before, _ := os.ReadFile(s.Path())

	if _, err := s.Prune(1); err == nil {
		t.Error("expected an error for a corrupt history")
	}
	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Error("corrupt history was rewritten")
	}
}

func TestFileStore_WritesOneLinePerSnapshot(t *testing.T) {
	s, _ := newFileStore(t)
	for n := 0; n < 3; n++ {
		s.Append(snap(time.Now(), models.StatusHealthy, 1))
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 3 {
		t.Errorf("got %d lines, want 3", got)
	}
}

// --------------- Legacy import ---------------

const legacyDoc = `[
  {"timestamp": "2025-03-01T10:00:00.123456", "uptime_status": "healthy",
   "data_freshness_hours": 2.5, "anomaly_rate": 0.02, "total_data_points": 512,
   "connector_status": {"fred": "healthy"}, "last_successful_run": "2025-03-01",
   "error_count": 0, "warning_count": 1},
  {"timestamp": "yesterday", "uptime_status": "healthy"},
  {"timestamp": "2025-03-01T11:00:00", "uptime_status": "unknown"},
  {"timestamp": "2025-03-01T12:00:00+00:00", "uptime_status": "down",
   "data_freshness_hours": null, "anomaly_rate": null, "total_data_points": null,
   "connector_status": {}, "last_successful_run": null, "error_count": 3, "warning_count": 0}
]`

func TestImportLegacy(t *testing.T) {
	s, _ := newFileStore(t)
	imported, skipped, err := ImportLegacy(strings.NewReader(legacyDoc), s)
	if err != nil {
		t.Fatalf("ImportLegacy: %v", err)
	}
	if imported != 2 || skipped != 2 {
		t.Errorf("imported=%d skipped=%d, want 2 and 2", imported, skipped)
	}

	got := s.Load(time.Time{})
	if len(got) != 2 {
		t.Fatalf("expected 2 stored snapshots, got %d", len(got))
	}
	first := got[0]
	want := time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.Local)
	if !first.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", first.Timestamp, want)
	}
	if first.LastSuccessfulRun == nil || first.LastSuccessfulRun.Day() != 1 {
		t.Errorf("last_successful_run = %v", first.LastSuccessfulRun)
	}
	if first.TotalDataPoints == nil || *first.TotalDataPoints != 512 {
		t.Errorf("total_data_points = %v", first.TotalDataPoints)
	}
	if got[1].DataFreshnessHours != nil {
		t.Error("null freshness imported as present")
	}
}

func TestImportLegacy_BadDocument(t *testing.T) {
	s, _ := newFileStore(t)
	if _, _, err := ImportLegacy(strings.NewReader(`{"not": "an array"}`), s); err == nil {
		t.Error("expected decode error")
	}
}

func TestParseISO(t *testing.T) {
	cases := []string{
		"2025-03-01T10:00:00Z",
		"2025-03-01T10:00:00.5+02:00",
		"2025-03-01T10:00:00.123456",
		"2025-03-01 10:00:00",
		"2025-03-01",
	}
	for _, c := range cases {
		if _, err := ParseISO(c); err != nil {
			t.Errorf("ParseISO(%q): %v", c, err)
		}
	}
	if _, err := ParseISO("03/01/2025"); err == nil {
		t.Error("expected error for non-ISO input")
	}
}
