package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pipewatch/app/internal/models"
	"pipewatch/app/internal/service"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DB_PATH", filepath.Join(dir, "pipewatch.db"))
	t.Setenv("ERROR_LOG_PATH", filepath.Join(dir, "error_log.jsonl"))
	t.Setenv("SNAPSHOT_PATH", filepath.Join(dir, "snapshots.jsonl"))
	t.Setenv("SNAPSHOT_BACKEND", "file")
	t.Setenv("ALERT_RULES_FILE", "")
}

func execReport(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return outBuf.String(), err
}

func seed(t *testing.T, snaps ...models.MonitoringSnapshot) {
	t.Helper()
	svc, err := service.FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	for _, s := range snaps {
		if err := svc.Snapshots.Append(s); err != nil {
			t.Fatal(err)
		}
	}
}

func f64(v float64) *float64 { return &v }

func TestReport_JSON(t *testing.T) {
	setupEnv(t)
	now := time.Now().UTC()
	seed(t,
		models.MonitoringSnapshot{Timestamp: now.Add(-2 * time.Hour), UptimeStatus: models.StatusHealthy, DataFreshnessHours: f64(1)},
		models.MonitoringSnapshot{Timestamp: now.Add(-time.Hour), UptimeStatus: models.StatusDown, DataFreshnessHours: f64(3)},
		models.MonitoringSnapshot{Timestamp: now.Add(-48 * time.Hour), UptimeStatus: models.StatusDown},
	)

	out, err := execReport(t, "-o", "json")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	var r models.MetricsReport
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if r.PeriodHours != 24 {
		t.Errorf("period = %g, want 24", r.PeriodHours)
	}
	if r.Performance.TotalRequests != 2 {
		t.Errorf("checks = %d, want 2 (the 48h snapshot is outside the window)", r.Performance.TotalRequests)
	}
	if r.Summary.UptimePercentage != 50 {
		t.Errorf("uptime = %g, want 50", r.Summary.UptimePercentage)
	}

	out, _ = execReport(t, "-o", "json", "--hours", "72")
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatal(err)
	}
	if r.Performance.TotalRequests != 3 {
		t.Errorf("72h window: checks = %d, want 3", r.Performance.TotalRequests)
	}
}

func TestReport_Table(t *testing.T) {
	setupEnv(t)

	out, err := execReport(t)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !strings.Contains(out, "Report for the last 24h") || !strings.Contains(out, "Checks:       0") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestReport_InvalidFlags(t *testing.T) {
	setupEnv(t)

	if _, err := execReport(t, "-o", "yaml"); err == nil {
		t.Error("expected unsupported output error")
	}
	if _, err := execReport(t, "--hours", "-1"); err == nil {
		t.Error("expected negative hours error")
	}
}
