package alert

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pipewatch/app/internal/alerts"
	"pipewatch/app/internal/config"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/service"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DB_PATH", filepath.Join(dir, "pipewatch.db"))
	t.Setenv("ERROR_LOG_PATH", filepath.Join(dir, "error_log.jsonl"))
	t.Setenv("SNAPSHOT_PATH", filepath.Join(dir, "snapshots.jsonl"))
	t.Setenv("SNAPSHOT_BACKEND", "file")
	t.Setenv("ALERT_RULES_FILE", "")
	return dir
}

func execAlerts(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return outBuf.String(), err
}

func appendSnapshot(t *testing.T, s models.MonitoringSnapshot) {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	svc, err := service.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	if err := svc.Snapshots.Append(s); err != nil {
		t.Fatal(err)
	}
}

func f64(v float64) *float64 { return &v }

func TestCheck_NoSnapshot(t *testing.T) {
	setupEnv(t)
	_, err := execAlerts(t, "check")
	if err == nil || !strings.Contains(err.Error(), "no snapshot") {
		t.Errorf("expected no snapshot error, got %v", err)
	}
}

func TestCheck_FiresAndCoolsDown(t *testing.T) {
	setupEnv(t)
	appendSnapshot(t, models.MonitoringSnapshot{
		Timestamp:          time.Now().UTC().Add(-time.Minute),
		UptimeStatus:       models.StatusDown,
		DataFreshnessHours: f64(3),
	})

	out, err := execAlerts(t, "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "1 alert(s) fired") || !strings.Contains(out, "Pipeline is DOWN. Data freshness: 3.0 hours") {
		t.Errorf("unexpected output: %s", out)
	}

	out, _ = execAlerts(t, "check")
	if !strings.Contains(out, "0 alert(s) fired") {
		t.Errorf("second check should be in cooldown: %s", out)
	}

	out, err = execAlerts(t, "history", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var hist []alerts.Alert
	if err := json.Unmarshal([]byte(out), &hist); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(hist) != 1 || hist[0].RuleName != "pipeline_down" || hist[0].Resolved {
		t.Errorf("history = %+v", hist)
	}

	if _, err := execAlerts(t, "resolve", "pipeline_down"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := execAlerts(t, "resolve", "pipeline_down"); err == nil {
		t.Error("expected nothing left to resolve")
	}
}

func TestRules_FromFile(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "rules.yaml")
	doc := "rules:\n  - name: stale_hour\n    condition: data_stale\n    threshold: 1\n    severity: low\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ALERT_RULES_FILE", path)

	out, err := execAlerts(t, "rules")
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	if !strings.Contains(out, "stale_hour") || strings.Contains(out, "pipeline_down") {
		t.Errorf("unexpected rules: %s", out)
	}
	if !strings.Contains(out, "60m") {
		t.Errorf("default cooldown not applied: %s", out)
	}
}

func TestCheck_ConsecutiveAcrossRuns(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "rules.yaml")
	doc := "rules:\n  - name: down_twice\n    condition: uptime_down\n    severity: high\n    consecutive: 2\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ALERT_RULES_FILE", path)
	appendSnapshot(t, models.MonitoringSnapshot{
		Timestamp:    time.Now().UTC().Add(-time.Minute),
		UptimeStatus: models.StatusDown,
	})

	out, err := execAlerts(t, "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "0 alert(s) fired") {
		t.Errorf("first run should only start the streak: %s", out)
	}
	out, _ = execAlerts(t, "check")
	if !strings.Contains(out, "1 alert(s) fired") {
		t.Errorf("second run should fire: %s", out)
	}
}
