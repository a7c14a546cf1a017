package errs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"pipewatch/app/internal/models"
)

// setupEnv points every store at a temporary directory
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

// execErrors creates the errors command, wires up output buffers, runs with
// the given args, and returns stdout and the error.
func execErrors(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return outBuf.String(), err
}

var recordedID = regexp.MustCompile(`Recorded ([0-9a-f]{8})`)

func record(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execErrors(t, append([]string{"record"}, args...)...)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	m := recordedID.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no id in output: %s", out)
	}
	return m[1]
}

func TestRecord_ClassifiesAndAdvises(t *testing.T) {
	setupEnv(t)

	out, err := execErrors(t, "record", "--component", "fred", "--operation", "fetch_series",
		"--type", "ConnectionError", "--message", "connection refused", "--severity", "high")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !strings.Contains(out, "(connection)") {
		t.Errorf("expected connection category, got: %s", out)
	}
	if !strings.Contains(out, "Retry attempt 1 with exponential backoff") {
		t.Errorf("expected recovery advice, got: %s", out)
	}
}

func TestRecord_RequiresFields(t *testing.T) {
	setupEnv(t)

	if _, err := execErrors(t, "record", "--component", "fred"); err == nil {
		t.Error("expected missing field error")
	}
	_, err := execErrors(t, "record", "--component", "a", "--operation", "b", "--message", "c", "--severity", "urgent")
	if err == nil {
		t.Error("expected severity error")
	}
}

func TestList_JSONFilters(t *testing.T) {
	setupEnv(t)
	record(t, "--component", "fred", "--operation", "fetch", "--type", "ConnectionError", "--message", "connection refused", "--severity", "high")
	record(t, "--component", "transform", "--operation", "parse", "--type", "ValueError", "--message", "bad row", "--severity", "low")

	out, err := execErrors(t, "list", "--severity", "high", "-o", "json")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var recs []models.ErrorRecord
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(recs) != 1 || recs[0].Component != "fred" {
		t.Errorf("expected one fred record, got %+v", recs)
	}

	if _, err := execErrors(t, "list", "--category", "weather"); err == nil {
		t.Error("expected unknown category error")
	}
}

func TestList_Table(t *testing.T) {
	setupEnv(t)

	out, err := execErrors(t, "list")
	if err != nil || !strings.Contains(out, "No errors found.") {
		t.Fatalf("empty list: %v %s", err, out)
	}

	id := record(t, "--component", "db", "--operation", "write", "--type", "PermissionError", "--message", "permission denied")
	out, _ = execErrors(t, "list")
	if !strings.Contains(out, id) || !strings.Contains(out, "db.write") {
		t.Errorf("table missing record: %s", out)
	}
}

func TestResolveAndRetry(t *testing.T) {
	setupEnv(t)
	id := record(t, "--component", "fred", "--operation", "fetch", "--type", "ConnectionError", "--message", "connection refused")

	out, err := execErrors(t, "retry", id)
	if err != nil || !strings.Contains(out, "Retry attempt 2") {
		t.Errorf("retry: %v %s", err, out)
	}

	if _, err := execErrors(t, "resolve", id); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	out, _ = execErrors(t, "list", "--unresolved", "-o", "json")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected no unresolved records, got %s", out)
	}

	if _, err := execErrors(t, "resolve", "deadbeef"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := execErrors(t, "retry", "deadbeef"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	setupEnv(t)
	for i := 0; i < 3; i++ {
		record(t, "--component", "fred", "--operation", "fetch", "--type", "TimeoutError", "--message", "request timed out")
	}

	out, err := execErrors(t, "summary", "-o", "json")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	var s models.ErrorSummary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatal(err)
	}
	if s.TotalErrors != 3 || len(s.TopErrors) != 1 || s.TopErrors[0].Count != 3 {
		t.Errorf("summary = %+v", s)
	}

	out, _ = execErrors(t, "summary")
	if !strings.Contains(out, "3 error(s) in the last 24h") || !strings.Contains(out, "TimeoutError: request timed out") {
		t.Errorf("table summary: %s", out)
	}
}

func TestExportAndRebuild(t *testing.T) {
	dir := setupEnv(t)
	record(t, "--component", "a", "--operation", "b", "--message", "boom")
	record(t, "--component", "a", "--operation", "c", "--message", "bang")

	path := filepath.Join(dir, "export.json")
	if _, err := execErrors(t, "export", "--file", path); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var recs []models.ErrorRecord
	if err := json.Unmarshal(data, &recs); err != nil || len(recs) != 2 {
		t.Fatalf("export: %v, %d records", err, len(recs))
	}

	out, err := execErrors(t, "rebuild-index")
	if err != nil || !strings.Contains(out, "Indexed 2 record(s).") {
		t.Errorf("rebuild: %v %s", err, out)
	}
}
