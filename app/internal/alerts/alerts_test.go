package alerts

import (
	"context"
	"database/sql"
	"errors"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/telemetry"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// recorder collects delivered alerts
type recorder struct {
	got  []Alert
	fail error
}

func (r *recorder) Notify(_ context.Context, a Alert) error {
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, a)
	return nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestManager(t *testing.T, rules []Rule) (*Manager, *recorder, *clock) {
	t.Helper()
	rec := &recorder{}
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(openTestDB(t), rules, Options{Notifier: rec, Now: clk.now})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, rec, clk
}

func f64(v float64) *float64 { return &v }

func healthySnapshot() models.MonitoringSnapshot {
	return models.MonitoringSnapshot{
		Timestamp:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UptimeStatus:       models.StatusHealthy,
		DataFreshnessHours: f64(1),
		AnomalyRate:        f64(0.01),
		ConnectorStatus:    map[string]string{"fred": "healthy", "weather": "healthy"},
	}
}

func brokenSnapshot() models.MonitoringSnapshot {
	s := healthySnapshot()
	s.UptimeStatus = models.StatusDown
	s.DataFreshnessHours = f64(30)
	s.AnomalyRate = f64(0.25)
	s.ConnectorStatus = map[string]string{"weather": "no_data", "fred": "error", "bls": "healthy"}
	return s
}

func ruleNames(alerts []Alert) []string {
	out := []string{}
	for _, a := range alerts {
		out = append(out, a.RuleName)
	}
	return out
}

// --------------- rule evaluation ---------------

func TestCheck_HealthySnapshotFiresNothing(t *testing.T) {
	m, rec, _ := newTestManager(t, DefaultRules())

	fired, err := m.Check(context.Background(), healthySnapshot(), &models.ErrorSummary{TotalErrors: 2})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(fired) != 0 || len(rec.got) != 0 {
		t.Errorf("expected no alerts, got %v", ruleNames(fired))
	}
}

func TestCheck_BrokenSnapshotFiresAllRules(t *testing.T) {
	m, rec, _ := newTestManager(t, DefaultRules())

	fired, err := m.Check(context.Background(), brokenSnapshot(), &models.ErrorSummary{TotalErrors: 11})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	want := []string{"pipeline_down", "data_stale", "high_anomaly_rate", "connector_down", "error_burst"}
	if diff := cmp.Diff(want, ruleNames(fired)); diff != "" {
		t.Errorf("fired rules (-want +got):\n%s", diff)
	}
	if len(rec.got) != len(want) {
		t.Errorf("notifier saw %d alerts, want %d", len(rec.got), len(want))
	}

	byRule := map[string]Alert{}
	for _, a := range fired {
		byRule[a.RuleName] = a
		if a.ID == 0 {
			t.Errorf("%s was not assigned an id", a.RuleName)
		}
	}
	if got := byRule["pipeline_down"].Message; got != "Pipeline is DOWN. Data freshness: 30.0 hours" {
		t.Errorf("pipeline_down message = %q", got)
	}
	if got := byRule["pipeline_down"].Severity; got != models.SeverityCritical {
		t.Errorf("pipeline_down severity = %q", got)
	}
	if got := byRule["data_stale"].Message; got != "Data is stale: 30.0 hours old (threshold: 24 hours)" {
		t.Errorf("data_stale message = %q", got)
	}
	if got := byRule["high_anomaly_rate"].Message; got != "High anomaly rate detected: 25.0% (threshold: 10.0%)" {
		t.Errorf("high_anomaly_rate message = %q", got)
	}
	if got := byRule["connector_down"].Message; got != "Unhealthy connectors detected: fred, weather" {
		t.Errorf("connector_down message = %q", got)
	}
	if got := byRule["error_burst"].Message; got != "Error burst: 11 errors in window (threshold: 10)" {
		t.Errorf("error_burst message = %q", got)
	}
}

func TestCheck_ThresholdsAreExclusive(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultRules())
	s := healthySnapshot()
	s.DataFreshnessHours = f64(24)
	s.AnomalyRate = f64(0.1)

	fired, err := m.Check(context.Background(), s, &models.ErrorSummary{TotalErrors: 10})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("values at the threshold fired %v", ruleNames(fired))
	}
}

func TestCheck_MissingMetricsDoNotFire(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultRules())
	s := models.MonitoringSnapshot{Timestamp: time.Now(), UptimeStatus: models.StatusDegraded}

	fired, err := m.Check(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("expected no alerts, got %v", ruleNames(fired))
	}
}

func TestCheck_DisabledRule(t *testing.T) {
	rules := DefaultRules()
	for i := range rules {
		rules[i].Enabled = rules[i].Name == "pipeline_down"
	}
	m, _, _ := newTestManager(t, rules)

	fired, _ := m.Check(context.Background(), brokenSnapshot(), &models.ErrorSummary{TotalErrors: 50})
	if diff := cmp.Diff([]string{"pipeline_down"}, ruleNames(fired)); diff != "" {
		t.Errorf("fired rules (-want +got):\n%s", diff)
	}
}

func TestCheck_ConsecutiveChecks(t *testing.T) {
	rule := Rule{Name: "sticky_down", Condition: ConditionUptimeDown, Severity: models.SeverityHigh, Enabled: true, Consecutive: 3}
	m, _, _ := newTestManager(t, []Rule{rule})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if fired, _ := m.Check(ctx, brokenSnapshot(), nil); len(fired) != 0 {
			t.Fatalf("fired after %d checks", i+1)
		}
	}
	// A passing check restarts the streak
	m.Check(ctx, healthySnapshot(), nil)
	m.Check(ctx, brokenSnapshot(), nil)
	m.Check(ctx, brokenSnapshot(), nil)
	fired, _ := m.Check(ctx, brokenSnapshot(), nil)
	if len(fired) != 1 {
		t.Errorf("expected one alert after three consecutive checks, got %d", len(fired))
	}
}

func TestCheck_ConsecutiveAcrossManagers(t *testing.T) {
	rule := Rule{Name: "sticky_down", Condition: ConditionUptimeDown, Severity: models.SeverityHigh, Enabled: true, Consecutive: 2}
	db := openTestDB(t)
	ctx := context.Background()

	open := func() *Manager {
		m, err := NewManager(db, []Rule{rule}, Options{Notifier: &recorder{}})
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		return m
	}

	if fired, _ := open().Check(ctx, brokenSnapshot(), nil); len(fired) != 0 {
		t.Fatal("fired on the first violating check")
	}
	fired, err := open().Check(ctx, brokenSnapshot(), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(fired) != 1 {
		t.Errorf("expected the streak to carry over to a new manager, got %d alert(s)", len(fired))
	}

	open().Check(ctx, healthySnapshot(), nil)
	if got := open().streaks.Get("sticky_down"); got != 0 {
		t.Errorf("streak after a passing check = %d, want 0", got)
	}
}

// --------------- cooldown and resolution ---------------

func TestCheck_Cooldown(t *testing.T) {
	m, _, clk := newTestManager(t, DefaultRules()[:1]) // pipeline_down, 30 minutes
	ctx := context.Background()

	if fired, _ := m.Check(ctx, brokenSnapshot(), nil); len(fired) != 1 {
		t.Fatalf("expected first alert, got %d", len(fired))
	}
	clk.advance(29 * time.Minute)
	if fired, _ := m.Check(ctx, brokenSnapshot(), nil); len(fired) != 0 {
		t.Error("alert fired inside the cooldown")
	}
	clk.advance(2 * time.Minute)
	if fired, _ := m.Check(ctx, brokenSnapshot(), nil); len(fired) != 1 {
		t.Error("alert did not fire after the cooldown")
	}
}

func TestResolve_LiftsCooldown(t *testing.T) {
	m, _, clk := newTestManager(t, DefaultRules()[:1])
	ctx := context.Background()

	m.Check(ctx, brokenSnapshot(), nil)
	clk.advance(time.Minute)

	ok, err := m.Resolve("pipeline_down")
	if err != nil || !ok {
		t.Fatalf("Resolve = %v, %v", ok, err)
	}
	if fired, _ := m.Check(ctx, brokenSnapshot(), nil); len(fired) != 1 {
		t.Error("resolved alert still suppressed the rule")
	}

	hist, err := m.History(time.Hour)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if !hist[0].Resolved || hist[0].ResolvedAt == nil || !hist[0].ResolvedAt.Equal(clk.now()) {
		t.Errorf("first alert not resolved: %+v", hist[0])
	}
	if hist[1].Resolved {
		t.Error("second alert should still be open")
	}
}

func TestResolve_NothingOpen(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultRules())
	ok, err := m.Resolve("pipeline_down")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Error("expected false with no open alert")
	}
}

func TestCheck_NotifierFailureIsNotRecorded(t *testing.T) {
	m, rec, _ := newTestManager(t, DefaultRules()[:1])
	rec.fail = errors.New("smtp unreachable")

	fired, err := m.Check(context.Background(), brokenSnapshot(), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("undelivered alert reported as fired")
	}
	hist, _ := m.History(time.Hour)
	if len(hist) != 0 {
		t.Errorf("undelivered alert recorded in history")
	}

	// Nothing recorded, so no cooldown either
	rec.fail = nil
	if fired, _ := m.Check(context.Background(), brokenSnapshot(), nil); len(fired) != 1 {
		t.Error("expected delivery on retry")
	}
}

// --------------- history ---------------

func TestHistory_WindowAndDetails(t *testing.T) {
	m, _, clk := newTestManager(t, DefaultRules()[:2])
	ctx := context.Background()

	m.Check(ctx, brokenSnapshot(), nil)
	clk.advance(3 * time.Hour)
	m.Check(ctx, brokenSnapshot(), nil)

	hist, err := m.History(time.Hour)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// Both cooldowns have elapsed after three hours
	if diff := cmp.Diff([]string{"pipeline_down", "data_stale"}, ruleNames(hist)); diff != "" {
		t.Errorf("recent history (-want +got):\n%s", diff)
	}
	if got := hist[1].Details["threshold_hours"]; got != 24.0 {
		t.Errorf("threshold_hours detail = %v", got)
	}

	all, _ := m.History(24 * time.Hour)
	if len(all) != 4 {
		t.Errorf("expected 4 alerts in a day, got %d", len(all))
	}
}

func TestHistory_Empty(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	hist, err := m.History(time.Hour)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist == nil || len(hist) != 0 {
		t.Errorf("expected empty history, got %v", hist)
	}
}

func TestRecord_PrunesOldAlerts(t *testing.T) {
	m, _, clk := newTestManager(t, nil)
	for i := 0; i < HistoryLimit+5; i++ {
		if _, err := m.record(Alert{RuleName: "r", Severity: models.SeverityLow, Message: "m", Timestamp: clk.now()}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	var n int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM alert_history`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != HistoryLimit {
		t.Errorf("history holds %d alerts, want %d", n, HistoryLimit)
	}
}

// --------------- notifiers and metrics ---------------

func TestLogNotifier_WritesSystemLog(t *testing.T) {
	if err := database.Init(":memory:"); err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	defer database.Close()

	m, err := NewManager(database.DB, DefaultRules()[:1], Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if fired, _ := m.Check(context.Background(), brokenSnapshot(), nil); len(fired) != 1 {
		t.Fatalf("expected one alert")
	}

	logs, err := database.GetLogs(10, database.LogLevelError, database.LogCategoryAlert, "pipeline_down", 0)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 1 || !strings.Contains(logs[0].Message, "DOWN") {
		t.Errorf("system log = %+v", logs)
	}
}

func TestNotifierFunc(t *testing.T) {
	var seen string
	n := NotifierFunc(func(_ context.Context, a Alert) error {
		seen = a.RuleName
		return nil
	})
	if err := n.Notify(context.Background(), Alert{RuleName: "x"}); err != nil || seen != "x" {
		t.Errorf("NotifierFunc did not forward: %q %v", seen, err)
	}
}

func TestCheck_CountsFiredAlerts(t *testing.T) {
	metrics := telemetry.New()
	clk := &clock{t: time.Now()}
	m, err := NewManager(openTestDB(t), DefaultRules(), Options{Notifier: &recorder{}, Metrics: metrics, Now: clk.now})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.Check(context.Background(), brokenSnapshot(), nil)

	if got := testutil.ToFloat64(metrics.AlertsFired.WithLabelValues("pipeline_down", "critical")); got != 1 {
		t.Errorf("alerts_fired{pipeline_down} = %v, want 1", got)
	}
}

func TestNewManager_NilDB(t *testing.T) {
	if _, err := NewManager(nil, nil, Options{}); err == nil {
		t.Error("expected error for nil db")
	}
}

func TestSetRules(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultRules())
	m.SetRules(DefaultRules()[:2])
	if got := len(m.Rules()); got != 2 {
		t.Errorf("expected 2 rules, got %d", got)
	}
}
