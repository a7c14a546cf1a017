package alerts

import (
	"context"
	"encoding/json"
	"log"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/models"
)

// Notifier delivers a fired alert. An alert is only recorded in the history
// once Notify succeeds.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the process log and the system log
type LogNotifier struct{}

// Notify implements Notifier
func (LogNotifier) Notify(_ context.Context, a Alert) error {
	details, _ := json.Marshal(a.Details)
	log.Printf("ALERT [%s] %s: %s", a.Severity, a.RuleName, a.Message)
	return database.InsertLog(alertLevel(a.Severity), database.LogCategoryAlert, a.RuleName, a.Message, string(details))
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, a Alert) error

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

func alertLevel(s models.Severity) string {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return database.LogLevelError
	case models.SeverityMedium:
		return database.LogLevelWarn
	default:
		return database.LogLevelInfo
	}
}
