// Package errhandler records, classifies and advises on operational
// failures. It never suppresses the failure: callers keep their error and
// decide whether to return, retry or continue.
//
//	if err := fetch(ctx); err != nil {
//		h.Handle(err, "fred", "fetch_series", models.SeverityHigh, map[string]any{"series": id})
//		return err
//	}
package errhandler

import (
	"errors"
	"fmt"
	"log"
	"pipewatch/app/internal/classify"
	"pipewatch/app/internal/database"
	"pipewatch/app/internal/errorlog"
	"pipewatch/app/internal/models"
	"pipewatch/app/internal/recovery"
	"pipewatch/app/internal/telemetry"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxIDAttempts bounds id regeneration on collision
const maxIDAttempts = 5

// Options configures a Handler. Zero values select the defaults.
type Options struct {
	Registry     *recovery.Registry
	Metrics      *telemetry.Metrics
	CaptureStack bool
	Now          func() time.Time
	NewID        func() string
}

// Handler is the error handling entry point. Create one per process and
// share it.
type Handler struct {
	store        *errorlog.Log
	registry     *recovery.Registry
	metrics      *telemetry.Metrics
	captureStack bool
	now          func() time.Time
	newID        func() string

	mu     sync.Mutex
	closed bool
}

// New creates a handler persisting to store
func New(store *errorlog.Log, opts Options) *Handler {
	h := &Handler{
		store:        store,
		registry:     opts.Registry,
		metrics:      opts.Metrics,
		captureStack: opts.CaptureStack,
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if h.registry == nil {
		h.registry = recovery.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newID == nil {
		h.newID = ShortID
	}
	return h
}

// ShortID returns the first 8 hex characters of a random UUID
func ShortID() string {
	return uuid.NewString()[:8]
}

// Handle records a failure and returns the persisted record. Persistence
// problems are logged; the returned record is complete either way.
func (h *Handler) Handle(err error, component, operation string, severity models.Severity, ctx map[string]any) models.ErrorRecord {
	errorType, message := "Error", "unknown error"
	if err != nil {
		errorType, message = classify.TypeName(err), err.Error()
	}
	if _, perr := models.ParseSeverity(string(severity)); perr != nil {
		severity = models.SeverityMedium
	}

	rec := models.ErrorRecord{
		Timestamp:    h.now(),
		Severity:     severity,
		Category:     classify.Classify(errorType, message),
		Component:    component,
		Operation:    operation,
		ErrorType:    errorType,
		ErrorMessage: message,
		Context:      ctx,
	}
	rec.Fingerprint = Fingerprint(rec)
	if h.captureStack {
		rec.StackTrace = string(debug.Stack())
	}

	log.Printf("Error in %s.%s: %s", component, operation, message)

	persisted := h.insert(&rec)

	if action, ok := h.registry.Attempt(&rec); ok {
		rec.RecoveryAction = action
		log.Printf("Recovery action taken: %s", action)
		h.metrics.RecoveryProposed(string(rec.Category))
		if persisted {
			retries := rec.RetryCount
			if _, uerr := h.store.Update(rec.ErrorID, func(r *models.ErrorRecord) {
				r.RecoveryAction = action
				r.RetryCount = retries
			}); uerr != nil {
				log.Printf("errhandler: failed to persist recovery action for %s: %v", rec.ErrorID, uerr)
			}
		}
	}

	h.metrics.ErrorHandled(string(rec.Severity), string(rec.Category), rec.Component)
	_ = database.InsertLog(logLevel(rec.Severity), database.LogCategoryError, component,
		fmt.Sprintf("Error in %s.%s", component, operation),
		fmt.Sprintf("id=%s, type=%s, category=%s, message=%s, recovery=%s",
			rec.ErrorID, rec.ErrorType, rec.Category, rec.ErrorMessage, rec.RecoveryAction))

	return rec
}

// insert assigns an id and stores rec, regenerating the id on collision
func (h *Handler) insert(rec *models.ErrorRecord) bool {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		rec.ErrorID = h.newID()
		if closed || h.store == nil {
			return false
		}
		err := h.store.Insert(*rec)
		if err == nil {
			return true
		}
		if !errors.Is(err, errorlog.ErrDuplicateID) {
			log.Printf("errhandler: failed to persist error %s: %v", rec.ErrorID, err)
			return false
		}
	}
	log.Printf("errhandler: gave up allocating a unique error id after %d attempts", maxIDAttempts)
	return false
}

// Summary aggregates the records of the last window
func (h *Handler) Summary(window time.Duration) (models.ErrorSummary, error) {
	summary := models.ErrorSummary{
		BySeverity:  map[string]int{},
		ByCategory:  map[string]int{},
		ByComponent: map[string]int{},
		TopErrors:   []models.TopError{},
	}

	recs, err := h.store.Query(h.now().Add(-window))
	if err != nil {
		return summary, err
	}
	return Summarize(recs), nil
}

// Summarize aggregates records. Top errors are keyed by type and the first
// 50 characters of the message, most frequent first, ties in first-seen
// order, at most five.
func Summarize(recs []models.ErrorRecord) models.ErrorSummary {
	summary := models.ErrorSummary{
		TotalErrors: len(recs),
		BySeverity:  map[string]int{},
		ByCategory:  map[string]int{},
		ByComponent: map[string]int{},
		TopErrors:   []models.TopError{},
	}

	counts := map[string]int{}
	var order []string
	for _, r := range recs {
		summary.BySeverity[string(r.Severity)]++
		summary.ByCategory[string(r.Category)]++
		summary.ByComponent[r.Component]++

		key := fmt.Sprintf("%s: %s", r.ErrorType, truncate(r.ErrorMessage, 50))
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 5 {
		order = order[:5]
	}
	for _, key := range order {
		summary.TopErrors = append(summary.TopErrors, models.TopError{Error: key, Count: counts[key]})
	}
	return summary
}

// MarkResolved flips the resolved flag of one record. It reports whether
// the record exists.
func (h *Handler) MarkResolved(id string) (bool, error) {
	found, err := h.store.Update(id, func(r *models.ErrorRecord) {
		r.Resolved = true
	})
	if err != nil {
		return found, err
	}
	if found {
		log.Printf("Error resolved: %s", id)
		_ = database.InsertLog(database.LogLevelInfo, database.LogCategoryRecovery, "", "Error marked resolved", "id="+id)
	}
	return found, nil
}

// Retry runs recovery again for a stored record. For connection failures
// this advances the bounded retry counter.
func (h *Handler) Retry(id string) (string, error) {
	var action string
	found, err := h.store.Update(id, func(r *models.ErrorRecord) {
		if a, ok := h.registry.Attempt(r); ok {
			action = a
			r.RecoveryAction = a
		}
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", errorlog.ErrNotFound
	}
	if action != "" {
		log.Printf("Recovery action taken: %s", action)
		h.metrics.RecoveryProposed(categoryOf(h.store, id))
		_ = database.InsertLog(database.LogLevelInfo, database.LogCategoryRecovery, "", "Recovery retried", fmt.Sprintf("id=%s, action=%s", id, action))
	}
	return action, nil
}

// Get returns a stored record
func (h *Handler) Get(id string) (models.ErrorRecord, error) {
	return h.store.Get(id)
}

// List returns stored records matching f
func (h *Handler) List(f errorlog.Filter) ([]models.ErrorRecord, error) {
	return h.store.List(f)
}

// Now returns the handler's current time
func (h *Handler) Now() time.Time {
	return h.now()
}

// Store returns the underlying error log
func (h *Handler) Store() *errorlog.Log {
	return h.store
}

// Close stops persisting records. Handle keeps working afterwards and
// only logs. Every write is synchronous so there is nothing to flush.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func categoryOf(store *errorlog.Log, id string) string {
	rec, err := store.Get(id)
	if err != nil {
		return string(models.CategoryUnknown)
	}
	return string(rec.Category)
}

func logLevel(s models.Severity) string {
	switch s {
	case models.SeverityLow:
		return database.LogLevelInfo
	case models.SeverityMedium:
		return database.LogLevelWarn
	default:
		return database.LogLevelError
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// normalizeMessage lowercases and collapses whitespace so that otherwise
// identical messages share a fingerprint
func normalizeMessage(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
