// Package recovery maps error categories to advisory recovery strategies.
package recovery

import (
	"fmt"
	"log"
	"pipewatch/app/internal/models"
	"strings"
	"sync"
)

// MaxRetries bounds the retry counter bumped by the connection strategy
const MaxRetries = 3

// Strategy proposes a recovery action for a record, or declines with
// ok=false. It may change the record's RetryCount and nothing else.
type Strategy func(rec *models.ErrorRecord) (action string, ok bool)

type entry struct {
	patterns []string
	strategy Strategy
}

// Registry holds one strategy per category
type Registry struct {
	mu      sync.RWMutex
	entries map[models.Category]entry
}

// New creates an empty registry
func New() *Registry {
	return &Registry{entries: make(map[models.Category]entry)}
}

// Default creates a registry with the built-in strategies. Configuration
// and unknown failures have no strategy.
func Default() *Registry {
	r := New()
	r.Register(models.CategoryConnection,
		[]string{"ConnectionError", "TimeoutError", "OSError", "connection refused", "i/o timeout", "deadline exceeded"},
		RetryWithBackoff)
	r.Register(models.CategoryAuthentication,
		[]string{"401", "403", "Unauthorized", "Forbidden"},
		Advise("Check API credentials and permissions"))
	r.Register(models.CategoryDataValidation,
		[]string{"ValueError", "KeyError", "ValidationError"},
		Advise("Validate input data and check data format"))
	r.Register(models.CategoryStorage,
		[]string{"IOError", "OSError", "PermissionError"},
		Advise("Check disk space and file permissions"))
	return r
}

// Register sets the strategy for a category, replacing any previous one.
// Patterns are matched case-insensitively as substrings.
func (r *Registry) Register(category models.Category, patterns []string, strategy Strategy) {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[category] = entry{patterns: lowered, strategy: strategy}
}

// Attempt runs the strategy registered for the record's category when one of
// its patterns occurs in "{error_type} {message}". A strategy that declines,
// returns an empty action or panics yields no action.
func (r *Registry) Attempt(rec *models.ErrorRecord) (string, bool) {
	r.mu.RLock()
	e, ok := r.entries[rec.Category]
	r.mu.RUnlock()
	if !ok || e.strategy == nil {
		return "", false
	}

	text := strings.ToLower(rec.ErrorType + " " + rec.ErrorMessage)
	for _, p := range e.patterns {
		if strings.Contains(text, p) {
			return run(e.strategy, rec)
		}
	}
	return "", false
}

func run(strategy Strategy, rec *models.ErrorRecord) (action string, ok bool) {
	defer func() {
		if v := recover(); v != nil {
			log.Printf("Recovery strategy failed for %s: %v", rec.Category, v)
			action, ok = "", false
		}
	}()
	action, ok = strategy(rec)
	if action == "" {
		return "", false
	}
	return action, ok
}

// Categories returns the categories that have a strategy
func (r *Registry) Categories() []models.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Category
	for _, c := range models.Categories {
		if _, ok := r.entries[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// RetryWithBackoff bumps the retry counter until MaxRetries is reached
func RetryWithBackoff(rec *models.ErrorRecord) (string, bool) {
	if rec.RetryCount < MaxRetries {
		rec.RetryCount++
		return fmt.Sprintf("Retry attempt %d with exponential backoff", rec.RetryCount), true
	}
	return "Max retry attempts reached", true
}

// Advise returns a strategy that always proposes the same action
func Advise(action string) Strategy {
	return func(*models.ErrorRecord) (string, bool) { return action, true }
}
