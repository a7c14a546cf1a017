package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks the operational impact of an error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category is a member of the closed error taxonomy.
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryAuthentication Category = "authentication"
	CategoryDataValidation Category = "data_validation"
	CategoryProcessing     Category = "processing"
	CategoryStorage        Category = "storage"
	CategoryConfiguration  Category = "configuration"
	CategoryUnknown        Category = "unknown"
)

// Categories lists the full taxonomy.
var Categories = []Category{
	CategoryConnection,
	CategoryAuthentication,
	CategoryDataValidation,
	CategoryProcessing,
	CategoryStorage,
	CategoryConfiguration,
	CategoryUnknown,
}

// Severities lists all severities from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity parses a lowercase or uppercase severity name.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	for _, sev := range Severities {
		if v == sev {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Valid reports whether the category belongs to the taxonomy.
func (c Category) Valid() bool {
	for _, cat := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// ErrorRecord is a persisted, classified failure. Only RecoveryAction,
// RetryCount and Resolved change after creation.
type ErrorRecord struct {
	ErrorID        string         `json:"error_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Severity       Severity       `json:"severity"`
	Category       Category       `json:"category"`
	Component      string         `json:"component"`
	Operation      string         `json:"operation"`
	ErrorType      string         `json:"error_type"`
	ErrorMessage   string         `json:"error_message"`
	StackTrace     string         `json:"stack_trace,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	RecoveryAction string         `json:"recovery_action,omitempty"`
	RetryCount     int            `json:"retry_count"`
	Resolved       bool           `json:"resolved"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
}

// TopError is one entry of the most frequent error list.
type TopError struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// ErrorSummary aggregates the error records of one window.
type ErrorSummary struct {
	TotalErrors int            `json:"total_errors"`
	BySeverity  map[string]int `json:"by_severity"`
	ByCategory  map[string]int `json:"by_category"`
	ByComponent map[string]int `json:"by_component"`
	TopErrors   []TopError     `json:"top_errors"`
}
