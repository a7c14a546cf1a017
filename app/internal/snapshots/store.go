// Package snapshots persists the time-ordered monitoring snapshot history.
package snapshots

import (
	"errors"
	"fmt"
	"log"
	"pipewatch/app/internal/models"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store is an append-only sequence of snapshots kept in arrival order.
type Store interface {
	// Append writes one snapshot after the existing ones
	Append(s models.MonitoringSnapshot) error
	// Load returns the snapshots with timestamp >= cutoff in storage order.
	// An unreadable or corrupt medium yields an empty slice.
	Load(cutoff time.Time) []models.MonitoringSnapshot
	// Count returns the number of readable snapshots in the whole history
	Count() int
	// Prune drops all but the newest keep snapshots and returns how many
	// were removed
	Prune(keep int) (int, error)
}

// DefaultKeep is the history length kept by WithRetention callers
const DefaultKeep = 100

type retained struct {
	Store
	keep int
}

// WithRetention returns a store that prunes s to the newest keep snapshots
// after every append. keep <= 0 returns s unchanged.
func WithRetention(s Store, keep int) Store {
	if keep <= 0 {
		return s
	}
	return &retained{Store: s, keep: keep}
}

func (r *retained) Append(s models.MonitoringSnapshot) error {
	if err := r.Store.Append(s); err != nil {
		return err
	}
	if _, err := r.Store.Prune(r.keep); err != nil {
		log.Printf("snapshots: retention prune failed: %v", err)
	}
	return nil
}

// FailureReporter receives store failures that Load swallows.
// *errhandler.Handler satisfies it.
type FailureReporter interface {
	Handle(err error, component, operation string, severity models.Severity, ctx map[string]any) models.ErrorRecord
}

// ErrInvalid is returned by Append for snapshots outside the value ranges
var ErrInvalid = errors.New("snapshots: invalid snapshot")

var validate = validator.New()

// Validate checks the value ranges of a snapshot
func Validate(s models.MonitoringSnapshot) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func report(r FailureReporter, err error, operation string, ctx map[string]any) {
	log.Printf("snapshots: %s failed: %v", operation, err)
	if r != nil {
		r.Handle(err, "snapshot_store", operation, models.SeverityHigh, ctx)
	}
}

func filter(all []models.MonitoringSnapshot, cutoff time.Time) []models.MonitoringSnapshot {
	out := make([]models.MonitoringSnapshot, 0, len(all))
	for _, s := range all {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the newest snapshot at or after cutoff
func Latest(s Store, cutoff time.Time) (models.MonitoringSnapshot, bool) {
	var (
		latest models.MonitoringSnapshot
		found  bool
	)
	for _, snap := range s.Load(cutoff) {
		if !found || !snap.Timestamp.Before(latest.Timestamp) {
			latest, found = snap, true
		}
	}
	return latest, found
}
