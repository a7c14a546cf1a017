package alerts

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
)

// Streaks counts consecutive checks in which a rule's condition held.
// It is safe for concurrent use. A tracker loaded with LoadStreaks writes
// every change through to the alert_streaks table, so streaks survive
// across processes such as repeated `alerts check` runs.
type Streaks struct {
	mu     sync.Mutex
	counts map[string]int
	db     *sql.DB
}

// NewStreaks creates an empty in-memory tracker.
func NewStreaks() *Streaks {
	return &Streaks{counts: make(map[string]int)}
}

// LoadStreaks creates the streak table if needed and loads its counts.
func LoadStreaks(db *sql.DB) (*Streaks, error) {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS alert_streaks (
  rule_name TEXT PRIMARY KEY,
  count INTEGER NOT NULL
);`); err != nil {
		return nil, fmt.Errorf("alerts: failed to migrate streaks: %w", err)
	}

	rows, err := db.Query(`SELECT rule_name, count FROM alert_streaks`)
	if err != nil {
		return nil, fmt.Errorf("alerts: failed to load streaks: %w", err)
	}
	defer rows.Close()

	s := &Streaks{counts: make(map[string]int), db: db}
	for rows.Next() {
		var (
			rule  string
			count int
		)
		if err := rows.Scan(&rule, &count); err != nil {
			return nil, fmt.Errorf("alerts: failed to scan streak: %w", err)
		}
		s.counts[rule] = count
	}
	return s, rows.Err()
}

// Update extends or clears the streak of a rule and returns its new length.
func (s *Streaks) Update(rule string, violated bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !violated {
		s.clear(rule)
		return 0
	}
	s.counts[rule]++
	s.store(rule, s.counts[rule])
	return s.counts[rule]
}

// Get returns the current streak of a rule.
func (s *Streaks) Get(rule string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[rule]
}

// Reset clears the streak of a rule.
func (s *Streaks) Reset(rule string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear(rule)
}

// Prune drops streaks of rules that are no longer configured.
func (s *Streaks) Prune(rules []Rule) {
	valid := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		valid[r.Name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.counts {
		if _, ok := valid[key]; !ok {
			s.clear(key)
		}
	}
}

func (s *Streaks) clear(rule string) {
	if _, ok := s.counts[rule]; !ok {
		return
	}
	delete(s.counts, rule)
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM alert_streaks WHERE rule_name = ?`, rule); err != nil {
		log.Printf("alerts: failed to clear streak of %s: %v", rule, err)
	}
}

func (s *Streaks) store(rule string, count int) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(`INSERT INTO alert_streaks (rule_name, count) VALUES (?, ?)
		ON CONFLICT(rule_name) DO UPDATE SET count = excluded.count`, rule, count)
	if err != nil {
		log.Printf("alerts: failed to store streak of %s: %v", rule, err)
	}
}
