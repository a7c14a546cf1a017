package snapshots

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"pipewatch/app/internal/jsonl"
	"pipewatch/app/internal/models"
	"sync"
	"time"
)

// DefaultPath is where the file store keeps its history
const DefaultPath = "data/output/monitoring_metrics.jsonl"

// FileStore keeps one JSON document per line. Every append is a single
// O_APPEND write so concurrent writers never interleave within a line.
type FileStore struct {
	path     string
	reporter FailureReporter
	mu       sync.Mutex
}

// NewFileStore creates a store backed by the file at path. The file is
// created on first append.
func NewFileStore(path string, reporter FailureReporter) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path, reporter: reporter}
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.path
}

// Append validates and writes one snapshot
func (f *FileStore) Append(s models.MonitoringSnapshot) error {
	if err := Validate(s); err != nil {
		return err
	}
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("snapshots: failed to encode snapshot: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := jsonl.OpenAppend(f.path)
	if err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("snapshots: failed to append: %w", err)
	}
	return nil
}

// Load returns the snapshots at or after cutoff
func (f *FileStore) Load(cutoff time.Time) []models.MonitoringSnapshot {
	all, err := f.readAll()
	if err != nil {
		report(f.reporter, err, "load", map[string]any{"path": f.path})
		return []models.MonitoringSnapshot{}
	}
	return filter(all, cutoff)
}

// Count returns the length of the readable history
func (f *FileStore) Count() int {
	all, err := f.readAll()
	if err != nil {
		return 0
	}
	return len(all)
}

// Prune rewrites the file with its newest keep lines. An unreadable history
// is left untouched and reported as an error.
func (f *FileStore) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshots: failed to read %s: %w", f.path, err)
	}
	if _, err := decodeLines(data); err != nil {
		return 0, err
	}

	var lines [][]byte
	for _, line := range bytes.SplitAfter(data, []byte{'\n'}) {
		trimmed := bytes.TrimSpace(line)
		switch {
		case len(trimmed) == 0:
		case bytes.HasSuffix(line, []byte{'\n'}):
			lines = append(lines, line)
		case json.Valid(trimmed):
			lines = append(lines, append(append([]byte{}, trimmed...), '\n'))
		}
	}
	if len(lines) <= keep {
		return 0, nil
	}

	dropped := len(lines) - keep
	if err := jsonl.Rewrite(f.path, bytes.Join(lines[dropped:], nil)); err != nil {
		return 0, fmt.Errorf("snapshots: %w", err)
	}
	return dropped, nil
}

func (f *FileStore) readAll() ([]models.MonitoringSnapshot, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeLines(data)
}

// decodeLines parses JSON lines. An unterminated final line is a torn
// write from a crashed appender and is skipped; any other bad line makes
// the whole history unreadable.
func decodeLines(data []byte) ([]models.MonitoringSnapshot, error) {
	var out []models.MonitoringSnapshot
	r := bufio.NewReader(bytes.NewReader(data))
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		torn := err == io.EOF
		lineNo++

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var s models.MonitoringSnapshot
			if decErr := json.Unmarshal(line, &s); decErr != nil {
				if torn {
					log.Printf("snapshots: skipping partial line %d: %v", lineNo, decErr)
					break
				}
				return nil, fmt.Errorf("snapshots: corrupt line %d: %w", lineNo, decErr)
			}
			out = append(out, s)
		}
		if torn {
			break
		}
	}
	return out, nil
}
