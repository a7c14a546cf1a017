// Package jsonl opens line-delimited JSON files for appending.
package jsonl

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// tailChunk is how far back RepairTail reads at a time
const tailChunk = 4096

// OpenAppend opens path for appending, creating it and its directory as
// needed. A torn last line left by a crashed writer is cut off first, so the
// next write starts a fresh line.
func OpenAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: failed to open %s: %w", path, err)
	}
	cut, err := RepairTail(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if cut > 0 {
		log.Printf("jsonl: dropped %d byte(s) of a partial line at the end of %s", cut, path)
	}
	return f, nil
}

// RepairTail truncates f after its last newline and returns the number of
// bytes removed. A file that is empty or ends in a newline is untouched.
func RepairTail(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("jsonl: stat failed: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		return 0, nil
	}

	end := size
	buf := make([]byte, tailChunk)
	for end > 0 {
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && err != io.EOF {
			return 0, fmt.Errorf("jsonl: read failed: %w", err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}

	if end == size {
		return 0, nil
	}
	if err := f.Truncate(end); err != nil {
		return 0, fmt.Errorf("jsonl: truncate failed: %w", err)
	}
	return size - end, nil
}

// Rewrite replaces path with data through a temporary file in the same
// directory, so readers see either the old or the new content.
func Rewrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonl: failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("jsonl: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonl: chmod failed: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonl: write failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonl: sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonl: close failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("jsonl: rename failed: %w", err)
	}
	return nil
}
