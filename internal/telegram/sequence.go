package telegram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sequence is a file-backed, monotonically increasing alert counter.
// The file holds {"last": N}. Only one process may write it.
type Sequence struct {
	path string
	mu   sync.Mutex
}

type sequenceFile struct {
	Last int64 `json:"last"`
}

// NewSequence returns a counter stored at path. The file is created on first use.
func NewSequence(path string) *Sequence {
	return &Sequence{path: path}
}

// Current returns the last issued number, 0 if none.
func (s *Sequence) Current() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Next increments the counter, persists it and returns the new value.
func (s *Sequence) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.read()
	if err != nil {
		return 0, err
	}
	next := last + 1
	if err := s.write(next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Sequence) read() (int64, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence file: %w", err)
	}
	var f sequenceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("failed to parse sequence file: %w", err)
	}
	return f.Last, nil
}

func (s *Sequence) write(n int64) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create sequence directory: %w", err)
	}
	data, err := json.Marshal(sequenceFile{Last: n})
	if err != nil {
		return fmt.Errorf("failed to marshal sequence: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sequence file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename sequence file: %w", err)
	}
	return nil
}
