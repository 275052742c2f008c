// Package notes keeps an append-only JSONL transcript of answered
// questions, one record per line.
package notes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one transcript record.
type Entry struct {
	Time             time.Time `json:"time"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	CitedDocumentIDs []string  `json:"cited_document_ids,omitempty"`
}

// Recorder appends entries to a JSONL file. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	path string
}

// NewRecorder creates a transcript recorder writing to path, creating
// parent directories as needed.
func NewRecorder(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("notes path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create notes directory: %w", err)
		}
	}
	return &Recorder{path: path}, nil
}

// Append writes one entry as a single JSON line. A zero Time is stamped
// with the current UTC time. The file is opened per call, so an externally
// rotated transcript picks up at the new file.
func (r *Recorder) Append(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode note: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notes file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	return nil
}

// Path returns the transcript file path.
func (r *Recorder) Path() string { return r.path }
