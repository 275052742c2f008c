package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// maxLineSize bounds a single NDJSON line. Issue bodies are capped well below
// this by GitHub itself.
const maxLineSize = 4 * 1024 * 1024

// ReadFile parses an NDJSON issue dump: one JSON object per line.
func ReadFile(path string) ([]RawIssue, []Rejection, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	issues, rejections, err := Read(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read corpus file %s: %w", path, err)
	}
	return issues, rejections, nil
}

// Read parses NDJSON issue records from a reader. Blank lines are skipped.
// Lines that fail to parse become rejections, not errors; only I/O failures
// abort the read. Rejection positions count non-blank lines from zero.
func Read(r io.Reader) ([]RawIssue, []Rejection, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		issues     []RawIssue
		rejections []Rejection
		position   int
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ri RawIssue
		if err := json.Unmarshal([]byte(line), &ri); err != nil {
			rejections = append(rejections, Rejection{
				Position: position,
				Err:      fmt.Errorf("%w: record %d: %v", domain.ErrInvalidIssue, position, err),
			})
			position++
			continue
		}
		issues = append(issues, ri)
		position++
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan: %w", err)
	}
	return issues, rejections, nil
}
