package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

func TestRead_MixedIDTypes(t *testing.T) {
	input := strings.Join([]string{
		`{"id": 1, "title": "numeric id"}`,
		`{"id": "gh-2", "title": "string id"}`,
		`{"number": 3, "title": "number field"}`,
	}, "\n")

	issues, rejections, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rejections) != 0 {
		t.Fatalf("unexpected rejections: %v", rejections)
	}
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(issues))
	}
	if issues[0].ID != "1" {
		t.Errorf("expected numeric id coerced to \"1\", got %q", issues[0].ID)
	}
	if issues[1].ID != "gh-2" {
		t.Errorf("expected string id, got %q", issues[1].ID)
	}
	if issues[2].Number != 3 {
		t.Errorf("expected number 3, got %d", issues[2].Number)
	}
}

func TestRead_LabelShapes(t *testing.T) {
	input := strings.Join([]string{
		`{"id": "1", "title": "flat", "labels": ["bug", "auth"]}`,
		`{"id": "2", "title": "objects", "labels": [{"name": "bug", "color": "red"}]}`,
	}, "\n")

	issues, _, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues[0].Labels) != 2 || issues[0].Labels[0] != "bug" {
		t.Errorf("expected flat labels, got %v", issues[0].Labels)
	}
	if len(issues[1].Labels) != 1 || issues[1].Labels[0] != "bug" {
		t.Errorf("expected object label names, got %v", issues[1].Labels)
	}
}

func TestRead_MalformedLineBecomesRejection(t *testing.T) {
	input := strings.Join([]string{
		`{"id": "1", "title": "good"}`,
		`{not json at all`,
		`{"id": "3", "title": "also good"}`,
	}, "\n")

	issues, rejections, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	if len(rejections) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(rejections))
	}
	if rejections[0].Position != 1 {
		t.Errorf("expected rejection at position 1, got %d", rejections[0].Position)
	}
	if !errors.Is(rejections[0].Err, domain.ErrInvalidIssue) {
		t.Errorf("expected ErrInvalidIssue, got %v", rejections[0].Err)
	}
}

func TestRead_SkipsBlankLines(t *testing.T) {
	input := "\n" + `{"id": "1", "title": "only"}` + "\n\n  \n"

	issues, rejections, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 1 || len(rejections) != 0 {
		t.Fatalf("expected 1 issue and no rejections, got %d / %d", len(issues), len(rejections))
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.ndjson")
	content := `{"id": "1", "title": "from file", "state": "closed"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	issues, _, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 1 || issues[0].State != "closed" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "nope.ndjson"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
