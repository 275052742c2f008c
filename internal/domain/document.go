package domain

import (
	"fmt"
	"time"
)

// IssueState is the lifecycle state of a tracked issue.
type IssueState string

// Issue state values.
const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// ParseIssueState validates a raw state string. Empty defaults to open.
func ParseIssueState(s string) (IssueState, error) {
	switch IssueState(s) {
	case IssueOpen, IssueClosed:
		return IssueState(s), nil
	case "":
		return IssueOpen, nil
	default:
		return "", fmt.Errorf("unknown issue state %q", s)
	}
}

// MaxDocumentSize is the maximum combined title and body size in bytes.
const MaxDocumentSize = 262144 // 256KB

// Document is a normalized issue ready for chunking (immutable value object).
type Document struct {
	id        string
	title     string
	body      string
	labels    []string
	state     IssueState
	createdAt time.Time
	updatedAt time.Time
}

// NewDocument validates and creates a Document.
// ID is required; title and body must not both be empty after normalization.
func NewDocument(
	id, title, body string,
	labels []string,
	state IssueState,
	createdAt, updatedAt time.Time,
) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if title == "" && body == "" {
		return Document{}, fmt.Errorf("document title and body are both empty")
	}
	if len(title)+len(body) > MaxDocumentSize {
		return Document{}, fmt.Errorf("document too large (max %d bytes)", MaxDocumentSize)
	}
	if state == "" {
		state = IssueOpen
	}

	return Document{
		id:        id,
		title:     title,
		body:      body,
		labels:    cloneStrings(labels),
		state:     state,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}, nil
}

// ID returns the document identifier.
func (d Document) ID() string { return d.id }

// Title returns the issue title.
func (d Document) Title() string { return d.title }

// Body returns the issue body.
func (d Document) Body() string { return d.body }

// Labels returns a copy of the issue labels.
func (d Document) Labels() []string { return cloneStrings(d.labels) }

// State returns the issue state.
func (d Document) State() IssueState { return d.state }

// CreatedAt returns the issue creation time.
func (d Document) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns the last issue update time.
func (d Document) UpdatedAt() time.Time { return d.updatedAt }

// Text returns the embeddable text: title and body joined by a blank line.
func (d Document) Text() string {
	switch {
	case d.title == "":
		return d.body
	case d.body == "":
		return d.title
	default:
		return d.title + "\n\n" + d.body
	}
}

// Metadata returns the filterable attributes carried into index entries.
func (d Document) Metadata() Metadata {
	return Metadata{
		Labels:    cloneStrings(d.labels),
		State:     d.state,
		CreatedAt: d.createdAt,
		UpdatedAt: d.updatedAt,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
