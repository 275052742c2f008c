// Package corpus normalizes raw GitHub issue exports into documents ready for
// chunking. Fetching issues from GitHub is an external concern; the loader
// accepts whatever records an exporter produced, in any order.
package corpus

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// RawIssue is one issue record as it arrives from an exporter. Either ID or
// Number identifies the issue; Number is what `gh issue list` style dumps carry.
type RawIssue struct {
	ID        FlexID    `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Labels    LabelList `json:"labels"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rejection reports one record that could not be turned into a document.
// Err always matches domain.ErrInvalidIssue.
type Rejection struct {
	Position int    // zero-based position in the input slice
	ID       string // resolved identifier, empty when none could be read
	Err      error
}

// Loader turns raw issue records into normalized documents.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load normalizes raw records into documents. Malformed records are skipped
// and reported; they never fail the batch. Documents keep the input order.
func (l *Loader) Load(raw []RawIssue) ([]domain.Document, []Rejection) {
	docs := make([]domain.Document, 0, len(raw))
	var rejections []Rejection

	for i, ri := range raw {
		id := resolveID(ri)
		if id == "" {
			rejections = append(rejections, Rejection{
				Position: i,
				Err:      fmt.Errorf("%w: record %d has no id or number", domain.ErrInvalidIssue, i),
			})
			continue
		}

		state, err := domain.ParseIssueState(ri.State)
		if err != nil {
			rejections = append(rejections, reject(i, id, err))
			continue
		}

		title := normalizeTitle(ri.Title)
		body := normalizeBody(ri.Body)

		doc, err := domain.NewDocument(id, title, body, ri.Labels, state, ri.CreatedAt, ri.UpdatedAt)
		if err != nil {
			rejections = append(rejections, reject(i, id, err))
			continue
		}
		docs = append(docs, doc)
	}

	return docs, rejections
}

func reject(position int, id string, cause error) Rejection {
	return Rejection{
		Position: position,
		ID:       id,
		Err:      fmt.Errorf("%w: issue %s: %v", domain.ErrInvalidIssue, id, cause),
	}
}

func resolveID(ri RawIssue) string {
	if ri.ID != "" {
		return string(ri.ID)
	}
	if ri.Number > 0 {
		return strconv.Itoa(ri.Number)
	}
	return ""
}
