package domain

import (
	"fmt"
	"strings"
)

// DefaultTopK is the retrieval depth used when a query does not set one.
const DefaultTopK = 3

// Filters narrows retrieval to entries matching issue metadata.
// Zero value matches everything.
type Filters struct {
	State  IssueState // exact match when set
	Labels []string   // entry must carry every listed label
}

// Empty reports whether no filter criteria are set.
func (f Filters) Empty() bool {
	return f.State == "" && len(f.Labels) == 0
}

// Matches reports whether entry metadata satisfies the filters.
func (f Filters) Matches(m Metadata) bool {
	if f.State != "" && m.State != f.State {
		return false
	}
	for _, want := range f.Labels {
		found := false
		for _, have := range m.Labels {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Query is a validated retrieval request (immutable value object).
type Query struct {
	text    string
	k       int
	filters Filters
}

// NewQuery validates and creates a Query. K zero means DefaultTopK.
func NewQuery(text string, k int, filters Filters) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, fmt.Errorf("query text is empty")
	}
	if k < 0 {
		return Query{}, fmt.Errorf("query k must be non-negative, got %d", k)
	}
	if k == 0 {
		k = DefaultTopK
	}

	return Query{text: text, k: k, filters: filters}, nil
}

// Text returns the question text.
func (q Query) Text() string { return q.text }

// K returns the retrieval depth.
func (q Query) K() int { return q.k }

// Filters returns the metadata filters.
func (q Query) Filters() Filters {
	f := q.filters
	f.Labels = cloneStrings(q.filters.Labels)
	return f
}
