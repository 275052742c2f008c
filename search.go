package issuepilot

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// SearchBuilder is a fluent builder for semantic retrieval queries.
type SearchBuilder struct {
	client *Client

	query  string
	k      int
	labels []string
	state  string
}

// Search returns a retrieval builder for the given query text.
// Results are chunks ranked by cosine similarity, best first.
func (c *Client) Search(query string) *SearchBuilder {
	return &SearchBuilder{client: c, query: query}
}

// K sets the maximum number of results. Default: 3.
func (b *SearchBuilder) K(k int) *SearchBuilder {
	b.k = k
	return b
}

// Label restricts results to issues carrying the given label.
// Repeated calls require every listed label.
func (b *SearchBuilder) Label(label string) *SearchBuilder {
	b.labels = append(b.labels, label)
	return b
}

// State restricts results to issues in the given state ("open" or "closed").
func (b *SearchBuilder) State(state string) *SearchBuilder {
	b.state = state
	return b
}

// Do embeds the query and returns the best-matching chunks. Fewer than K
// matches (including none) is a valid outcome, not an error.
func (b *SearchBuilder) Do(ctx context.Context) ([]Match, error) {
	var state domain.IssueState
	if b.state != "" {
		parsed, err := domain.ParseIssueState(b.state)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		state = parsed
	}

	q, err := domain.NewQuery(b.query, b.k, domain.Filters{
		State:  state,
		Labels: b.labels,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	res, err := b.client.queryEmb.Embed(ctx, q.Text())
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	hits, err := b.client.idx.Search(ctx, res.Embedding, q.K(), q.Filters())
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return fromRetrieval(hits), nil
}
