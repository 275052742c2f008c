package issuepilot

import "time"

// Issue is one tracker record to ingest. ID takes precedence; when empty,
// Number is used as the identifier. State must be "open" or "closed".
type Issue struct {
	ID        string
	Number    int
	Title     string
	Body      string
	Labels    []string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match is one retrieval hit: a chunk of an indexed issue and its
// cosine similarity to the query.
type Match struct {
	IssueID string
	ChunkID string
	Score   float64
	Text    string
	Labels  []string
	State   string
}

// Answer is a generated response grounded in retrieved issue excerpts.
// CitedIssueIDs lists the issues whose chunks made it into the generation
// context, deduplicated, best match first.
type Answer struct {
	Text          string
	CitedIssueIDs []string
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	RunID     string
	Documents int // successfully indexed issues
	Chunks    int
	Failed    int
	Duration  time.Duration
	Failures  []IngestFailure
}

// IngestFailure describes one record that could not be ingested.
type IngestFailure struct {
	IssueID string // empty when the record had no readable identifier
	Err     error
}
