package domain

// IngestStatus is the processing outcome of a single document in an ingestion run.
type IngestStatus string

// Ingestion item status values.
const (
	IngestOK     IngestStatus = "ok"
	IngestFailed IngestStatus = "failed"
)

// IngestResult is the outcome of ingesting one document.
type IngestResult struct {
	documentID string
	status     IngestStatus
	chunks     int
	err        error
}

// NewIngestOK creates a successful ingestion result.
func NewIngestOK(documentID string, chunks int) IngestResult {
	return IngestResult{documentID: documentID, status: IngestOK, chunks: chunks}
}

// NewIngestError creates a failed ingestion result.
func NewIngestError(documentID string, err error) IngestResult {
	return IngestResult{documentID: documentID, status: IngestFailed, err: err}
}

// DocumentID returns the document identifier, or a positional placeholder for
// records rejected before an ID could be read.
func (r IngestResult) DocumentID() string { return r.documentID }

// Status returns the processing outcome.
func (r IngestResult) Status() IngestStatus { return r.status }

// Chunks returns the number of chunks indexed for the document.
func (r IngestResult) Chunks() int { return r.chunks }

// Err returns the error, if any.
func (r IngestResult) Err() error { return r.err }
