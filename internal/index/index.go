// Package index holds the vector index: an in-memory entry table with
// write-through persistence to the db facade. Search is exact brute-force
// cosine, so results carry no approximation error and ranking is fully
// reproducible.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/issuepilot/internal/db"
	"github.com/kailas-cloud/issuepilot/internal/domain"
	"github.com/kailas-cloud/issuepilot/internal/metrics"
)

// Entries are hydrated in batches of this size on startup.
const loadBatchSize = 200

// store is the consumer interface for index persistence (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Config holds index identity settings. Model and Dimension pin which
// embedding space persisted entries must belong to.
type Config struct {
	KeyPrefix string
	Model     string
	Dimension int // 0 accepts whatever the first upsert brings
}

// Index is the vector index. All mutations are write-through: the backend
// accepts the change before memory does, so a restart never loses entries.
type Index struct {
	mu      sync.RWMutex
	entries map[string]domain.IndexEntry
	norms   map[string]float64
	dim     int // fixed by the first successful upsert (or by loaded meta)

	store     store
	keyPrefix string
	model     string
	wantDim   int

	logger *zap.Logger
}

// New creates an empty index. Call Load to hydrate persisted entries.
func New(s store, cfg Config, logger *zap.Logger) *Index {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Index{
		entries:   make(map[string]domain.IndexEntry),
		norms:     make(map[string]float64),
		store:     s,
		keyPrefix: prefix,
		model:     cfg.Model,
		wantDim:   cfg.Dimension,
		logger:    logger,
	}
}

func (x *Index) entryKey(chunkID string) string {
	return x.keyPrefix + "entry:" + chunkID
}

func (x *Index) metaKey() string {
	return x.keyPrefix + "index:meta"
}

// Load hydrates all persisted entries and index meta. Malformed records are
// skipped with a warning; a meta record from a different model or dimension
// fails the load, because mixing embedding spaces silently corrupts ranking.
func (x *Index) Load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	meta, err := x.store.HGetAll(ctx, x.metaKey())
	if err != nil {
		return fmt.Errorf("load index meta: %v: %w", err, domain.ErrIndexUnavailable)
	}
	if len(meta) > 0 {
		if err := x.checkMeta(meta); err != nil {
			return err
		}
	}

	keys, err := x.store.Scan(ctx, x.keyPrefix+"entry:*")
	if err != nil {
		return fmt.Errorf("scan index entries: %v: %w", err, domain.ErrIndexUnavailable)
	}

	loaded, skipped := 0, 0
	for start := 0; start < len(keys); start += loadBatchSize {
		end := min(start+loadBatchSize, len(keys))

		records, err := x.store.HGetAllMulti(ctx, keys[start:end])
		if err != nil {
			return fmt.Errorf("hydrate index entries: %v: %w", err, domain.ErrIndexUnavailable)
		}

		for i, fields := range records {
			if len(fields) == 0 {
				continue // deleted between scan and fetch
			}
			entry, err := decodeEntry(fields)
			if err != nil {
				x.logger.Warn("Skipping malformed index record",
					zap.String("key", keys[start+i]), zap.Error(err))
				skipped++
				continue
			}
			if x.dim == 0 {
				x.dim = len(entry.Vector())
			}
			if len(entry.Vector()) != x.dim {
				x.logger.Warn("Skipping index record with wrong dimension",
					zap.String("key", keys[start+i]),
					zap.Int("got", len(entry.Vector())),
					zap.Int("want", x.dim))
				skipped++
				continue
			}
			x.entries[entry.ChunkID()] = entry
			x.norms[entry.ChunkID()] = vectorNorm(entry.Vector())
			loaded++
		}
	}

	metrics.IndexEntries.Set(float64(len(x.entries)))
	x.logger.Info("Index loaded",
		zap.Int("entries", loaded),
		zap.Int("skipped", skipped),
		zap.Int("dimension", x.dim))
	return nil
}

func (x *Index) checkMeta(meta map[string]string) error {
	if model := meta["model"]; model != "" && x.model != "" && model != x.model {
		return fmt.Errorf("index built with model %q, configured %q: %w",
			model, x.model, domain.ErrDimensionMismatch)
	}

	dimStr := meta["dimension"]
	if dimStr == "" {
		return nil
	}
	dim, err := strconv.Atoi(dimStr)
	if err != nil {
		return fmt.Errorf("index meta dimension %q: %w", dimStr, domain.ErrDimensionMismatch)
	}
	if x.wantDim > 0 && dim != x.wantDim {
		return fmt.Errorf("index dimension %d, configured %d: %w",
			dim, x.wantDim, domain.ErrDimensionMismatch)
	}
	x.dim = dim
	return nil
}

func (x *Index) metaFields(dim int) map[string]string {
	return map[string]string{
		"dimension": strconv.Itoa(dim),
		"model":     x.model,
	}
}

// Upsert inserts or replaces entries by chunk ID. The whole call is
// validated before any entry is applied: one mismatched vector rejects the
// batch and leaves the index exactly as it was.
func (x *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	dim, err := x.checkDimensions(entries)
	if err != nil {
		return err
	}

	items := make([]db.HashSetItem, 0, len(entries)+1)
	for _, e := range entries {
		fields, err := encodeEntry(e)
		if err != nil {
			return err
		}
		items = append(items, db.HashSetItem{Key: x.entryKey(e.ChunkID()), Fields: fields})
	}
	if x.dim == 0 {
		items = append(items, db.HashSetItem{Key: x.metaKey(), Fields: x.metaFields(dim)})
	}

	// Persist first; memory changes only after the backend accepted the write.
	if err := x.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("persist index entries: %v: %w", err, domain.ErrIndexUnavailable)
	}

	x.dim = dim
	for _, e := range entries {
		x.entries[e.ChunkID()] = e
		x.norms[e.ChunkID()] = vectorNorm(e.Vector())
	}

	metrics.IndexEntries.Set(float64(len(x.entries)))
	return nil
}

// checkDimensions validates every entry against the index dimension (or
// against the first entry when the index is still empty) without applying
// anything. Caller holds the write lock.
func (x *Index) checkDimensions(entries []domain.IndexEntry) (int, error) {
	dim := x.dim
	for _, e := range entries {
		vl := len(e.Vector())
		if vl == 0 {
			return 0, fmt.Errorf("entry %s has an empty vector: %w",
				e.ChunkID(), domain.ErrDimensionMismatch)
		}
		if x.wantDim > 0 && vl != x.wantDim {
			return 0, fmt.Errorf("entry %s has dimension %d, configured %d: %w",
				e.ChunkID(), vl, x.wantDim, domain.ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = vl
			continue
		}
		if vl != dim {
			return 0, fmt.Errorf("entry %s has dimension %d, index uses %d: %w",
				e.ChunkID(), vl, dim, domain.ErrDimensionMismatch)
		}
	}
	return dim, nil
}

// DeleteByDocument removes every entry of the document from the backend and
// memory. Returns how many entries were removed.
func (x *Index) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.deleteDocumentLocked(ctx, documentID, nil)
}

// ReplaceDocument atomically swaps a document's entries: stale chunks are
// removed, new ones upserted, all under one lock so readers never see a
// half-replaced document. Re-ingesting an edited issue shrinks or grows its
// chunk set without leaving orphans.
func (x *Index) ReplaceDocument(ctx context.Context, documentID string, entries []domain.IndexEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	dim, err := x.checkDimensions(entries)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keep[e.ChunkID()] = struct{}{}
	}

	if _, err := x.deleteDocumentLocked(ctx, documentID, keep); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, 0, len(entries)+1)
	for _, e := range entries {
		fields, err := encodeEntry(e)
		if err != nil {
			return err
		}
		items = append(items, db.HashSetItem{Key: x.entryKey(e.ChunkID()), Fields: fields})
	}
	if x.dim == 0 {
		items = append(items, db.HashSetItem{Key: x.metaKey(), Fields: x.metaFields(dim)})
	}

	if err := x.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("persist index entries: %v: %w", err, domain.ErrIndexUnavailable)
	}

	x.dim = dim
	for _, e := range entries {
		x.entries[e.ChunkID()] = e
		x.norms[e.ChunkID()] = vectorNorm(e.Vector())
	}

	metrics.IndexEntries.Set(float64(len(x.entries)))
	return nil
}

// deleteDocumentLocked removes the document's entries except those in keep.
// Caller holds the write lock.
func (x *Index) deleteDocumentLocked(ctx context.Context, documentID string, keep map[string]struct{}) (int, error) {
	var ids, keys []string
	for id, e := range x.entries {
		if e.DocumentID() != documentID {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		ids = append(ids, id)
		keys = append(keys, x.entryKey(id))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := x.store.DelMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete index entries: %v: %w", err, domain.ErrIndexUnavailable)
	}

	for _, id := range ids {
		delete(x.entries, id)
		delete(x.norms, id)
	}

	metrics.IndexEntries.Set(float64(len(x.entries)))
	return len(ids), nil
}

// Search runs an exact cosine scan over entries passing the filters and
// returns at most k hits, best first. Ties are broken by ascending chunk ID.
// Fewer matches than k is a normal outcome, not an error.
func (x *Index) Search(ctx context.Context, vector []float32, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search: %w", err)
	}

	start := time.Now()

	x.mu.RLock()
	hits, err := x.searchLocked(vector, k, filters)
	x.mu.RUnlock()

	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.SearchRequestsTotal.WithLabelValues("success").Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	return hits, nil
}

func (x *Index) searchLocked(vector []float32, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("search k must be positive, got %d", k)
	}
	if x.dim > 0 && len(vector) != x.dim {
		return nil, fmt.Errorf("query vector has dimension %d, index uses %d: %w",
			len(vector), x.dim, domain.ErrDimensionMismatch)
	}
	if len(x.entries) == 0 {
		return domain.RetrievalResult{}, nil
	}

	qnorm := vectorNorm(vector)
	unfiltered := filters.Empty()

	candidates := make(domain.RetrievalResult, 0, len(x.entries))
	for id, e := range x.entries {
		if !unfiltered && !filters.Matches(e.Meta()) {
			continue
		}
		candidates = append(candidates, domain.ScoredEntry{
			Entry: e,
			Score: cosine(vector, qnorm, e.Vector(), x.norms[id]),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Entry.ChunkID() < candidates[j].Entry.ChunkID()
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Size returns the current number of entries.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Dimension returns the fixed vector dimension, 0 while the index is empty.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// cosine computes similarity from a precomputed entry norm. Zero-norm
// vectors score 0 rather than NaN.
func cosine(q []float32, qnorm float64, v []float32, vnorm float64) float64 {
	if qnorm == 0 || vnorm == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	return dot / (qnorm * vnorm)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
