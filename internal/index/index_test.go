package index

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/issuepilot/internal/db"
	"github.com/kailas-cloud/issuepilot/internal/db/memory"
	"github.com/kailas-cloud/issuepilot/internal/domain"
	"github.com/kailas-cloud/issuepilot/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

func mkEntry(t *testing.T, docID string, ordinal int, text string, vec []float32, meta domain.Metadata) domain.IndexEntry {
	t.Helper()
	ch, err := domain.NewChunk(docID, text, ordinal)
	if err != nil {
		t.Fatalf("make chunk: %v", err)
	}
	e, err := domain.NewIndexEntry(ch, vec, meta)
	if err != nil {
		t.Fatalf("make entry: %v", err)
	}
	return e
}

func newTestIndex(t *testing.T) (*Index, *memory.Store) {
	t.Helper()
	ms := memory.NewStore()
	return New(ms, Config{Model: "test-model"}, zap.NewNop()), ms
}

func TestUpsertAndSearch_RanksByCosine(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	entries := []domain.IndexEntry{
		mkEntry(t, "1", 0, "exact match", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "2", 0, "close match", []float32{0.9, 0.1}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "3", 0, "orthogonal", []float32{0, 1}, domain.Metadata{State: domain.IssueOpen}),
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 3, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}

	wantOrder := []string{"1:0", "2:0", "3:0"}
	for i, want := range wantOrder {
		if hits[i].Entry.ChunkID() != want {
			t.Errorf("hit %d: expected %s, got %s", i, want, hits[i].Entry.ChunkID())
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores must be non-increasing: %f then %f", hits[i-1].Score, hits[i].Score)
		}
	}
}

func TestSearch_TieBreakByChunkID(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	// Identical vectors: identical scores, so ordering falls to chunk ID.
	entries := []domain.IndexEntry{
		mkEntry(t, "9", 0, "same", []float32{1, 1}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "10", 0, "same", []float32{1, 1}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "2", 0, "same", []float32{1, 1}, domain.Metadata{State: domain.IssueOpen}),
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 1}, 3, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	wantOrder := []string{"10:0", "2:0", "9:0"} // lexicographic ascending
	for i, want := range wantOrder {
		if hits[i].Entry.ChunkID() != want {
			t.Errorf("hit %d: expected %s, got %s", i, want, hits[i].Entry.ChunkID())
		}
	}
}

func TestSearch_NeverOverfetches(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	var entries []domain.IndexEntry
	for i := 0; i < 5; i++ {
		entries = append(entries,
			mkEntry(t, "1", i, "text", []float32{1, float32(i)}, domain.Metadata{State: domain.IssueOpen}))
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 2, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected exactly 2 hits for k=2, got %d", len(hits))
	}

	hits, err = idx.Search(ctx, []float32{1, 0}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 5 {
		t.Errorf("expected all 5 hits for k=10, got %d", len(hits))
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx, _ := newTestIndex(t)

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 3, domain.Filters{})
	if err != nil {
		t.Fatalf("expected no error on empty index, got %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected empty result, got %d hits", len(hits))
	}
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	e := mkEntry(t, "1", 0, "text", []float32{1, 0, 0}, domain.Metadata{State: domain.IssueOpen})
	if err := idx.Upsert(ctx, []domain.IndexEntry{e}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_, err := idx.Search(ctx, []float32{1, 0}, 3, domain.Filters{})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearch_Filters(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	entries := []domain.IndexEntry{
		mkEntry(t, "1", 0, "open bug", []float32{1, 0},
			domain.Metadata{State: domain.IssueOpen, Labels: []string{"bug"}}),
		mkEntry(t, "2", 0, "closed bug", []float32{1, 0},
			domain.Metadata{State: domain.IssueClosed, Labels: []string{"bug", "safari"}}),
		mkEntry(t, "3", 0, "open feature", []float32{1, 0},
			domain.Metadata{State: domain.IssueOpen, Labels: []string{"feature"}}),
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	t.Run("by state", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, domain.Filters{State: domain.IssueClosed})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].Entry.ChunkID() != "2:0" {
			t.Errorf("expected only 2:0, got %v", hitIDs(hits))
		}
	})

	t.Run("by label", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, domain.Filters{Labels: []string{"bug"}})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 2 {
			t.Errorf("expected 2 hits with label bug, got %v", hitIDs(hits))
		}
	})

	t.Run("by all labels", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, domain.Filters{Labels: []string{"bug", "safari"}})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].Entry.ChunkID() != "2:0" {
			t.Errorf("expected only 2:0, got %v", hitIDs(hits))
		}
	})

	t.Run("no match", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, domain.Filters{Labels: []string{"absent"}})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("expected no hits, got %v", hitIDs(hits))
		}
	})
}

func TestUpsert_Idempotent(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	e := mkEntry(t, "1", 0, "text", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen})

	if err := idx.Upsert(ctx, []domain.IndexEntry{e}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := idx.Search(ctx, []float32{1, 0}, 3, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if err := idx.Upsert(ctx, []domain.IndexEntry{e}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, err := idx.Search(ctx, []float32{1, 0}, 3, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if idx.Size() != 1 {
		t.Errorf("expected size 1 after re-upsert, got %d", idx.Size())
	}
	if len(first) != len(second) || first[0].Entry.ChunkID() != second[0].Entry.ChunkID() ||
		first[0].Score != second[0].Score {
		t.Errorf("re-upsert changed search results: %v vs %v", first, second)
	}
}

func TestUpsert_DimensionGuardLeavesIndexUnmodified(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	good := mkEntry(t, "1", 0, "good", []float32{1, 0, 0}, domain.Metadata{State: domain.IssueOpen})
	if err := idx.Upsert(ctx, []domain.IndexEntry{good}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	bad := mkEntry(t, "2", 0, "bad", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen})
	alsoGood := mkEntry(t, "3", 0, "also good", []float32{0, 1, 0}, domain.Metadata{State: domain.IssueOpen})

	// The valid entry in the same batch must not slip in.
	err := idx.Upsert(ctx, []domain.IndexEntry{alsoGood, bad})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	if idx.Size() != 1 {
		t.Errorf("expected size 1 after rejected batch, got %d", idx.Size())
	}
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Entry.ChunkID() != "1:0" {
		t.Errorf("prior entries must survive a rejected batch, got %v", hitIDs(hits))
	}
}

func TestUpsert_FirstBatchFixesDimension(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	// Mixed dimensions within the very first batch are rejected whole.
	err := idx.Upsert(ctx, []domain.IndexEntry{
		mkEntry(t, "1", 0, "a", []float32{1, 0, 0}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "2", 0, "b", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen}),
	})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("expected empty index after rejected first batch, got size %d", idx.Size())
	}
	if idx.Dimension() != 0 {
		t.Errorf("expected unset dimension, got %d", idx.Dimension())
	}
}

func TestLoad_RestartRoundtrip(t *testing.T) {
	ms := memory.NewStore()
	ctx := context.Background()

	idx1 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	entries := []domain.IndexEntry{
		mkEntry(t, "1", 0, "first chunk", []float32{1, 0},
			domain.Metadata{State: domain.IssueOpen, Labels: []string{"bug"}}),
		mkEntry(t, "1", 1, "second chunk", []float32{0.5, 0.5},
			domain.Metadata{State: domain.IssueOpen, Labels: []string{"bug"}}),
		mkEntry(t, "2", 0, "other doc", []float32{0, 1},
			domain.Metadata{State: domain.IssueClosed}),
	}
	if err := idx1.Upsert(ctx, entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Same backend, fresh process.
	idx2 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	if err := idx2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if idx2.Size() != 3 {
		t.Fatalf("expected 3 entries after load, got %d", idx2.Size())
	}
	if idx2.Dimension() != 2 {
		t.Errorf("expected dimension 2 after load, got %d", idx2.Dimension())
	}

	hits, err := idx2.Search(ctx, []float32{1, 0}, 1, domain.Filters{})
	if err != nil {
		t.Fatalf("search after load: %v", err)
	}
	if len(hits) != 1 || hits[0].Entry.ChunkID() != "1:0" {
		t.Errorf("expected 1:0 as best hit after load, got %v", hitIDs(hits))
	}
	if hits[0].Entry.Text() != "first chunk" {
		t.Errorf("text lost in roundtrip: %q", hits[0].Entry.Text())
	}
	if got := hits[0].Entry.Meta().Labels; len(got) != 1 || got[0] != "bug" {
		t.Errorf("labels lost in roundtrip: %v", got)
	}
}

func TestLoad_ModelMismatchFails(t *testing.T) {
	ms := memory.NewStore()
	ctx := context.Background()

	idx1 := New(ms, Config{Model: "nomic-embed-text"}, zap.NewNop())
	e := mkEntry(t, "1", 0, "text", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen})
	if err := idx1.Upsert(ctx, []domain.IndexEntry{e}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	idx2 := New(ms, Config{Model: "other-model"}, zap.NewNop())
	err := idx2.Load(ctx)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for model change, got %v", err)
	}
}

func TestLoad_ConfiguredDimensionMismatchFails(t *testing.T) {
	ms := memory.NewStore()
	ctx := context.Background()

	idx1 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	e := mkEntry(t, "1", 0, "text", []float32{1, 0, 0}, domain.Metadata{State: domain.IssueOpen})
	if err := idx1.Upsert(ctx, []domain.IndexEntry{e}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	idx2 := New(ms, Config{Model: "test-model", Dimension: 4}, zap.NewNop())
	err := idx2.Load(ctx)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for dimension change, got %v", err)
	}
}

func TestLoad_SkipsMalformedRecords(t *testing.T) {
	ms := memory.NewStore()
	ctx := context.Background()

	idx1 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	e := mkEntry(t, "1", 0, "good", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen})
	if err := idx1.Upsert(ctx, []domain.IndexEntry{e}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Plant a record that decodes to nothing useful.
	err := ms.HSet(ctx, domain.KeyPrefix+"entry:broken", map[string]string{"garbage": "x"})
	if err != nil {
		t.Fatalf("plant broken record: %v", err)
	}

	idx2 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	if err := idx2.Load(ctx); err != nil {
		t.Fatalf("load must survive malformed records: %v", err)
	}
	if idx2.Size() != 1 {
		t.Errorf("expected 1 entry after load, got %d", idx2.Size())
	}
}

func TestDeleteByDocument(t *testing.T) {
	idx, ms := newTestIndex(t)
	ctx := context.Background()

	entries := []domain.IndexEntry{
		mkEntry(t, "1", 0, "a", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "1", 1, "b", []float32{0, 1}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "2", 0, "c", []float32{1, 1}, domain.Metadata{State: domain.IssueOpen}),
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := idx.DeleteByDocument(ctx, "1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.Entry.DocumentID() == "1" {
			t.Errorf("deleted document still searchable: %s", h.Entry.ChunkID())
		}
	}

	// Deletion reaches the backend too.
	idx2 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	if err := idx2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if idx2.Size() != 1 {
		t.Errorf("expected 1 persisted entry after delete, got %d", idx2.Size())
	}
}

func TestDeleteByDocument_Unknown(t *testing.T) {
	idx, _ := newTestIndex(t)

	n, err := idx.DeleteByDocument(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 deleted, got %d", n)
	}
}

func TestReplaceDocument_DropsOrphanChunks(t *testing.T) {
	idx, ms := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []domain.IndexEntry{
		mkEntry(t, "1", 0, "old 0", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "1", 1, "old 1", []float32{0, 1}, domain.Metadata{State: domain.IssueOpen}),
		mkEntry(t, "1", 2, "old 2", []float32{1, 1}, domain.Metadata{State: domain.IssueOpen}),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Edited issue got shorter: 2 chunks instead of 3.
	if err := idx.ReplaceDocument(ctx, "1", []domain.IndexEntry{
		mkEntry(t, "1", 0, "new 0", []float32{0.5, 0.5}, domain.Metadata{State: domain.IssueClosed}),
		mkEntry(t, "1", 1, "new 1", []float32{0.1, 0.9}, domain.Metadata{State: domain.IssueClosed}),
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if idx.Size() != 2 {
		t.Fatalf("expected 2 entries after replace, got %d", idx.Size())
	}

	hits, err := idx.Search(ctx, []float32{0.5, 0.5}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.Entry.Text() == "old 2" {
			t.Error("orphan chunk 1:2 survived the replace")
		}
		if h.Entry.Meta().State != domain.IssueClosed {
			t.Errorf("entry %s still carries stale state", h.Entry.ChunkID())
		}
	}

	idx2 := New(ms, Config{Model: "test-model"}, zap.NewNop())
	if err := idx2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if idx2.Size() != 2 {
		t.Errorf("expected 2 persisted entries, got %d", idx2.Size())
	}
}

func TestReplaceDocument_EmptyDeletesAll(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []domain.IndexEntry{
		mkEntry(t, "1", 0, "a", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen}),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := idx.ReplaceDocument(ctx, "1", nil); err != nil {
		t.Fatalf("replace with nil: %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("expected empty index, got size %d", idx.Size())
	}
}

// flakyStore wraps the memory store and fails every call on demand.
type flakyStore struct {
	inner *memory.Store
	fail  bool
}

var errBackendDown = errors.New("connection refused")

func (f *flakyStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if f.fail {
		return errBackendDown
	}
	return f.inner.HSetMulti(ctx, items)
}

func (f *flakyStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if f.fail {
		return nil, errBackendDown
	}
	return f.inner.HGetAll(ctx, key)
}

func (f *flakyStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if f.fail {
		return nil, errBackendDown
	}
	return f.inner.HGetAllMulti(ctx, keys)
}

func (f *flakyStore) DelMulti(ctx context.Context, keys []string) error {
	if f.fail {
		return errBackendDown
	}
	return f.inner.DelMulti(ctx, keys)
}

func (f *flakyStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if f.fail {
		return nil, errBackendDown
	}
	return f.inner.Scan(ctx, pattern)
}

func TestUpsert_BackendDownFailsClosed(t *testing.T) {
	fs := &flakyStore{inner: memory.NewStore()}
	idx := New(fs, Config{Model: "test-model"}, zap.NewNop())
	ctx := context.Background()

	good := mkEntry(t, "1", 0, "kept", []float32{1, 0}, domain.Metadata{State: domain.IssueOpen})
	if err := idx.Upsert(ctx, []domain.IndexEntry{good}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fs.fail = true

	e := mkEntry(t, "2", 0, "lost", []float32{0, 1}, domain.Metadata{State: domain.IssueOpen})
	err := idx.Upsert(ctx, []domain.IndexEntry{e})
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}

	// Memory must not drift ahead of the backend.
	if idx.Size() != 1 {
		t.Errorf("expected size 1 after failed upsert, got %d", idx.Size())
	}

	_, err = idx.DeleteByDocument(ctx, "1")
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable from delete, got %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected entry to survive failed delete, got size %d", idx.Size())
	}
}

func TestLoad_BackendDownFailsClosed(t *testing.T) {
	fs := &flakyStore{inner: memory.NewStore(), fail: true}
	idx := New(fs, Config{Model: "test-model"}, zap.NewNop())

	err := idx.Load(context.Background())
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func hitIDs(hits domain.RetrievalResult) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Entry.ChunkID()
	}
	return ids
}
