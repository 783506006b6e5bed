package docregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/docregistry/summariser"
	"synapse/internal/memitem"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

type fakeFetcher struct {
	raw         []byte
	contentType string
	err         error
	calls       int
}

func (f *fakeFetcher) Fetch(context.Context, string) (Fetched, error) {
	f.calls++
	if f.err != nil {
		return Fetched{}, f.err
	}
	return Fetched{Raw: f.raw, ContentType: f.contentType}, nil
}

type fakeParser struct {
	parsed Parsed
	err    error
}

func (p *fakeParser) Parse(context.Context, string, string, []byte) (Parsed, error) {
	return p.parsed, p.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) Dimension() int    { return 2 }
func (fakeEmbedder) Ping(context.Context) error { return nil }

type fakeVectorAdapter struct {
	upserts []vectorindex.Point
}

func (a *fakeVectorAdapter) Upsert(_ context.Context, points []vectorindex.Point) error {
	a.upserts = append(a.upserts, points...)
	return nil
}
func (a *fakeVectorAdapter) Delete(context.Context, string, []string) error { return nil }
func (a *fakeVectorAdapter) Search(context.Context, vectorindex.SearchParams) ([]vectorindex.Result, error) {
	return nil, nil
}
func (a *fakeVectorAdapter) Count(context.Context, string) (int64, error) { return 0, nil }
func (a *fakeVectorAdapter) FilterByEntities(context.Context, string, []string, int) ([]string, error) {
	return nil, nil
}

func waitForStatus(t *testing.T, r *Registry, userID, id string, want Status, timeout time.Duration) Entry {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e, ok, err := r.store.GetByID(context.Background(), userID, id)
		require.NoError(t, err)
		if ok && e.Status == want {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("entry %s never reached status %s", id, want)
	return Entry{}
}

func TestNormalizeURL_StripsSchemeWwwAndTrailingSlash(t *testing.T) {
	a := urlHash("https://www.Example.com/Path/")
	b := urlHash("http://example.com/Path")
	assert.Equal(t, a, b)
}

func TestQueueUrl_WorkerCompletesAndChunksAreSearchable(t *testing.T) {
	mem := store.NewInMemory()
	vecs := &fakeVectorAdapter{}
	reg := &Registry{
		store:      NewMemoryStore(),
		fetcher:    &fakeFetcher{raw: []byte("hello"), contentType: "text/plain"},
		parser:     &fakeParser{parsed: Parsed{Title: "Doc", Text: "line one\n\nline two about docker"}},
		summariser: summariser.NoopSummariser{},
		memories:   mem,
		embedder:   fakeEmbedder{},
		vectors:    vecs,
	}
	reg.worker = newWorker(reg, 8, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.worker.run(ctx)

	entry, err := reg.QueueUrl(context.Background(), QueueRequest{UserID: "u1", URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, entry.Status)

	done := waitForStatus(t, reg, "u1", entry.ID, StatusComplete, time.Second)
	assert.NotEmpty(t, done.MemoryIDs)
	assert.NotEmpty(t, done.ContentHash)
	assert.NotEmpty(t, vecs.upserts)

	results, err := mem.TextSearch(context.Background(), "u1", "docker", store.TextSearchOptions{Tiers: []memitem.Tier{memitem.TierBooks}})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestQueueUrl_KnownCompleteShortCircuits(t *testing.T) {
	mem := store.NewInMemory()
	fetch := &fakeFetcher{raw: []byte("hello"), contentType: "text/plain"}
	reg := &Registry{
		store:      NewMemoryStore(),
		fetcher:    fetch,
		parser:     &fakeParser{parsed: Parsed{Title: "Doc", Text: "some text"}},
		summariser: summariser.NoopSummariser{},
		memories:   mem,
		embedder:   fakeEmbedder{},
		vectors:    &fakeVectorAdapter{},
	}
	reg.worker = newWorker(reg, 8, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.worker.run(ctx)

	first, err := reg.QueueUrl(context.Background(), QueueRequest{UserID: "u1", URL: "https://example.com/dup"})
	require.NoError(t, err)
	waitForStatus(t, reg, "u1", first.ID, StatusComplete, time.Second)

	second, err := reg.QueueUrl(context.Background(), QueueRequest{UserID: "u1", URL: "https://example.com/dup"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fetch.calls, "re-queueing a completed url must not trigger a second fetch")
}

func TestQueueUrl_InFlightIsNoop(t *testing.T) {
	mem := store.NewInMemory()
	reg := &Registry{
		store:      NewMemoryStore(),
		fetcher:    &fakeFetcher{raw: []byte("x"), contentType: "text/plain"},
		parser:     &fakeParser{parsed: Parsed{Text: "x"}},
		summariser: summariser.NoopSummariser{},
		memories:   mem,
		embedder:   fakeEmbedder{},
		vectors:    &fakeVectorAdapter{},
	}
	// No worker draining the queue: the entry stays "queued".
	reg.worker = newWorker(reg, 8, 1000)

	first, err := reg.QueueUrl(context.Background(), QueueRequest{UserID: "u1", URL: "https://example.com/b"})
	require.NoError(t, err)
	second, err := reg.QueueUrl(context.Background(), QueueRequest{UserID: "u1", URL: "https://example.com/b"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResume_ReenqueuesQueuedAndProcessingEntries(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()
	require.NoError(t, st.Insert(context.Background(), Entry{ID: "a", UserID: "u1", URL: "https://example.com/a", Status: StatusQueued, CreatedAt: now}))
	require.NoError(t, st.Insert(context.Background(), Entry{ID: "b", UserID: "u1", URL: "https://example.com/b", Status: StatusComplete, CreatedAt: now}))

	reg := &Registry{
		store:      st,
		fetcher:    &fakeFetcher{raw: []byte("x"), contentType: "text/plain"},
		parser:     &fakeParser{parsed: Parsed{Text: "x"}},
		summariser: summariser.NoopSummariser{},
		memories:   store.NewInMemory(),
		embedder:   fakeEmbedder{},
		vectors:    &fakeVectorAdapter{},
	}
	reg.worker = newWorker(reg, 8, 1000)

	n, err := reg.Resume(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFetchFailure_MarksEntryFailedWithoutWedgingQueue(t *testing.T) {
	mem := store.NewInMemory()
	reg := &Registry{
		store:      NewMemoryStore(),
		fetcher:    &fakeFetcher{err: assertErr{"boom"}},
		parser:     &fakeParser{},
		summariser: summariser.NoopSummariser{},
		memories:   mem,
		embedder:   fakeEmbedder{},
		vectors:    &fakeVectorAdapter{},
	}
	reg.worker = newWorker(reg, 8, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.worker.run(ctx)

	entry, err := reg.QueueUrl(context.Background(), QueueRequest{UserID: "u1", URL: "https://example.com/fail"})
	require.NoError(t, err)

	failed := waitForStatus(t, reg, "u1", entry.ID, StatusFailed, time.Second)
	assert.NotEmpty(t, failed.Error)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
