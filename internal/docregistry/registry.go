package docregistry

import (
	"context"
	"time"

	"synapse/internal/docregistry/summariser"
	"synapse/internal/observability"
	"synapse/internal/rag/embedder"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

// Config assembles the registry's collaborators.
type Config struct {
	Cache            CacheConfig
	Blobs            BlobStoreConfig
	Summariser       summariser.Config
	FetchTimeout     time.Duration
	QueueSize        int
	FetchesPerSecond float64
	PDFParser        PDFParser
}

// Registry implements the Document Registry (§4.8): dedup lookups, queueing,
// and the background worker that turns a URL into searchable memory chunks
// plus a bilingual summary.
type Registry struct {
	store      Store
	cache      *redisCache
	blobs      *blobStore
	fetcher    Fetcher
	parser     Parser
	summariser summariser.Summariser
	memories   store.MemoryStore
	embedder   embedder.Embedder
	vectors    vectorindex.Adapter

	worker *worker
	cancel context.CancelFunc
}

// New builds a Registry and starts its background worker goroutine, bound
// to ctx — cancel ctx (or call Close) to stop it.
func New(ctx context.Context, cfg Config, st Store, memories store.MemoryStore, emb embedder.Embedder, vectors vectorindex.Adapter) (*Registry, error) {
	summ, err := summariser.Build(cfg.Summariser)
	if err != nil {
		return nil, err
	}
	blobs, err := newBlobStore(ctx, cfg.Blobs)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:      st,
		cache:      newRedisCache(cfg.Cache),
		blobs:      blobs,
		fetcher:    NewFetcher(cfg.FetchTimeout),
		parser:     NewParser(cfg.PDFParser),
		summariser: summ,
		memories:   memories,
		embedder:   emb,
		vectors:    vectors,
	}
	r.worker = newWorker(r, cfg.QueueSize, cfg.FetchesPerSecond)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.worker.run(runCtx)
	return r, nil
}

// Close stops the background worker. Already-dequeued jobs finish; queued
// jobs remain persisted as "queued" for Resume to pick up next startup.
func (r *Registry) Close() { r.cancel() }

// LookupByUrl returns the registry entry for url if one exists, consulting
// the Redis fast path before the document store (§4.8's single-digit-ms
// requirement).
func (r *Registry) LookupByUrl(ctx context.Context, userID, url string) (Entry, bool, error) {
	hash := urlHash(url)
	if e, ok := r.cache.getByURL(ctx, userID, hash); ok {
		return e, true, nil
	}
	e, ok, err := r.store.GetByURLHash(ctx, userID, hash)
	if err != nil {
		return Entry{}, false, err
	}
	if ok {
		r.cache.set(ctx, e)
	}
	return e, ok, nil
}

// LookupByContentHash finds a completed entry with identical content,
// regardless of the URL it was fetched from — cross-URL duplicate
// detection (§4.8).
func (r *Registry) LookupByContentHash(ctx context.Context, userID, hash string) (Entry, bool, error) {
	if e, ok := r.cache.getByContent(ctx, userID, hash); ok {
		return e, true, nil
	}
	e, ok, err := r.store.GetByContentHash(ctx, userID, hash)
	if err != nil {
		return Entry{}, false, err
	}
	if ok {
		r.cache.set(ctx, e)
	}
	return e, ok, nil
}

// QueueUrl registers url for ingestion. A known-complete entry short
// circuits immediately; an in-flight entry (queued/processing) is a no-op;
// otherwise a fresh entry is inserted and pushed to the worker queue
// (§4.8).
func (r *Registry) QueueUrl(ctx context.Context, req QueueRequest) (Entry, error) {
	hash := urlHash(req.URL)
	if existing, ok, err := r.LookupByUrl(ctx, req.UserID, req.URL); err != nil {
		return Entry{}, err
	} else if ok {
		switch existing.Status {
		case StatusComplete, StatusQueued, StatusProcessing:
			return existing, nil
		}
	}

	now := time.Now()
	entry := Entry{
		ID:        newDocID(),
		UserID:    req.UserID,
		URL:       req.URL,
		URLHash:   hash,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Insert(ctx, entry); err != nil {
		return Entry{}, err
	}
	r.cache.set(ctx, entry)

	if !r.worker.enqueue(job{userID: req.UserID, id: entry.ID}) {
		observability.LoggerWithTrace(ctx).Warn().Str("url", req.URL).Msg("docregistry: queue full, url dropped (entry remains queued for Resume)")
	}
	return entry, nil
}

// Resume re-enqueues every entry still queued or processing at process
// start, per §5's "items already persisted as queued can be resumed by a
// sweeper on startup."
func (r *Registry) Resume(ctx context.Context, userID string) (int, error) {
	pending, err := r.store.ListResumable(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range pending {
		if r.worker.enqueue(job{userID: e.UserID, id: e.ID}) {
			n++
		}
	}
	return n, nil
}
