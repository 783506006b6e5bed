package docregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"synapse/internal/memitem"
	"synapse/internal/observability"
	"synapse/internal/rag/chunker"
	"synapse/internal/rag/ingest"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

const (
	chunkMaxTokens = 250 // ~1000 chars at chunker's 4-chars-per-token heuristic
	chunkOverlap   = 50  // ~200 chars
)

type job struct {
	userID string
	id     string
}

// worker drains the queue sequentially — one in-flight fetch/parse at a
// time, per §5's backpressure model for the document processing queue.
type worker struct {
	registry *Registry
	queue    chan job
	limiter  *rate.Limiter
}

func newWorker(r *Registry, queueSize int, fetchesPerSecond float64) *worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	if fetchesPerSecond <= 0 {
		fetchesPerSecond = 1
	}
	return &worker{
		registry: r,
		queue:    make(chan job, queueSize),
		limiter:  rate.NewLimiter(rate.Limit(fetchesPerSecond), 1),
	}
}

func (w *worker) enqueue(j job) bool {
	select {
	case w.queue <- j:
		return true
	default:
		return false // tail drop under sustained overload, per §5
	}
}

// run drains the queue until ctx is cancelled, observing the process
// shutdown hook described in §5.
func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.queue:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.process(ctx, j)
		}
	}
}

func (w *worker) process(ctx context.Context, j job) {
	start := time.Now()
	log := observability.LoggerWithTrace(ctx)

	entry, ok, err := w.registry.store.GetByID(ctx, j.userID, j.id)
	if err != nil || !ok {
		log.Warn().Err(err).Str("doc_id", j.id).Msg("docregistry worker: entry vanished")
		return
	}
	entry.Status = StatusProcessing
	if err := w.registry.store.Update(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("docregistry worker: mark processing failed")
	}

	fetched, err := w.registry.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		w.fail(ctx, entry, err)
		return
	}

	if w.registry.blobs != nil {
		if err := w.registry.blobs.Put(ctx, entry.ID, fetched.Raw, fetched.ContentType); err != nil {
			log.Warn().Err(err).Msg("docregistry worker: blob store put failed")
		}
	}

	parsed, err := w.registry.parser.Parse(ctx, entry.URL, fetched.ContentType, fetched.Raw)
	if err != nil {
		w.fail(ctx, entry, err)
		return
	}

	hash := contentHash(parsed.Text)
	entry.ContentHash = hash
	entry.Title = parsed.Title

	if dup, ok, err := w.registry.store.GetByContentHash(ctx, entry.UserID, hash); err == nil && ok && dup.ID != entry.ID {
		entry.DuplicateOfID = dup.ID
		entry.MemoryIDs = dup.MemoryIDs
		entry.Summary = dup.Summary
		entry.Status = StatusComplete
		entry.ProcessingTimeMs = time.Since(start).Milliseconds()
		w.finish(ctx, entry)
		return
	}

	memoryIDs, err := w.storeChunks(ctx, entry, parsed.Text)
	if err != nil {
		w.fail(ctx, entry, err)
		return
	}
	entry.MemoryIDs = memoryIDs

	summary, err := w.registry.summariser.Summarise(ctx, parsed.Text)
	if err != nil {
		// A failed summary does not fail the whole ingest — the chunks are
		// already searchable; the entry just carries an empty summary.
		log.Warn().Err(err).Str("doc_id", entry.ID).Msg("docregistry worker: summarise failed")
	} else {
		entry.Summary = BilingualSummary{
			TitleEN: summary.TitleEN, TitleHE: summary.TitleHE,
			SummaryEN: summary.SummaryEN, SummaryHE: summary.SummaryHE,
			KeyPointsEN: summary.KeyPointsEN, KeyPointsHE: summary.KeyPointsHE,
		}
	}

	entry.Status = StatusComplete
	entry.ProcessingTimeMs = time.Since(start).Milliseconds()
	w.finish(ctx, entry)
}

func (w *worker) storeChunks(ctx context.Context, entry Entry, text string) ([]string, error) {
	chunks, err := chunker.SimpleChunker{}.Chunk(text, ingest.ChunkingOptions{
		Strategy: "markdown", MaxTokens: chunkMaxTokens, Overlap: chunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		item, err := w.registry.memories.Store(ctx, store.StoreParams{
			UserID: entry.UserID,
			Text:   c.Text,
			Tier:   memitem.TierBooks,
			Source: memitem.Source{Kind: memitem.SourceDocument, DocID: entry.ID, ChunkID: fmt.Sprintf("%s:%d", entry.ID, c.Index), URL: entry.URL},
			Importance:   0.5,
			Confidence:   0.8,
			QualityScore: 0.5,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, item.MemoryID)
		texts = append(texts, c.Text)
	}

	if w.registry.embedder == nil || len(ids) == 0 {
		return ids, nil
	}
	vectors, err := w.registry.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("docregistry worker: embedding failed, chunks remain lexical-only")
		return ids, nil
	}
	points := make([]vectorindex.Point, 0, len(ids))
	for i, id := range ids {
		if i >= len(vectors) {
			break
		}
		points = append(points, vectorindex.Point{
			MemoryID: id, UserID: entry.UserID, Vector: vectors[i],
			Tier: memitem.TierBooks, Status: memitem.StatusActive, Content: texts[i],
		})
	}
	if err := w.registry.vectors.Upsert(ctx, points); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("docregistry worker: vector upsert failed")
	}
	return ids, nil
}

func (w *worker) fail(ctx context.Context, entry Entry, err error) {
	entry.Status = StatusFailed
	entry.Error = err.Error()
	w.finish(ctx, entry)
}

func (w *worker) finish(ctx context.Context, entry Entry) {
	if err := w.registry.store.Update(ctx, entry); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("docregistry worker: persist final state failed")
		return
	}
	w.registry.cache.set(ctx, entry)
}

func newDocID() string { return uuid.NewString() }
