// Package reindex implements the zero-result/drift diagnostic's concrete
// remedy (§4.6 step 9): re-embedding memories the vector index has fallen
// behind on and upserting them back in, driven by the Hybrid Search
// Service's ReindexHook.
package reindex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"synapse/internal/memitem"
	"synapse/internal/observability"
	"synapse/internal/rag/embedder"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

// Sweeper re-embeds and re-indexes memories flagged by
// store.MemoryStore.GetMemoriesNeedingReindex, and records each sweep's
// outcome as a checkpoint (plus a consistency log when drift persists).
type Sweeper struct {
	memories       store.MemoryStore
	embedder       embedder.Embedder
	vectors        vectorindex.Adapter
	checkpoints    CheckpointStore
	batchSize      int
	driftThreshold float64
}

// New builds a Sweeper. batchSize defaults to 100, driftThreshold to 0.2
// if <= 0. checkpoints may be nil to skip persisting sweep bookkeeping.
func New(memories store.MemoryStore, emb embedder.Embedder, vectors vectorindex.Adapter, checkpoints CheckpointStore, batchSize int, driftThreshold float64) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if driftThreshold <= 0 {
		driftThreshold = 0.2
	}
	return &Sweeper{memories: memories, embedder: emb, vectors: vectors, checkpoints: checkpoints, batchSize: batchSize, driftThreshold: driftThreshold}
}

// Hook adapts Run to the search package's ReindexHook signature, letting
// the Hybrid Search Service trigger a sweep directly from its drift
// diagnostic without importing this package's concrete type.
func (s *Sweeper) Hook() func(ctx context.Context, user string) {
	return func(ctx context.Context, user string) {
		if _, err := s.Run(ctx, user); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("user", user).Msg("reindex sweep failed")
		}
	}
}

// Run re-embeds and re-indexes up to the sweeper's batch size of drifted
// memories for user, returning the number successfully reindexed.
func (s *Sweeper) Run(ctx context.Context, user string) (int, error) {
	items, err := s.memories.GetMemoriesNeedingReindex(ctx, user, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	log := observability.LoggerWithTrace(ctx)
	points := make([]vectorindex.Point, 0, len(items))
	reindexed := 0
	for i, it := range items {
		if i >= len(vectors) {
			break
		}
		vec := vectors[i]
		points = append(points, vectorindex.Point{
			MemoryID: it.MemoryID, UserID: it.UserID, Vector: vec,
			Tier: it.Tier, Status: it.Status, Content: it.Text,
			Uses: it.Stats.Uses, Wilson: it.Stats.WilsonScore,
		})
		if err := s.memories.UpdateEmbeddingInfo(ctx, it.UserID, it.MemoryID, memitem.EmbeddingMeta{
			ModelID:       s.embedder.Name(),
			Dimensions:    len(vec),
			VectorHash:    vectorHash(vec),
			LastIndexedAt: time.Now(),
		}); err != nil {
			log.Warn().Err(err).Str("memory_id", it.MemoryID).Msg("reindex: embedding info update failed")
			continue
		}
		reindexed++
	}

	if err := s.vectors.Upsert(ctx, points); err != nil {
		return 0, err
	}

	now := time.Now()
	if s.checkpoints != nil {
		if err := s.checkpoints.RecordCheckpoint(ctx, Checkpoint{UserID: user, Reindexed: reindexed, RanAt: now}); err != nil {
			log.Warn().Err(err).Msg("reindex: checkpoint record failed")
		}
		s.recordDriftIfPersists(ctx, user, now)
	}
	return reindexed, nil
}

// recordDriftIfPersists compares the store's active count against the
// vector index's count after a sweep; if drift still exceeds threshold,
// the sweep didn't catch up (more items are dirty than the batch covered)
// and that fact is logged for operators to see without re-running search.
func (s *Sweeper) recordDriftIfPersists(ctx context.Context, user string, ranAt time.Time) {
	active, err := s.memories.CountActive(ctx, user)
	if err != nil || active == 0 {
		return
	}
	indexed, err := s.vectors.Count(ctx, user)
	if err != nil {
		return
	}
	drift := float64(active-indexed) / float64(active)
	if drift <= s.driftThreshold {
		return
	}
	if err := s.checkpoints.RecordConsistencyLog(ctx, ConsistencyLog{UserID: user, Active: active, Indexed: indexed, Drift: drift, RanAt: ranAt}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("reindex: consistency log record failed")
	}
}

// vectorHash returns a stable content hash of an embedding, used to detect
// whether re-embedding the same text actually produced a different vector.
func vectorHash(vec []float32) string {
	var buf bytes.Buffer
	for _, f := range vec {
		binary.Write(&buf, binary.LittleEndian, f) //nolint:errcheck
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
