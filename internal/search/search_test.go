package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/breaker"
	"synapse/internal/lexical"
	"synapse/internal/memitem"
	"synapse/internal/rerank"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

type fakeVectorBackend struct {
	points map[string]vectorindex.Point
	err    error
}

func newFakeVectorBackend() *fakeVectorBackend {
	return &fakeVectorBackend{points: map[string]vectorindex.Point{}}
}

func (f *fakeVectorBackend) Upsert(_ context.Context, points []vectorindex.Point) error {
	if f.err != nil {
		return f.err
	}
	for _, p := range points {
		f.points[p.MemoryID] = p
	}
	return nil
}

func (f *fakeVectorBackend) Delete(_ context.Context, userID string, ids []string) error {
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVectorBackend) Search(_ context.Context, p vectorindex.SearchParams) ([]vectorindex.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []vectorindex.Result
	for _, pt := range f.points {
		if pt.UserID != p.User || pt.Status != p.Status {
			continue
		}
		if len(p.FilterIDs) > 0 {
			match := false
			for _, id := range p.FilterIDs {
				if id == pt.MemoryID {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, vectorindex.Result{MemoryID: pt.MemoryID, Position: len(out), Score: 1.0, Tier: pt.Tier, Content: pt.Content, Uses: pt.Uses, Composite: pt.Wilson})
	}
	return out, nil
}

func (f *fakeVectorBackend) Count(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, p := range f.points {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeVectorBackend) FilterByEntities(_ context.Context, userID string, words []string, limit int) ([]string, error) {
	return nil, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeReranker struct {
	fn func(ctx context.Context, query string, candidates []rerank.Candidate) ([]rerank.Scored, error)
}

func (f fakeReranker) Rerank(ctx context.Context, query string, candidates []rerank.Candidate) ([]rerank.Scored, error) {
	return f.fn(ctx, query, candidates)
}

func newTestService(t *testing.T, s store.MemoryStore, vb *fakeVectorBackend, emb Embedder, rr rerank.Reranker) *Service {
	t.Helper()
	lex := lexical.New(s, breaker.New(breaker.Config{Name: "t-lex", FailureThreshold: 5}))
	vec := vectorindex.New(vb, breaker.New(breaker.Config{Name: "t-vec", FailureThreshold: 5}), time.Second)
	return New(lex, vec, emb, rr, Config{}, nil)
}

func TestSearch_FusesBothSourcesAndTierBoostsOutrankWorking(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()
	vb := newFakeVectorBackend()

	bookItem, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "docker compose networking guide", Tier: memitem.TierBooks})
	require.NoError(t, err)
	workingItem, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "docker compose quick note", Tier: memitem.TierWorking})
	require.NoError(t, err)

	vb.points[bookItem.MemoryID] = vectorindex.Point{MemoryID: bookItem.MemoryID, UserID: "u1", Status: memitem.StatusActive, Tier: memitem.TierBooks, Content: bookItem.Text}
	vb.points[workingItem.MemoryID] = vectorindex.Point{MemoryID: workingItem.MemoryID, UserID: "u1", Status: memitem.StatusActive, Tier: memitem.TierWorking, Content: workingItem.Text}

	svc := newTestService(t, s, vb, fakeEmbedder{vec: []float32{0.1, 0.2}}, nil)
	resp, err := svc.Search(ctx, Params{User: "u1", Query: "docker", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, bookItem.MemoryID, resp.Results[0].MemoryID, "books tier-boost (1.5) should outrank working (0.7) given equal rank contributions")
}

func TestSearch_EmbedFailureFallsBackToLexicalOnly(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()
	vb := newFakeVectorBackend()
	_, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "kubernetes pod eviction notes", Tier: memitem.TierHistory})
	require.NoError(t, err)

	svc := newTestService(t, s, vb, fakeEmbedder{err: assert.AnError}, nil)
	resp, err := svc.Search(ctx, Params{User: "u1", Query: "kubernetes", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Debug.Fallbacks, "lexical_only")
	assert.Equal(t, int64(0), resp.Debug.StageMs["vector_search"])
}

func TestSearch_ConversationSnippetExcludedFromWorkingTier(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()
	vb := newFakeVectorBackend()
	_, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "User: how do I restart docker", Tier: memitem.TierWorking})
	require.NoError(t, err)

	svc := newTestService(t, s, vb, nil, nil)
	resp, err := svc.Search(ctx, Params{User: "u1", Query: "docker", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_WilsonBlendOnlyAppliesAboveUsesFloor(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()
	vb := newFakeVectorBackend()

	seasoned, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "restart the broker cleanly", Tier: memitem.TierMemoryBank})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.RecordOutcome(ctx, "u1", seasoned.MemoryID, memitem.OutcomeWorked, 1.0)
		require.NoError(t, err)
	}
	fresh, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "restart the broker once", Tier: memitem.TierMemoryBank})
	require.NoError(t, err)

	svc := newTestService(t, s, vb, nil, nil)
	resp, err := svc.Search(ctx, Params{User: "u1", Query: "restart broker", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	var seasonedResult, freshResult *Result
	for i := range resp.Results {
		switch resp.Results[i].MemoryID {
		case seasoned.MemoryID:
			seasonedResult = &resp.Results[i]
		case fresh.MemoryID:
			freshResult = &resp.Results[i]
		}
	}
	require.NotNil(t, seasonedResult)
	require.NotNil(t, freshResult)
	assert.NotEqual(t, freshResult.FinalScore, seasonedResult.FinalScore)
}

func TestSearch_RerankBlendsOriginalAndCEScore(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()
	vb := newFakeVectorBackend()
	item, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "postgres connection pool tuning", Tier: memitem.TierPatterns})
	require.NoError(t, err)

	rr := fakeReranker{fn: func(_ context.Context, _ string, candidates []rerank.Candidate) ([]rerank.Scored, error) {
		out := make([]rerank.Scored, len(candidates))
		for i := range candidates {
			out[i] = rerank.Scored{Index: i, Score: 0.95}
		}
		return out, nil
	}}

	svc := newTestService(t, s, vb, nil, rr)
	resp, err := svc.Search(ctx, Params{User: "u1", Query: "postgres pool", Limit: 10, Rerank: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, item.MemoryID, resp.Results[0].MemoryID)
	assert.True(t, resp.Results[0].Reranked)
	assert.Greater(t, resp.Results[0].FinalScore, 0.0)
}

func TestSearch_MinScoreFiltersLowScoringResults(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()
	vb := newFakeVectorBackend()
	_, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "rare note about caching", Tier: memitem.TierWorking})
	require.NoError(t, err)

	svc := newTestService(t, s, vb, nil, nil)
	resp, err := svc.Search(ctx, Params{User: "u1", Query: "caching", Limit: 10, MinScore: 1.0})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
