package lexical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/breaker"
	"synapse/internal/coreerr"
	"synapse/internal/memitem"
	"synapse/internal/store"
)

func newTestAdapter() (Adapter, store.MemoryStore) {
	s := store.NewInMemory()
	cb := breaker.New(breaker.Config{Name: "lexical-test", FailureThreshold: 5})
	return New(s, cb), s
}

func TestSearch_ReturnsRankedResults(t *testing.T) {
	a, s := newTestAdapter()
	ctx := context.Background()
	_, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "docker compose restart loop", Tier: memitem.TierWorking})
	require.NoError(t, err)
	_, err = s.Store(ctx, store.StoreParams{UserID: "u1", Text: "kubernetes pod eviction", Tier: memitem.TierWorking})
	require.NoError(t, err)

	out, err := a.Search(ctx, SearchParams{User: "u1", Query: "docker", Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Rank)
}

func TestGetActiveCount_ScopesToTierWhenGiven(t *testing.T) {
	a, s := newTestAdapter()
	ctx := context.Background()
	_, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "x", Tier: memitem.TierWorking})
	require.NoError(t, err)
	_, err = s.Store(ctx, store.StoreParams{UserID: "u1", Text: "y", Tier: memitem.TierHistory})
	require.NoError(t, err)

	total, err := a.GetActiveCount(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	working, err := a.GetActiveCount(ctx, "u1", memitem.TierWorking)
	require.NoError(t, err)
	assert.Equal(t, int64(1), working)
}

func TestGetMaxUpdatedAt_FalseWhenEmpty(t *testing.T) {
	a, _ := newTestAdapter()
	_, ok, err := a.GetMaxUpdatedAt(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

type erroringStore struct {
	store.MemoryStore
	err error
}

func (e *erroringStore) TextSearch(context.Context, string, string, store.TextSearchOptions) ([]store.TextSearchResult, error) {
	return nil, e.err
}

func TestSearch_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	es := &erroringStore{err: assert.AnError}
	cb := breaker.New(breaker.Config{Name: "lexical-test-2", FailureThreshold: 1, OpenDurationMs: 60_000})
	a := New(es, cb)
	ctx := context.Background()

	_, err := a.Search(ctx, SearchParams{User: "u1", Query: "anything"})
	require.Error(t, err)

	_, err = a.Search(ctx, SearchParams{User: "u1", Query: "anything"})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.CircuitOpen))
}
