package knownsolutions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/memitem"
	"synapse/internal/store"
)

func newTestService(t *testing.T) (*Service, store.MemoryStore) {
	t.Helper()
	mem := store.NewInMemory()
	return New(NewMemoryStore(), mem), mem
}

func TestRecordKnownSolution_IncrementsSuccessCountOnRepin(t *testing.T) {
	svc, mem := newTestService(t)
	item, err := mem.Store(context.Background(), store.StoreParams{UserID: "u1", Text: "use docker network create", Tier: memitem.TierPatterns})
	require.NoError(t, err)

	hash := ProblemHash("docker containers can't reach each other")
	first, err := svc.RecordKnownSolution(context.Background(), "u1", hash, item.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.SuccessCount)

	second, err := svc.RecordKnownSolution(context.Background(), "u1", hash, item.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.SuccessCount)
}

func TestGetKnownSolution_ReturnsSyntheticTopResult(t *testing.T) {
	svc, mem := newTestService(t)
	item, err := mem.Store(context.Background(), store.StoreParams{UserID: "u1", Text: "docker network create mynet", Tier: memitem.TierPatterns})
	require.NoError(t, err)

	hash := ProblemHash("Docker containers can't reach each other")
	_, err = svc.RecordKnownSolution(context.Background(), "u1", hash, item.MemoryID)
	require.NoError(t, err)

	res, ok, err := svc.GetKnownSolution(context.Background(), "u1", hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, item.MemoryID, res.MemoryID)
	assert.Equal(t, memitem.TierPatterns, res.Tier)
	assert.Equal(t, float64(999), res.FinalScore)
	assert.False(t, res.Reranked)
}

func TestGetKnownSolution_NoPinReturnsFalse(t *testing.T) {
	svc, _ := newTestService(t)
	_, ok, err := svc.GetKnownSolution(context.Background(), "u1", ProblemHash("never pinned"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetKnownSolution_DemotedOutOfPatternsTierIsIgnored(t *testing.T) {
	svc, mem := newTestService(t)
	item, err := mem.Store(context.Background(), store.StoreParams{UserID: "u1", Text: "a history-tier note", Tier: memitem.TierHistory})
	require.NoError(t, err)

	hash := ProblemHash("something")
	_, err = svc.RecordKnownSolution(context.Background(), "u1", hash, item.MemoryID)
	require.NoError(t, err)

	_, ok, err := svc.GetKnownSolution(context.Background(), "u1", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetKnownSolution_DeletedMemoryIsIgnored(t *testing.T) {
	svc, mem := newTestService(t)
	item, err := mem.Store(context.Background(), store.StoreParams{UserID: "u1", Text: "pin me", Tier: memitem.TierPatterns})
	require.NoError(t, err)

	hash := ProblemHash("deleted item problem")
	_, err = svc.RecordKnownSolution(context.Background(), "u1", hash, item.MemoryID)
	require.NoError(t, err)
	require.NoError(t, mem.Delete(context.Background(), "u1", item.MemoryID))

	_, ok, err := svc.GetKnownSolution(context.Background(), "u1", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProblemHash_NormalizesCaseAndWhitespace(t *testing.T) {
	a := ProblemHash("Docker   won't start")
	b := ProblemHash("docker won't start")
	assert.Equal(t, a, b)
}
