package outcomes

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/coreerr"
	"synapse/internal/memitem"
	"synapse/internal/store"
)

type fakeSink struct {
	mu      sync.Mutex
	records []AuditRecord
	failNext bool
}

func (f *fakeSink) Append(_ context.Context, rec AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.records = append(f.records, rec)
	return nil
}

func TestRecorder_RecordOutcome_AppendsAuditWithWilsonDelta(t *testing.T) {
	s := store.NewInMemory()
	sink := &fakeSink{}
	r := NewRecorder(s, sink)
	ctx := context.Background()

	item, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "x", Tier: memitem.TierPatterns})
	require.NoError(t, err)

	updated, err := r.RecordOutcome(ctx, "u1", item.MemoryID, memitem.OutcomeWorked, map[string]string{"tool": "search"}, 1.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Stats.Uses)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, item.MemoryID, rec.MemoryID)
	assert.Equal(t, memitem.OutcomeWorked, rec.Outcome)
	assert.InDelta(t, updated.Stats.WilsonScore-0.5, rec.ScoreDelta, 1e-9)
	assert.Equal(t, updated.Stats.WilsonScore, rec.NewWilson)
}

func TestRecorder_RecordOutcome_InvalidKindRejected(t *testing.T) {
	s := store.NewInMemory()
	r := NewRecorder(s, nil)
	_, err := r.RecordOutcome(context.Background(), "u1", "does-not-matter", memitem.Outcome("bogus"), nil, 1.0)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.InvalidInput))
}

func TestRecorder_RecordOutcome_NotFound(t *testing.T) {
	s := store.NewInMemory()
	r := NewRecorder(s, nil)
	_, err := r.RecordOutcome(context.Background(), "u1", "missing", memitem.OutcomeWorked, nil, 1.0)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestRecorder_RecordOutcome_SurvivesAuditFailure(t *testing.T) {
	s := store.NewInMemory()
	sink := &fakeSink{failNext: true}
	r := NewRecorder(s, sink)
	ctx := context.Background()

	item, err := s.Store(ctx, store.StoreParams{UserID: "u1", Text: "x", Tier: memitem.TierWorking})
	require.NoError(t, err)

	updated, err := r.RecordOutcome(ctx, "u1", item.MemoryID, memitem.OutcomeFailed, nil, 1.0)
	require.NoError(t, err, "audit sink failure must not fail the already-committed score update")
	assert.Equal(t, int64(1), updated.Stats.Uses)
	assert.Empty(t, sink.records)
}
