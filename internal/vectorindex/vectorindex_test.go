package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/breaker"
	"synapse/internal/coreerr"
	"synapse/internal/memitem"
)

// fakeBackend is an in-memory stand-in for Qdrant, used to exercise the
// adapter's scoping and breaker wiring without a live connection.
type fakeBackend struct {
	points map[string]Point
	err    error
}

func newFakeBackend() *fakeBackend { return &fakeBackend{points: map[string]Point{}} }

func (f *fakeBackend) Upsert(_ context.Context, points []Point) error {
	if f.err != nil {
		return f.err
	}
	for _, p := range points {
		f.points[p.MemoryID] = p
	}
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, userID string, memoryIDs []string) error {
	if f.err != nil {
		return f.err
	}
	for _, id := range memoryIDs {
		if p, ok := f.points[id]; ok && p.UserID == userID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeBackend) Search(_ context.Context, p SearchParams) ([]Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Result
	for _, pt := range f.points {
		if pt.UserID != p.User || pt.Status != p.Status {
			continue
		}
		out = append(out, Result{MemoryID: pt.MemoryID, Tier: pt.Tier, Content: pt.Content, Uses: pt.Uses, Composite: pt.Wilson})
	}
	return out, nil
}

func (f *fakeBackend) Count(_ context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, p := range f.points {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) FilterByEntities(_ context.Context, userID string, words []string, limit int) ([]string, error) {
	return nil, f.err
}

func TestAdapter_UpsertSearchDeleteRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	cb := breaker.New(breaker.Config{Name: "vec-test", FailureThreshold: 5})
	a := New(backend, cb, time.Second)
	ctx := context.Background()

	err := a.Upsert(ctx, []Point{{MemoryID: "m1", UserID: "u1", Tier: memitem.TierMemoryBank, Status: memitem.StatusActive, Wilson: 0.8}})
	require.NoError(t, err)

	results, err := a.Search(ctx, SearchParams{User: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].MemoryID)

	n, err := a.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Delete(ctx, "u1", []string{"m1"}))
	n, err = a.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAdapter_SearchDefaultsToActiveStatus(t *testing.T) {
	backend := newFakeBackend()
	backend.points["m1"] = Point{MemoryID: "m1", UserID: "u1", Status: memitem.StatusActive}
	cb := breaker.New(breaker.Config{Name: "vec-test-2", FailureThreshold: 5})
	a := New(backend, cb, time.Second)

	results, err := a.Search(context.Background(), SearchParams{User: "u1"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestAdapter_BreakerOpensOnRepeatedFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.err = assert.AnError
	cb := breaker.New(breaker.Config{Name: "vec-test-3", FailureThreshold: 1, OpenDurationMs: 60_000})
	a := New(backend, cb, time.Second)
	ctx := context.Background()

	_, err := a.Search(ctx, SearchParams{User: "u1"})
	require.Error(t, err)

	_, err = a.Search(ctx, SearchParams{User: "u1"})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.CircuitOpen))
}
