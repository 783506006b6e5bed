// Package vectorindex is the Vector Index Adapter (§4.5): upsert/delete/
// search/count/filterByEntities over a Qdrant collection, generalised from
// the teacher's generic VectorStore (single id/vector/string-metadata) to
// per-user, per-tier, per-status scoped points carrying the payload
// {tier, content, uses, wilson} (wilson being the composite score at index
// time) the Hybrid Search Service needs for its Wilson blend (§4.6 step 6).
package vectorindex

import (
	"context"
	"time"

	"synapse/internal/breaker"
	"synapse/internal/memitem"
)

// Point is one vector-indexed memory item.
type Point struct {
	MemoryID  string
	UserID    string
	Vector    []float32
	Tier      memitem.Tier
	Status    memitem.Status
	Content   string // item text, returned as the search hit's content
	Uses      int64
	Wilson    float64 // composite_score at index time
}

// SearchParams parameterises Search.
type SearchParams struct {
	User      string
	Vector    []float32
	Limit     int
	Tiers     []memitem.Tier
	Status    memitem.Status // defaults to active
	FilterIDs []string       // restrict to this id set (entity pre-filter result)
}

// Result is one vector hit, 0-based position per §4.5.
type Result struct {
	MemoryID  string
	Position  int
	Score     float64
	Tier      memitem.Tier
	Content   string
	Uses      int64
	Composite float64
}

// Adapter is the vector index contract consumed by the Hybrid Search
// Service and the Document Registry/reindex sweeper.
type Adapter interface {
	Upsert(ctx context.Context, points []Point) error
	Delete(ctx context.Context, userID string, memoryIDs []string) error
	Search(ctx context.Context, p SearchParams) ([]Result, error)
	Count(ctx context.Context, userID string) (int64, error)
	// FilterByEntities returns memory ids whose payload entities overlap
	// words; used for the optional entity pre-filter (§4.6 step 2).
	FilterByEntities(ctx context.Context, userID string, words []string, limit int) ([]string, error)
}

// Backend is the minimal capability a concrete vector database must expose;
// Adapter wraps it with scoping, breaker protection, and result shaping.
type Backend interface {
	Upsert(ctx context.Context, points []Point) error
	Delete(ctx context.Context, userID string, memoryIDs []string) error
	Search(ctx context.Context, p SearchParams) ([]Result, error)
	Count(ctx context.Context, userID string) (int64, error)
	FilterByEntities(ctx context.Context, userID string, words []string, limit int) ([]string, error)
}

type adapter struct {
	backend Backend
	cb      *breaker.Breaker
	timeout time.Duration
}

// New builds a circuit-broken vector index Adapter over backend.
func New(backend Backend, cb *breaker.Breaker, timeout time.Duration) Adapter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &adapter{backend: backend, cb: cb, timeout: timeout}
}

func (a *adapter) Upsert(ctx context.Context, points []Point) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := breaker.Do(ctx, a.cb, "vectorindex.Upsert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.backend.Upsert(ctx, points)
	})
	return err
}

func (a *adapter) Delete(ctx context.Context, userID string, memoryIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := breaker.Do(ctx, a.cb, "vectorindex.Delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.backend.Delete(ctx, userID, memoryIDs)
	})
	return err
}

func (a *adapter) Search(ctx context.Context, p SearchParams) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if p.Status == "" {
		p.Status = memitem.StatusActive
	}
	return breaker.Do(ctx, a.cb, "vectorindex.Search", func(ctx context.Context) ([]Result, error) {
		return a.backend.Search(ctx, p)
	})
}

func (a *adapter) Count(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return breaker.Do(ctx, a.cb, "vectorindex.Count", func(ctx context.Context) (int64, error) {
		return a.backend.Count(ctx, userID)
	})
}

func (a *adapter) FilterByEntities(ctx context.Context, userID string, words []string, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return breaker.Do(ctx, a.cb, "vectorindex.FilterByEntities", func(ctx context.Context) ([]string, error) {
		return a.backend.FilterByEntities(ctx, userID, words, limit)
	})
}
