// Package lexical is the BM25-like text adapter the Hybrid Search Service
// fans out to (§4.4). It is a thin, circuit-broken facade over the Memory
// Store's TextSearch/Query operations — the lexical index and the document
// of record are the same backing table, matching the teacher's
// postgres_search.go convention of a single tsvector-indexed table serving
// both storage and search.
package lexical

import (
	"context"
	"time"

	"synapse/internal/breaker"
	"synapse/internal/memitem"
	"synapse/internal/store"
)

// SearchParams parameterises a lexical search call.
type SearchParams struct {
	User      string
	Query     string
	Tiers     []memitem.Tier
	Status    memitem.Status
	Limit     int
	TimeoutMs int
	ExpandsOR []string
}

// Adapter is the lexical search contract consumed by the Hybrid Search
// Service.
type Adapter interface {
	Search(ctx context.Context, p SearchParams) ([]store.TextSearchResult, error)
	GetActiveCount(ctx context.Context, user string, tier memitem.Tier) (int64, error)
	GetMaxUpdatedAt(ctx context.Context, user string, tier memitem.Tier) (time.Time, bool, error)
}

type adapter struct {
	store store.MemoryStore
	cb    *breaker.Breaker
}

// New builds a lexical Adapter over the given store, guarded by cb.
func New(s store.MemoryStore, cb *breaker.Breaker) Adapter {
	return &adapter{store: s, cb: cb}
}

func (a *adapter) Search(ctx context.Context, p SearchParams) ([]store.TextSearchResult, error) {
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := p.Status
	if status == "" {
		status = memitem.StatusActive
	}

	return breaker.Do(ctx, a.cb, "lexical.Search", func(ctx context.Context) ([]store.TextSearchResult, error) {
		return a.store.TextSearch(ctx, p.User, p.Query, store.TextSearchOptions{
			Tiers:     p.Tiers,
			Status:    status,
			Limit:     p.Limit,
			ExpandsOR: p.ExpandsOR,
		})
	})
}

// GetActiveCount reports the number of active items, optionally scoped to a
// single tier, for cache-coherence comparisons against the vector index.
func (a *adapter) GetActiveCount(ctx context.Context, user string, tier memitem.Tier) (int64, error) {
	if tier == "" {
		return a.store.CountActive(ctx, user)
	}
	items, err := a.store.Query(ctx, store.QueryFilters{UserID: user, Tiers: []memitem.Tier{tier}})
	if err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

// GetMaxUpdatedAt returns the most recent UpdatedAt among active items,
// optionally scoped to a single tier. The bool return is false when there
// are no matching items.
func (a *adapter) GetMaxUpdatedAt(ctx context.Context, user string, tier memitem.Tier) (time.Time, bool, error) {
	var tiers []memitem.Tier
	if tier != "" {
		tiers = []memitem.Tier{tier}
	}
	items, err := a.store.Query(ctx, store.QueryFilters{
		UserID:   user,
		Tiers:    tiers,
		SortBy:   store.SortByUpdatedAt,
		SortDesc: true,
		Limit:    1,
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(items) == 0 {
		return time.Time{}, false, nil
	}
	return items[0].UpdatedAt, true, nil
}
