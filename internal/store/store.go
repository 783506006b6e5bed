// Package store implements the Memory Store: CRUD over memory items with
// versioning, text search, outcome recording, and the bookkeeping queries
// the Hybrid Search Service and KG service depend on.
//
// Every operation is wrapped with a per-operation timeout and never
// propagates a timeout/transient error into the request path as a panic —
// callers get an empty result or a *coreerr.Error they can inspect.
package store

import (
	"context"
	"time"

	"synapse/internal/memitem"
)

// StoreParams is the input to Store.
type StoreParams struct {
	UserID       string
	Text         string
	Summary      string
	Tags         []string
	Entities     []string
	Language     memitem.Language
	Tier         memitem.Tier
	AlwaysInject bool
	Source       memitem.Source
	Importance   float64
	Confidence   float64
	QualityScore float64
	Personality  memitem.PersonalityAttribution
	ExpiresAt    *time.Time
}

// UpdateParams is the input to Update. Nil/zero-value fields mean "leave
// unchanged" except where a pointer field makes the intent explicit.
type UpdateParams struct {
	MemoryID     string
	UserID       string
	Text         *string
	Summary      *string
	Tags         []string
	Entities     []string
	Tier         *memitem.Tier
	Status       *memitem.Status
	Importance   *float64
	Confidence   *float64
	QualityScore *float64
	AlwaysInject *bool
	ExpiresAt    *time.Time
}

// QueryFilters parameterises Query.
type QueryFilters struct {
	UserID    string
	Tiers     []memitem.Tier
	Statuses  []memitem.Status
	Tags      []string
	Entities  []string
	MinWilson float64
	SortBy    SortField
	SortDesc  bool
	Limit     int
	Offset    int
}

// SortField is the closed set of fields Query can sort by.
type SortField string

const (
	SortByUpdatedAt SortField = "updated_at"
	SortByCreatedAt SortField = "created_at"
	SortByWilson    SortField = "wilson_score"
	SortByUses      SortField = "uses"
)

// TextSearchOptions parameterises TextSearch.
type TextSearchOptions struct {
	Tiers     []memitem.Tier
	Status    memitem.Status // defaults to active
	Limit     int
	ExpandsOR []string // caller-supplied expansion terms, OR-combined
}

// TextSearchResult is one lexical hit, carrying the RRF-ready rank fields.
type TextSearchResult struct {
	MemoryID        string
	Rank            int // 1-based
	TextScore       float64
	NormalizedScore float64 // 1/(rank+60)
	Item            memitem.MemoryItem
}

// ActionOutcome is an append-only record for downstream Action KG rollups.
type ActionOutcome struct {
	UserID      string
	ConversationID string
	TurnID      string
	Action      string
	ContextType string
	Tier        memitem.Tier
	MemoryIDs   []string
	ToolName    string
	Outcome     memitem.Outcome
	RecordedAt  time.Time
}

// MemoryStore is the interface the Hybrid Search Service, KG service, and
// Document Registry consume. Implementations: postgresStore (production)
// and memStore (in-process, test-friendly).
type MemoryStore interface {
	Store(ctx context.Context, p StoreParams) (memitem.MemoryItem, error)
	Update(ctx context.Context, p UpdateParams) (memitem.MemoryItem, error)
	GetByID(ctx context.Context, userID, memoryID string) (memitem.MemoryItem, bool, error)
	Delete(ctx context.Context, userID, memoryID string) error
	Archive(ctx context.Context, userID, memoryID, reason string) (memitem.MemoryItem, error)

	Query(ctx context.Context, f QueryFilters) ([]memitem.MemoryItem, error)
	TextSearch(ctx context.Context, userID, query string, opts TextSearchOptions) ([]TextSearchResult, error)
	GetAlwaysInject(ctx context.Context, userID string) ([]memitem.MemoryItem, error)
	CountByTier(ctx context.Context, userID string) (map[memitem.Tier]int64, error)

	RecordOutcome(ctx context.Context, userID, memoryID string, outcome memitem.Outcome, timeWeight float64) (memitem.MemoryItem, error)
	RecordActionOutcome(ctx context.Context, ao ActionOutcome) error

	UpdateEmbeddingInfo(ctx context.Context, userID, memoryID string, meta memitem.EmbeddingMeta) error
	GetMemoriesNeedingReindex(ctx context.Context, userID string, limit int) ([]memitem.MemoryItem, error)

	GetVersionHistory(ctx context.Context, userID, memoryID string) ([]memitem.Version, error)

	// CountActive reports the number of active items for a user, used by
	// the zero-result diagnostic (spec §4.6 step 9).
	CountActive(ctx context.Context, userID string) (int64, error)
}

// defaultTimeout bounds every Postgres round trip issued by this package
// when the caller's context carries no deadline of its own.
const defaultTimeout = 2 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
