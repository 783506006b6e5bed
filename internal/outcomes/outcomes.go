// Package outcomes implements §4.2's recordOutcome orchestration: validate,
// atomically update the backing MemoryStore, then append an audit record of
// the score delta. Audit append failures are logged and swallowed — the
// store update already committed and is the source of truth for scoring.
package outcomes

import (
	"context"
	"time"

	"synapse/internal/coreerr"
	"synapse/internal/memitem"
	"synapse/internal/observability"
	"synapse/internal/store"
)

// AuditRecord is one outcome-audit entry (§4.2 step 4).
type AuditRecord struct {
	MemoryID   string
	UserID     string
	Outcome    memitem.Outcome
	Context    map[string]string
	ScoreDelta float64
	NewWilson  float64
	RecordedAt time.Time
}

// AuditSink appends outcome-audit records to a durable analytical store.
type AuditSink interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// NoopAuditSink discards every record; used in tests and when no audit
// backend is configured.
type NoopAuditSink struct{}

func (NoopAuditSink) Append(context.Context, AuditRecord) error { return nil }

// Recorder wraps a MemoryStore with the full §4.2 orchestration.
type Recorder struct {
	store store.MemoryStore
	audit AuditSink
}

// NewRecorder builds a Recorder. A nil audit defaults to NoopAuditSink.
func NewRecorder(s store.MemoryStore, audit AuditSink) *Recorder {
	if audit == nil {
		audit = NoopAuditSink{}
	}
	return &Recorder{store: s, audit: audit}
}

// RecordOutcome validates the outcome kind, delegates the atomic
// increment-and-recompute to the store (which also handles step 5's
// legacy-stats initialisation — a record with Stats.Uses==0 behaves
// identically whether it is brand new or simply never scored before), and
// appends an audit record carrying the resulting Wilson delta.
func (r *Recorder) RecordOutcome(ctx context.Context, userID, memoryID string, outcome memitem.Outcome, reqContext map[string]string, timeWeight float64) (memitem.MemoryItem, error) {
	if !memitem.ValidOutcome(outcome) {
		return memitem.MemoryItem{}, coreerr.New("outcomes.RecordOutcome", coreerr.InvalidInput, coreerr.InvalidOutcome)
	}
	if timeWeight <= 0 {
		timeWeight = 1.0
	}

	before, found, err := r.store.GetByID(ctx, userID, memoryID)
	if err != nil {
		return memitem.MemoryItem{}, err
	}
	if !found {
		return memitem.MemoryItem{}, coreerr.New("outcomes.RecordOutcome", coreerr.NotFound, nil)
	}

	after, err := r.store.RecordOutcome(ctx, userID, memoryID, outcome, timeWeight)
	if err != nil {
		return memitem.MemoryItem{}, err
	}

	rec := AuditRecord{
		MemoryID:   memoryID,
		UserID:     userID,
		Outcome:    outcome,
		Context:    reqContext,
		ScoreDelta: after.Stats.WilsonScore - before.Stats.WilsonScore,
		NewWilson:  after.Stats.WilsonScore,
		RecordedAt: time.Now().UTC(),
	}
	if err := r.audit.Append(ctx, rec); err != nil {
		observability.LoggerWithTrace(ctx).Warn().
			Err(err).
			Str("memory_id", memoryID).
			Msg("outcome audit append failed; score update already committed")
	}

	return after, nil
}
