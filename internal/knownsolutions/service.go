package knownsolutions

import (
	"context"

	"synapse/internal/memitem"
	"synapse/internal/search"
	"synapse/internal/store"
)

// fastPathScore is the synthetic FinalScore a known-solution hit carries,
// placing it above anything the hybrid pipeline itself could produce.
const fastPathScore = 999

// Service pins and recalls validated solutions, bypassing the Hybrid
// Search Service for problems a user has already solved and confirmed.
type Service struct {
	store    Store
	memories store.MemoryStore
}

// New builds a Service.
func New(st Store, memories store.MemoryStore) *Service {
	return &Service{store: st, memories: memories}
}

// RecordKnownSolution pins memoryID as the solution for problemHash,
// incrementing its success count if already pinned.
func (s *Service) RecordKnownSolution(ctx context.Context, userID, problemHash, memoryID string) (KnownSolution, error) {
	return s.store.Upsert(ctx, userID, problemHash, memoryID)
}

// GetKnownSolution returns a synthetic top-ranked search.Result for the
// pinned solution to problemHash, bypassing the hybrid pipeline entirely.
// It reports false if no pin exists, the pinned item has been deleted, or
// the pinned item is no longer in the patterns tier (demoted/retagged
// since it was pinned).
func (s *Service) GetKnownSolution(ctx context.Context, userID, problemHash string) (search.Result, bool, error) {
	ks, ok, err := s.store.Get(ctx, userID, problemHash)
	if err != nil || !ok {
		return search.Result{}, false, err
	}
	item, ok, err := s.memories.GetByID(ctx, userID, ks.MemoryID)
	if err != nil || !ok {
		return search.Result{}, false, err
	}
	if item.Tier != memitem.TierPatterns || item.Status != memitem.StatusActive {
		return search.Result{}, false, nil
	}
	return search.Result{
		MemoryID:   item.MemoryID,
		Tier:       item.Tier,
		Content:    item.Text,
		FinalScore: fastPathScore,
		Reranked:   false,
	}, true, nil
}
