package knownsolutions

import (
	"context"
	"sync"
	"time"
)

// Store is the persistence substrate for known solutions. Implementations:
// memStore (in-process, test-friendly) and postgresStore (production).
type Store interface {
	// Upsert pins memoryID as the known solution for (userID, problemHash),
	// incrementing SuccessCount if the pin already exists.
	Upsert(ctx context.Context, userID, problemHash, memoryID string) (KnownSolution, error)
	Get(ctx context.Context, userID, problemHash string) (KnownSolution, bool, error)
}

type memKey struct{ userID, problemHash string }

type memStore struct {
	mu  sync.RWMutex
	rec map[memKey]*KnownSolution
}

// NewMemoryStore builds an in-process Store.
func NewMemoryStore() Store {
	return &memStore{rec: map[memKey]*KnownSolution{}}
}

func (s *memStore) Upsert(_ context.Context, userID, problemHash, memoryID string) (KnownSolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey{userID, problemHash}
	now := time.Now()
	r := s.rec[k]
	if r == nil {
		r = &KnownSolution{UserID: userID, ProblemHash: problemHash, CreatedAt: now}
		s.rec[k] = r
	}
	r.MemoryID = memoryID
	r.SuccessCount++
	r.UpdatedAt = now
	return *r, nil
}

func (s *memStore) Get(_ context.Context, userID, problemHash string) (KnownSolution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rec[memKey{userID, problemHash}]
	if !ok {
		return KnownSolution{}, false, nil
	}
	return *r, true, nil
}
