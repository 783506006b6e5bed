package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"synapse/internal/coreerr"
	"synapse/internal/memitem"
	"synapse/internal/scoring"
)

// memStore is an in-process, mutex-guarded MemoryStore. It backs unit tests
// and any deployment that doesn't need cross-process durability, mirroring
// the teacher's memory_search.go/memory_graph.go/memory_vector.go
// in-memory-fallback convention.
type memStore struct {
	mu        sync.RWMutex
	items     map[string]*memitem.MemoryItem // memoryID -> item
	versions  map[string][]memitem.Version   // memoryID -> version history (oldest first)
	now       func() time.Time
}

// NewInMemory constructs an in-process MemoryStore.
func NewInMemory() MemoryStore {
	return &memStore{
		items:    make(map[string]*memitem.MemoryItem),
		versions: make(map[string][]memitem.Version),
		now:      time.Now,
	}
}

func (s *memStore) Store(_ context.Context, p StoreParams) (memitem.MemoryItem, error) {
	if p.UserID == "" {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.InvalidInput, errors.New("user_id required"))
	}
	tier := p.Tier
	if tier == "" {
		tier = memitem.TierWorking
	}
	if canon, ok := memitem.ParseTier(string(tier)); ok {
		tier = canon
	} else {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.InvalidInput, errors.New("unknown tier"))
	}

	now := s.now()
	item := memitem.MemoryItem{
		MemoryID:     uuid.NewString(),
		UserID:       p.UserID,
		Text:         p.Text,
		Summary:      p.Summary,
		Tags:         append([]string(nil), p.Tags...),
		Entities:     append([]string(nil), p.Entities...),
		Language:     p.Language,
		Tier:         tier,
		Status:       memitem.StatusActive,
		AlwaysInject: p.AlwaysInject,
		Source:       p.Source,
		Importance:   p.Importance,
		Confidence:   p.Confidence,
		QualityScore: p.QualityScore,
		Stats: memitem.Stats{
			WilsonScore: scoring.UninformedPrior,
		},
		CurrentVersion: 1,
		Personality:    p.Personality,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      p.ExpiresAt,
	}

	s.mu.Lock()
	s.items[item.MemoryID] = &item
	s.versions[item.MemoryID] = []memitem.Version{{
		MemoryID:  item.MemoryID,
		Version:   1,
		Kind:      memitem.VersionChangeUpdate,
		Text:      item.Text,
		Summary:   item.Summary,
		Tier:      item.Tier,
		Status:    item.Status,
		CreatedAt: now,
	}}
	s.mu.Unlock()

	return item, nil
}

func (s *memStore) Update(_ context.Context, p UpdateParams) (memitem.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[p.MemoryID]
	if !ok || cur.UserID != p.UserID {
		return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.NotFound, nil)
	}

	prevTier, prevStatus := cur.Tier, cur.Status
	next := *cur

	if p.Text != nil {
		next.Text = *p.Text
	}
	if p.Summary != nil {
		next.Summary = *p.Summary
	}
	if p.Tags != nil {
		next.Tags = append([]string(nil), p.Tags...)
	}
	if p.Entities != nil {
		next.Entities = append([]string(nil), p.Entities...)
	}
	if p.Tier != nil {
		canon, ok := memitem.ParseTier(string(*p.Tier))
		if !ok {
			return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.InvalidInput, errors.New("unknown tier"))
		}
		next.Tier = canon
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Importance != nil {
		next.Importance = *p.Importance
	}
	if p.Confidence != nil {
		next.Confidence = *p.Confidence
	}
	if p.QualityScore != nil {
		next.QualityScore = *p.QualityScore
	}
	if p.AlwaysInject != nil {
		next.AlwaysInject = *p.AlwaysInject
	}
	if p.ExpiresAt != nil {
		next.ExpiresAt = p.ExpiresAt
	}

	now := s.now()
	next.CurrentVersion = cur.CurrentVersion + 1
	next.UpdatedAt = now
	if next.Status == memitem.StatusArchived && prevStatus != memitem.StatusArchived {
		archivedAt := now
		next.ArchivedAt = &archivedAt
	}

	kind := memitem.ClassifyChange(prevTier, next.Tier, prevStatus, next.Status)
	s.versions[p.MemoryID] = append(s.versions[p.MemoryID], memitem.Version{
		MemoryID:  p.MemoryID,
		Version:   next.CurrentVersion,
		Kind:      kind,
		Text:      cur.Text, // snapshot of the PREVIOUS content
		Summary:   cur.Summary,
		Tier:      prevTier,
		Status:    prevStatus,
		CreatedAt: now,
	})

	s.items[p.MemoryID] = &next
	return next, nil
}

func (s *memStore) GetByID(_ context.Context, userID, memoryID string) (memitem.MemoryItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[memoryID]
	if !ok || it.UserID != userID {
		return memitem.MemoryItem{}, false, nil
	}
	return *it, true, nil
}

func (s *memStore) Delete(_ context.Context, userID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[memoryID]
	if !ok || it.UserID != userID {
		return nil // NotFound recovery: no escalation
	}
	delete(s.items, memoryID)
	delete(s.versions, memoryID)
	return nil
}

func (s *memStore) Archive(ctx context.Context, userID, memoryID, reason string) (memitem.MemoryItem, error) {
	status := memitem.StatusArchived
	_ = reason
	return s.Update(ctx, UpdateParams{MemoryID: memoryID, UserID: userID, Status: &status})
}

func (s *memStore) Query(_ context.Context, f QueryFilters) ([]memitem.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []memitem.Status{memitem.StatusActive}
	}
	statusSet := map[memitem.Status]bool{}
	for _, st := range statuses {
		statusSet[st] = true
	}
	tierSet := map[memitem.Tier]bool{}
	for _, t := range f.Tiers {
		tierSet[t] = true
	}
	now := s.now()

	var out []memitem.MemoryItem
	for _, it := range s.items {
		if it.UserID != f.UserID {
			continue
		}
		if !statusSet[it.Status] {
			continue
		}
		if len(tierSet) > 0 && !tierSet[it.Tier] {
			continue
		}
		if len(f.Tags) > 0 && !containsAll(it.Tags, f.Tags) {
			continue
		}
		if len(f.Entities) > 0 && !containsAny(it.Entities, f.Entities) {
			continue
		}
		if it.Stats.WilsonScore < f.MinWilson {
			continue
		}
		_ = now
		out = append(out, *it)
	}

	sortField := f.SortBy
	if sortField == "" {
		sortField = SortByUpdatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		var less bool
		switch sortField {
		case SortByCreatedAt:
			less = out[i].CreatedAt.Before(out[j].CreatedAt)
		case SortByWilson:
			less = out[i].Stats.WilsonScore < out[j].Stats.WilsonScore
		case SortByUses:
			less = out[i].Stats.Uses < out[j].Stats.Uses
		default:
			less = out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		if f.SortDesc {
			return !less && out[i].MemoryID != out[j].MemoryID
		}
		return less
	})

	return paginate(out, f.Offset, f.Limit), nil
}

func containsAll(have, want []string) bool {
	set := map[string]bool{}
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func containsAny(have, want []string) bool {
	set := map[string]bool{}
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

func paginate(items []memitem.MemoryItem, offset, limit int) []memitem.MemoryItem {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []memitem.MemoryItem{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// TextSearch scores by normalised term-overlap (a stand-in for Postgres
// ts_rank in the in-memory backend) and assigns 1-based ranks plus the RRF
// normalisedScore = 1/(rank+60) required by §4.4.
func (s *memStore) TextSearch(_ context.Context, userID, query string, opts TextSearchOptions) ([]TextSearchResult, error) {
	terms := queryTerms(query)
	for _, t := range opts.ExpandsOR {
		terms = append(terms, queryTerms(t)...)
	}
	if len(terms) == 0 {
		return nil, nil
	}

	status := opts.Status
	if status == "" {
		status = memitem.StatusActive
	}
	tierSet := map[memitem.Tier]bool{}
	for _, t := range opts.Tiers {
		tierSet[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		item  memitem.MemoryItem
		score float64
	}
	var cands []scored
	for _, it := range s.items {
		if it.UserID != userID || it.Status != status {
			continue
		}
		if len(tierSet) > 0 && !tierSet[it.Tier] {
			continue
		}
		score := termOverlapScore(it.Text+" "+it.Summary, terms)
		if score <= 0 {
			continue
		}
		cands = append(cands, scored{item: *it, score: score})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].item.MemoryID < cands[j].item.MemoryID
	})

	limit := opts.Limit
	if limit <= 0 || limit > len(cands) {
		limit = len(cands)
	}
	out := make([]TextSearchResult, 0, limit)
	for i := 0; i < limit; i++ {
		rank := i + 1
		out = append(out, TextSearchResult{
			MemoryID:        cands[i].item.MemoryID,
			Rank:            rank,
			TextScore:       cands[i].score,
			NormalizedScore: 1.0 / float64(rank+60),
			Item:            cands[i].item,
		})
	}
	return out, nil
}

func queryTerms(q string) []string {
	fields := strings.Fields(strings.ToLower(q))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func termOverlapScore(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	var hits float64
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return hits / float64(len(terms))
}

func (s *memStore) GetAlwaysInject(_ context.Context, userID string) ([]memitem.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []memitem.MemoryItem
	for _, it := range s.items {
		if it.UserID == userID && it.AlwaysInject && it.Status == memitem.StatusActive {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *memStore) CountByTier(_ context.Context, userID string) (map[memitem.Tier]int64, error) {
	out := make(map[memitem.Tier]int64, len(memitem.AllTiers()))
	for _, t := range memitem.AllTiers() {
		out[t] = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.UserID == userID {
			out[it.Tier]++
		}
	}
	return out, nil
}

func (s *memStore) RecordOutcome(_ context.Context, userID, memoryID string, outcome memitem.Outcome, timeWeight float64) (memitem.MemoryItem, error) {
	if !memitem.ValidOutcome(outcome) {
		return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.InvalidInput, coreerr.InvalidOutcome)
	}
	_ = timeWeight // reserved for audit-record weighting; does not change stats math

	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[memoryID]
	if !ok || it.UserID != userID {
		return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.NotFound, nil)
	}

	next := *it
	weight := memitem.SuccessWeight(outcome)
	next.Stats.Uses++
	switch outcome {
	case memitem.OutcomeWorked:
		next.Stats.Worked++
	case memitem.OutcomePartial:
		next.Stats.Partial++
	case memitem.OutcomeUnknown:
		next.Stats.Unknown++
	case memitem.OutcomeFailed:
		next.Stats.Failed++
	}
	next.Stats.SuccessCount += weight
	next.Stats.WilsonScore = scoring.Wilson(next.Stats.SuccessCount, float64(next.Stats.Uses), scoring.DefaultZ)
	next.Stats.SuccessRate = next.Stats.SuccessCount / float64(next.Stats.Uses)
	now := s.now()
	next.Stats.LastUsedAt = now
	next.UpdatedAt = now

	s.items[memoryID] = &next
	return next, nil
}

func (s *memStore) RecordActionOutcome(_ context.Context, ao ActionOutcome) error {
	// Append-only by contract; the in-memory backend has no separate
	// action_outcomes table to append to, so this is intentionally a no-op
	// beyond validation — the KG service is the durable consumer of action
	// outcomes via ApplyOutcomeToTurn, and production deployments route
	// RecordActionOutcome through the Postgres-backed store.
	if ao.UserID == "" || len(ao.MemoryIDs) == 0 {
		return coreerr.New("store.RecordActionOutcome", coreerr.InvalidInput, errors.New("missing user or memory ids"))
	}
	return nil
}

func (s *memStore) UpdateEmbeddingInfo(_ context.Context, userID, memoryID string, meta memitem.EmbeddingMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[memoryID]
	if !ok || it.UserID != userID {
		return coreerr.New("store.UpdateEmbeddingInfo", coreerr.NotFound, nil)
	}
	next := *it
	next.Embedding = meta
	s.items[memoryID] = &next
	return nil
}

func (s *memStore) GetMemoriesNeedingReindex(_ context.Context, userID string, limit int) ([]memitem.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []memitem.MemoryItem
	for _, it := range s.items {
		if it.UserID == userID && it.Status == memitem.StatusActive && it.NeedsReindex() {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetVersionHistory(_ context.Context, userID, memoryID string) ([]memitem.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[memoryID]
	if !ok || it.UserID != userID {
		return nil, nil
	}
	return append([]memitem.Version(nil), s.versions[memoryID]...), nil
}

func (s *memStore) CountActive(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, it := range s.items {
		if it.UserID == userID && it.Status == memitem.StatusActive {
			n++
		}
	}
	return n, nil
}
