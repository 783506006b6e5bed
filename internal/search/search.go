// Package search implements the Hybrid Search Service (§4.6): embed, an
// optional entity pre-filter, parallel vector+lexical retrieval, RRF fusion
// with tier-boost weighting, optional cross-encoder rerank, a Wilson blend
// for established memory_bank items, and a confidence label — all under a
// single end-to-end deadline.
package search

import (
	"context"
	"regexp"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"synapse/internal/lexical"
	"synapse/internal/memitem"
	"synapse/internal/observability"
	"synapse/internal/rerank"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

// Embedder is the minimal capability the search pipeline needs; it matches
// internal/rag/embedder.Embedder's EmbedBatch shape by duck typing so the
// pipeline doesn't need to import the full embedder package.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Params parameterises one Search call.
type Params struct {
	User            string
	Query           string
	Limit           int
	MinScore        float64
	Tiers           []memitem.Tier
	Entities        []string // caller-supplied extracted entities for the pre-filter
	EntityPreFilter bool
	Rerank          bool
}

// Result is one ranked hit.
type Result struct {
	MemoryID   string
	Tier       memitem.Tier
	Content    string
	FinalScore float64
	Reranked   bool
}

// Debug carries per-stage diagnostics for the caller, never the user.
type Debug struct {
	StageMs    map[string]int64
	Fallbacks  []string
	Errors     map[string]string
	Confidence string
}

// Response is search's full contract result.
type Response struct {
	Results []Result
	Debug   Debug
}

// ReindexHook is invoked when the zero-result diagnostic detects significant
// drift between the document store and the vector index for a user.
type ReindexHook func(ctx context.Context, user string)

// Config tunes the pipeline; zero values are replaced with defaults in New.
type Config struct {
	Deadline             time.Duration
	DefaultLimit         int
	CandidateMultiplier  int
	EntityPreFilterCap   int
	RerankK              int
	RerankMaxInputChars  int
	OriginalWeight       float64
	CEWeight             float64
	VectorModalityWeight float64
	TextModalityWeight   float64
	DriftThreshold       float64 // fraction of active items missing from the vector index
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = 15 * time.Second
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 4
	}
	if c.EntityPreFilterCap <= 0 {
		c.EntityPreFilterCap = 200
	}
	if c.RerankK <= 0 {
		c.RerankK = 20
	}
	if c.RerankMaxInputChars <= 0 {
		c.RerankMaxInputChars = 2000
	}
	if c.OriginalWeight <= 0 && c.CEWeight <= 0 {
		c.OriginalWeight = 0.7
		c.CEWeight = 0.3
	}
	if c.VectorModalityWeight <= 0 {
		c.VectorModalityWeight = 1.0
	}
	if c.TextModalityWeight <= 0 {
		c.TextModalityWeight = 1.0
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = 0.2
	}
	return c
}

// Service is the Hybrid Search Service.
type Service struct {
	lexical     lexical.Adapter
	vector      vectorindex.Adapter
	embedder    Embedder
	reranker    rerank.Reranker
	cfg         Config
	reindexHook ReindexHook
}

// New builds a Service. embedder, reranker and reindexHook may be nil; the
// pipeline falls back to lexical-only search, skips reranking, and skips the
// drift diagnostic's reindex trigger respectively.
func New(lex lexical.Adapter, vec vectorindex.Adapter, embedder Embedder, reranker rerank.Reranker, cfg Config, reindexHook ReindexHook) *Service {
	if reranker == nil {
		reranker = rerank.NoopReranker{}
	}
	return &Service{
		lexical:     lex,
		vector:      vec,
		embedder:    embedder,
		reranker:    reranker,
		cfg:         cfg.withDefaults(),
		reindexHook: reindexHook,
	}
}

// tierBoost is the fixed tier-boost multiplier table (§4.6 step 4).
func tierBoost(t memitem.Tier) float64 {
	switch t {
	case memitem.TierBooks:
		return 1.5
	case memitem.TierMemoryBank:
		return 1.3
	case memitem.TierPatterns:
		return 1.2
	case memitem.TierHistory:
		return 1.0
	case memitem.TierWorking:
		return 0.7
	case memitem.TierDatagovSchema:
		return 1.1
	case memitem.TierDatagovExpansion:
		return 1.0
	default:
		return 1.0
	}
}

var conversationSnippetPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^User:`),
	regexp.MustCompile(`^Assistant:`),
	regexp.MustCompile(`<think>`),
	regexp.MustCompile(`^Detailed Results:`),
	regexp.MustCompile(`^\[Tool Result\]`),
}

// isConversationSnippet reports whether a working-tier item's content looks
// like a raw transcript line rather than distilled knowledge, per the
// conversation-snippet filter (§4.6 step 4).
func isConversationSnippet(tier memitem.Tier, content string) bool {
	if tier != memitem.TierWorking {
		return false
	}
	for _, p := range conversationSnippetPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// candidate accumulates fusion state for one memory id across both sources.
type candidate struct {
	id      string
	tier    memitem.Tier
	content string
	uses    int64
	wilson  float64
	rrf     float64
	order   int // insertion order, for stable tie-breaking
}

// Search runs the full hybrid pipeline under a single end-to-end deadline.
func (s *Service) Search(ctx context.Context, p Params) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	debug := Debug{StageMs: map[string]int64{}, Errors: map[string]string{}}
	limit := p.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	// Step 1: embed.
	var vec []float32
	if s.embedder != nil {
		t0 := time.Now()
		vecs, err := s.embedder.EmbedBatch(ctx, []string{p.Query})
		debug.StageMs["embed"] = time.Since(t0).Milliseconds()
		switch {
		case err != nil:
			debug.Errors["embed"] = err.Error()
			debug.Fallbacks = append(debug.Fallbacks, "lexical_only")
		case len(vecs) > 0:
			vec = vecs[0]
		default:
			debug.Fallbacks = append(debug.Fallbacks, "lexical_only")
		}
	} else {
		debug.Fallbacks = append(debug.Fallbacks, "lexical_only")
	}

	// Step 2: optional entity pre-filter.
	var filterIDs []string
	if p.EntityPreFilter && len(p.Entities) > 0 && s.vector != nil {
		ids, err := s.vector.FilterByEntities(ctx, p.User, p.Entities, s.cfg.EntityPreFilterCap)
		if err != nil {
			debug.Errors["entity_prefilter"] = err.Error()
		} else if len(ids) > 0 {
			filterIDs = ids
		}
	}

	candidateLimit := limit * s.cfg.CandidateMultiplier

	// Step 3: parallel retrieval. Each source is skipped silently on error
	// (breaker-open or transient failure) rather than failing the request.
	var (
		textResults   []store.TextSearchResult
		vectorResults []vectorindex.Result
		vecErr, ftErr error
		vecMs, ftMs   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(vec) > 0 && s.vector != nil {
		g.Go(func() error {
			t0 := time.Now()
			res, err := s.vector.Search(gctx, vectorindex.SearchParams{
				User: p.User, Vector: vec, Limit: candidateLimit, Tiers: p.Tiers, FilterIDs: filterIDs,
			})
			vecMs = time.Since(t0).Milliseconds()
			if err != nil {
				vecErr = err
				return nil
			}
			vectorResults = res
			return nil
		})
	}
	if s.lexical != nil {
		g.Go(func() error {
			t0 := time.Now()
			res, err := s.lexical.Search(gctx, lexical.SearchParams{
				User: p.User, Query: p.Query, Tiers: p.Tiers, Limit: candidateLimit,
			})
			ftMs = time.Since(t0).Milliseconds()
			if err != nil {
				ftErr = err
				return nil
			}
			textResults = res
			return nil
		})
	}
	_ = g.Wait()
	debug.StageMs["vector_search"] = vecMs
	debug.StageMs["lexical_search"] = ftMs
	if vecErr != nil {
		debug.Errors["vector_search"] = vecErr.Error()
	}
	if ftErr != nil {
		debug.Errors["lexical_search"] = ftErr.Error()
	}

	// Step 4: RRF fusion with tier-boost and the conversation-snippet filter.
	cands := map[string]*candidate{}
	var order []string
	nextOrder := 0

	for _, r := range textResults {
		tier := r.Item.Tier
		content := r.Item.Text
		if isConversationSnippet(tier, content) {
			continue
		}
		contrib := tierBoost(tier) * s.cfg.TextModalityWeight * r.NormalizedScore
		c, ok := cands[r.MemoryID]
		if !ok {
			c = &candidate{id: r.MemoryID, tier: tier, content: content, uses: r.Item.Stats.Uses, wilson: r.Item.Stats.WilsonScore, order: nextOrder}
			nextOrder++
			cands[r.MemoryID] = c
			order = append(order, r.MemoryID)
		}
		c.rrf += contrib
	}
	for _, r := range vectorResults {
		if isConversationSnippet(r.Tier, r.Content) {
			continue
		}
		rank := r.Position + 1
		contrib := tierBoost(r.Tier) * s.cfg.VectorModalityWeight * (1.0 / float64(rank+60))
		c, ok := cands[r.MemoryID]
		if !ok {
			c = &candidate{id: r.MemoryID, tier: r.Tier, content: r.Content, uses: r.Uses, wilson: r.Composite, order: nextOrder}
			nextOrder++
			cands[r.MemoryID] = c
			order = append(order, r.MemoryID)
		}
		c.rrf += contrib
	}

	all := make([]*candidate, 0, len(order))
	for _, id := range order {
		all = append(all, cands[id])
	}

	finalScores := make(map[string]float64, len(all))
	for _, c := range all {
		finalScores[c.id] = c.rrf
	}

	// Step 5: optional cross-encoder rerank over the highest-rrf head slice.
	reranked := map[string]bool{}
	if p.Rerank && len(all) > 0 {
		byRRF := make([]*candidate, len(all))
		copy(byRRF, all)
		sort.SliceStable(byRRF, func(i, j int) bool { return byRRF[i].rrf > byRRF[j].rrf })

		k := s.cfg.RerankK
		if k > len(byRRF) {
			k = len(byRRF)
		}
		head := byRRF[:k]
		docs := make([]rerank.Candidate, len(head))
		for i, c := range head {
			docs[i] = rerank.Candidate{ID: c.id, Text: truncate(c.content, s.cfg.RerankMaxInputChars)}
		}

		t0 := time.Now()
		scored, err := s.reranker.Rerank(ctx, p.Query, docs)
		debug.StageMs["rerank"] = time.Since(t0).Milliseconds()
		if err != nil {
			debug.Errors["rerank"] = err.Error()
			debug.Fallbacks = append(debug.Fallbacks, "rerank_skipped")
		} else {
			for _, sc := range scored {
				if sc.Index < 0 || sc.Index >= len(head) {
					continue
				}
				c := head[sc.Index]
				blended := c.rrf*s.cfg.OriginalWeight + sc.Score*s.cfg.CEWeight
				if c.tier == memitem.TierMemoryBank && c.uses >= 3 {
					blended *= 1 + 0.2*c.wilson
				}
				finalScores[c.id] = blended
				reranked[c.id] = true
			}
		}
	}

	// Step 6: Wilson blend for established memory_bank items (uses >= 3
	// protects new items from being penalised before they have evidence).
	for _, c := range all {
		if c.tier == memitem.TierMemoryBank && c.uses >= 3 {
			finalScores[c.id] = 0.8*finalScores[c.id] + 0.2*c.wilson
		}
	}

	// Step 7: sort by finalScore descending, ties by insertion order.
	sort.SliceStable(all, func(i, j int) bool {
		si, sj := finalScores[all[i].id], finalScores[all[j].id]
		if si != sj {
			return si > sj
		}
		return all[i].order < all[j].order
	})

	results := make([]Result, 0, limit)
	for _, c := range all {
		fs := finalScores[c.id]
		if p.MinScore > 0 && fs < p.MinScore {
			continue
		}
		results = append(results, Result{MemoryID: c.id, Tier: c.tier, Content: c.content, FinalScore: fs, Reranked: reranked[c.id]})
		if len(results) >= limit {
			break
		}
	}

	// Step 8: confidence label.
	textCount, vecCount := len(textResults), len(vectorResults)
	var top float64
	if len(results) > 0 {
		top = results[0].FinalScore
	}
	noStageErrors := vecErr == nil && ftErr == nil
	onlyOneSourceWell := (textCount > 0) != (vecCount > 0) && (textCount >= 3 || vecCount >= 3)
	switch {
	case textCount > 0 && vecCount > 0 && noStageErrors && top > 0.7:
		debug.Confidence = "high"
	case top > 0.4 || onlyOneSourceWell:
		debug.Confidence = "medium"
	default:
		debug.Confidence = "low"
	}

	// Step 9: fire-and-forget zero-result diagnostic; never blocks the response.
	go s.runDriftDiagnostic(p.User)

	return Response{Results: results, Debug: debug}, nil
}

func (s *Service) runDriftDiagnostic(user string) {
	if s.lexical == nil || s.vector == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	active, err := s.lexical.GetActiveCount(ctx, user, "")
	if err != nil {
		return
	}
	indexed, err := s.vector.Count(ctx, user)
	if err != nil {
		return
	}
	if active == 0 {
		return
	}
	drift := float64(active-indexed) / float64(active)
	if drift <= s.cfg.DriftThreshold {
		return
	}
	observability.LoggerWithTrace(ctx).Warn().
		Str("user", user).
		Int64("active", active).
		Int64("indexed", indexed).
		Msg("vector index drift exceeds threshold; reindex recommended")
	if s.reindexHook != nil {
		s.reindexHook(ctx, user)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
