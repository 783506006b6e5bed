package kg

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"synapse/internal/memitem"
	"synapse/internal/scoring"
)

// maxLiveTurns bounds the action-turn buffer "by live conversations" (§5):
// a turn that's StartTurn'd but never drained by ApplyOutcomeToTurn (an
// abandoned conversation) is evicted oldest-touched-first instead of
// growing the buffer unboundedly.
const maxLiveTurns = 2000

// Service is the Knowledge Graph Service (§4.7).
type Service struct {
	store  Store
	buffer *writeBuffer

	turnsMu sync.Mutex
	turns   *lru.Cache[string, *turnState] // "conv:turn" -> buffered actions for this turn
}

type turnState struct {
	user        string
	contextType string
	query       string
	actions     []bufferedAction
}

// New builds a Service over store. testMode disables the write buffer's
// ticker and flushes every enqueued mutation synchronously.
func New(store Store, testMode bool) *Service {
	turns, _ := lru.New[string, *turnState](maxLiveTurns) // only errs on size <= 0
	return &Service{
		store:  store,
		buffer: newWriteBuffer(store, testMode),
		turns:  turns,
	}
}

// Close stops the write-behind flush loop, flushing any pending mutations.
func (s *Service) Close() { s.buffer.Close() }

// Flush forces an immediate flush of the write-behind buffer.
func (s *Service) Flush(ctx context.Context) error { return s.buffer.Flush(ctx) }

// ---- Routing KG ----

// GetTierPlan returns which tiers to search for a user given extracted
// concepts (§4.7 getTierPlan).
func (s *Service) GetTierPlan(ctx context.Context, user string, concepts []string) (TierPlan, error) {
	if len(concepts) == 0 {
		return TierPlan{Tiers: memitem.AllTiers(), Source: "default", Confidence: 0.3}, nil
	}
	stats, err := s.store.RoutingStats(ctx, user, concepts)
	if err != nil {
		return TierPlan{}, err
	}
	if len(stats) == 0 {
		return TierPlan{Tiers: memitem.AllTiers(), Source: "default", Confidence: 0.3}, nil
	}

	type tierAgg struct {
		tier       memitem.Tier
		successSum float64
		uses       float64
	}
	aggByTier := map[memitem.Tier]*tierAgg{}
	var totalSuccess, totalUses float64
	for _, byTier := range stats {
		for tier, acc := range byTier {
			a := aggByTier[tier]
			if a == nil {
				a = &tierAgg{tier: tier}
				aggByTier[tier] = a
			}
			a.successSum += acc.SuccessSum
			a.uses += acc.Uses
			totalSuccess += acc.SuccessSum
			totalUses += acc.Uses
		}
	}

	aggs := make([]*tierAgg, 0, len(aggByTier))
	for _, a := range aggByTier {
		aggs = append(aggs, a)
	}
	sort.Slice(aggs, func(i, j int) bool {
		wi := scoring.Wilson(aggs[i].successSum, aggs[i].uses, scoring.DefaultZ)
		wj := scoring.Wilson(aggs[j].successSum, aggs[j].uses, scoring.DefaultZ)
		return wi > wj
	})

	tiers := []memitem.Tier{memitem.TierWorking}
	seen := map[memitem.Tier]bool{memitem.TierWorking: true}
	strong := 0
	for _, a := range aggs {
		if seen[a.tier] {
			continue
		}
		if strong >= 3 {
			break
		}
		w := scoring.Wilson(a.successSum, a.uses, scoring.DefaultZ)
		if w > 0.3 {
			tiers = append(tiers, a.tier)
			seen[a.tier] = true
			strong++
		}
	}
	if strong < 2 {
		return TierPlan{Tiers: memitem.AllTiers(), Source: "default", Confidence: 0.4}, nil
	}

	confidence := scoring.Wilson(totalSuccess, totalUses, scoring.DefaultZ)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return TierPlan{Tiers: tiers, Source: "routing_kg", Confidence: confidence}, nil
}

// UpdateRoutingStats folds one routing outcome into the per-(concept,tier)
// Wilson stats for every concept×tier pair observed this turn.
func (s *Service) UpdateRoutingStats(user string, concepts []string, tiers []memitem.Tier, outcome memitem.Outcome) {
	if !memitem.ValidOutcome(outcome) || len(concepts) == 0 || len(tiers) == 0 {
		return
	}
	deltas := make([]RoutingDelta, 0, len(concepts)*len(tiers))
	for _, c := range concepts {
		for _, t := range tiers {
			deltas = append(deltas, RoutingDelta{Concept: c, Tier: t, Outcome: outcome})
		}
	}
	s.buffer.enqueueRouting(user, deltas)
}

// ---- Content KG ----

var entityStoplist = map[string]bool{
	// English common words capitalisation would otherwise catch (sentence starts).
	"the": true, "this": true, "that": true, "and": true, "but": true, "for": true,
	"with": true, "from": true, "your": true, "you": true, "please": true, "here": true,
	"there": true, "what": true, "when": true, "where": true, "which": true, "how": true,
	// Hebrew common words.
	"זה": true, "זאת": true, "אני": true, "אתה": true, "הוא": true, "היא": true,
	"אבל": true, "וגם": true, "כאן": true, "שם": true,
}

var entityBlocklist = map[string]bool{
	// Tool names and memory-system vocabulary, not domain entities.
	"search": true, "store": true, "memory": true, "tool": true, "assistant": true,
	"user": true, "system": true, "query": true, "result": true, "results": true,
	"tier": true, "working": true, "history": true, "patterns": true, "books": true,
}

const maxExtractedEntities = 10

// ExtractEntities heuristically yields up to 10 candidate entities:
// capitalised English tokens and Hebrew tokens, filtered through the
// bilingual stoplist and the operational blocklist (§4.7 extractEntities).
func ExtractEntities(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})

	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		if len(out) >= maxExtractedEntities {
			break
		}
		if isHebrewToken(f) {
			if len([]rune(f)) < 2 {
				continue
			}
			if entityStoplist[f] || entityBlocklist[f] {
				continue
			}
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
			continue
		}
		if isCapitalizedEnglishToken(f) {
			lower := strings.ToLower(f)
			if entityStoplist[lower] || entityBlocklist[lower] {
				continue
			}
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r >= 0x0590 && r <= 0x05FF: // Hebrew block
		return true
	default:
		return false
	}
}

func isHebrewToken(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}

func isCapitalizedEnglishToken(s string) bool {
	if len(s) < 3 {
		return false
	}
	r := rune(s[0])
	if r < 'A' || r > 'Z' {
		return false
	}
	for _, c := range s[1:] {
		if c < 'a' || c > 'z' {
			if c < 'A' || c > 'Z' {
				return false
			}
		}
	}
	return true
}

// UpdateContentKg enqueues node upserts and pairwise co-occurrence edges for
// the entities observed in one memory item (§4.7 updateContentKg).
func (s *Service) UpdateContentKg(user, memoryID string, entities []string, importance, confidence float64) {
	if len(entities) == 0 {
		return
	}
	s.buffer.enqueueEntities(user, []EntityDelta{{
		MemoryID: memoryID,
		Entities: entities,
		Quality:  importance * confidence,
	}})
}

const maxEntityBoostPerMemory = 0.5

// GetEntityBoosts returns a per-memory boost derived from its entities'
// average quality, capped at 0.5 per item (§4.7 getEntityBoosts).
func (s *Service) GetEntityBoosts(ctx context.Context, user string, memoryIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(memoryIDs))
	for _, id := range memoryIDs {
		names, err := s.store.GetEntitiesForMemory(ctx, user, id)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			continue
		}
		nodes, err := s.store.GetEntityNodes(ctx, user, names)
		if err != nil {
			return nil, err
		}
		var sum float64
		for _, n := range nodes {
			sum += n.AvgQuality() * 0.1
		}
		if sum > maxEntityBoostPerMemory {
			sum = maxEntityBoostPerMemory
		}
		out[id] = sum
	}
	return out, nil
}

// GetRelatedEntities traverses co-occurrence edges from labels and returns
// the top-quality neighbours (§4.7 getRelatedEntities).
func (s *Service) GetRelatedEntities(ctx context.Context, user string, labels []string, limit int) ([]string, error) {
	nodes, err := s.store.RelatedEntities(ctx, user, labels, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out, nil
}

// CleanupMemoryReferences removes memoryID from every entity node, then
// drops nodes (and their edges) left with no memory references (§4.7
// cleanupMemoryReferences).
func (s *Service) CleanupMemoryReferences(ctx context.Context, user, memoryID string) error {
	return s.store.RemoveMemoryFromEntities(ctx, user, memoryID)
}

// ---- Action KG ----

func turnKey(conversationID, turnID string) string { return conversationID + ":" + turnID }

// StartTurn allocates a per-turn action buffer (§4.7 startTurn). If the
// buffer is at capacity, the least-recently-touched turn is evicted.
func (s *Service) StartTurn(user, conversationID, turnID, contextType, query string) {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	s.turns.Add(turnKey(conversationID, turnID), &turnState{user: user, contextType: contextType, query: query})
}

// RecordAction appends one action to the current turn's buffer (§4.7
// recordAction). No-op if StartTurn was never called for this turn, or if
// it was since evicted for capacity.
func (s *Service) RecordAction(conversationID, turnID, action string, tier memitem.Tier, memoryIDs []string, toolName string) {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	t, ok := s.turns.Get(turnKey(conversationID, turnID))
	if !ok {
		return
	}
	t.actions = append(t.actions, bufferedAction{Action: action, Tier: tier, MemoryIDs: memoryIDs, ToolName: toolName})
}

// ApplyOutcomeToTurn drains the turn's buffer into Action KG upserts and
// discards it — exactly-once attribution relative to the outcome event
// (§4.7 applyOutcomeToTurn).
func (s *Service) ApplyOutcomeToTurn(conversationID, turnID string, outcome memitem.Outcome) {
	s.turnsMu.Lock()
	t, _ := s.turns.Get(turnKey(conversationID, turnID))
	s.turns.Remove(turnKey(conversationID, turnID))
	s.turnsMu.Unlock()

	if t == nil || !memitem.ValidOutcome(outcome) || len(t.actions) == 0 {
		return
	}
	deltas := make([]ActionDelta, 0, len(t.actions))
	for _, a := range t.actions {
		example := t.query
		deltas = append(deltas, ActionDelta{ContextType: t.contextType, Action: a.Action, Tier: a.Tier, Outcome: outcome, Example: example})
	}
	s.buffer.enqueueActions(t.user, deltas)
}

// ---- Context insights & detection ----

// GetContextInsights composes Routing, Action, and Content KG
// recommendations for the prompt builder (§4.7 getContextInsights).
func (s *Service) GetContextInsights(ctx context.Context, user, contextType string, concepts []string) (ContextInsights, error) {
	plan, err := s.GetTierPlan(ctx, user, concepts)
	if err != nil {
		return ContextInsights{}, err
	}

	records, err := s.store.GetActionEffectiveness(ctx, user, contextType)
	if err != nil {
		return ContextInsights{}, err
	}
	actions := make([]ActionInsight, 0, len(records))
	for _, r := range records {
		w := r.Wilson()
		rec := RecommendNeutral
		switch {
		case w >= 0.6:
			rec = RecommendPreferred
		case w < 0.4:
			rec = RecommendAvoid
		}
		actions = append(actions, ActionInsight{Action: r.Action, Recommendation: rec, Wilson: w})
	}

	related, err := s.GetRelatedEntities(ctx, user, concepts, 10)
	if err != nil {
		return ContextInsights{}, err
	}

	return ContextInsights{TierPlan: plan, Actions: actions, RelatedEntities: related}, nil
}

type contextRule struct {
	kind     ContextType
	keywords []string
}

// contextRules is the fixed ordered, bilingual precedence list (§4.7
// detectContextType).
var contextRules = []contextRule{
	{ContextDocker, []string{"docker", "container", "dockerfile", "docker-compose", "קונטיינר"}},
	{ContextDebugging, []string{"error", "exception", "stack trace", "traceback", "bug", "crash", "שגיאה", "באג"}},
	{ContextDatagovQuery, []string{"datagov", "data.gov", "dataset", "ckan", "מאגר נתונים"}},
	{ContextDocRAG, []string{"summarize this document", "pdf", "this paper", "this book", "מסמך"}},
	{ContextCodingHelp, []string{"function", "compile", "refactor", "unit test", "stack overflow", "קוד"}},
	{ContextWebSearch, []string{"search the web", "google this", "browse to", "חפש באינטרנט"}},
	{ContextMemoryManagement, []string{"remember this", "forget that", "update your memory", "זכור את זה"}},
}

// DetectContextType classifies a query (plus recent messages for context)
// using a fixed ordered bilingual rule list, returning the first match
// (§4.7 detectContextType).
func DetectContextType(query string, recentMessages []string) ContextType {
	haystack := strings.ToLower(query)
	for _, m := range recentMessages {
		haystack += " " + strings.ToLower(m)
	}
	for _, rule := range contextRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.kind
			}
		}
	}
	return ContextGeneral
}
