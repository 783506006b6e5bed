// Package kg implements the Knowledge Graph Service (§4.7): three
// coordinated per-user graphs — Routing (tier planning), Content (entity
// co-occurrence), and Action (action effectiveness per context) — plus the
// write-behind buffer that batches their high-frequency mutations.
package kg

import (
	"time"

	"synapse/internal/memitem"
	"synapse/internal/scoring"
)

// TierPlan is GetTierPlan's result.
type TierPlan struct {
	Tiers      []memitem.Tier
	Source     string // "routing_kg" | "default" | "explicit"
	Confidence float64
}

// Recommendation is the Action KG's classification of an action for a
// context, at the Wilson 0.6/0.4 thresholds.
type Recommendation string

const (
	RecommendPreferred Recommendation = "preferred"
	RecommendNeutral   Recommendation = "neutral"
	RecommendAvoid     Recommendation = "avoid"
)

// ContextType is the closed set detectContextType can return.
type ContextType string

const (
	ContextDocker            ContextType = "docker"
	ContextDebugging         ContextType = "debugging"
	ContextDatagovQuery      ContextType = "datagov_query"
	ContextDocRAG            ContextType = "doc_rag"
	ContextCodingHelp        ContextType = "coding_help"
	ContextWebSearch         ContextType = "web_search"
	ContextMemoryManagement  ContextType = "memory_management"
	ContextGeneral           ContextType = "general"
)

// ActionInsight pairs an action with its effectiveness classification.
type ActionInsight struct {
	Action         string
	Recommendation Recommendation
	Wilson         float64
}

// ContextInsights composes Routing, Action, and Content KG recommendations
// for the prompt builder (§4.7 getContextInsights).
type ContextInsights struct {
	TierPlan         TierPlan
	Actions          []ActionInsight
	RelatedEntities  []string
}

// WilsonAccumulator is a running (successSum, uses) pair a Wilson score is
// computed from on read.
type WilsonAccumulator struct {
	SuccessSum float64
	Uses       float64
}

// EntityNode is one Content KG node.
type EntityNode struct {
	Name        string
	MemoryIDs   map[string]struct{}
	QualitySum  float64
	Mentions    int64
}

// AvgQuality is the running quality_sum / mentions the spec names.
func (n EntityNode) AvgQuality() float64 {
	if n.Mentions == 0 {
		return 0
	}
	return n.QualitySum / float64(n.Mentions)
}

// ActionRecord is one Action KG effectiveness row, unique by
// (user, context_type, action, tier).
type ActionRecord struct {
	ContextType string
	Action      string
	Tier        memitem.Tier
	SuccessSum  float64
	Uses        float64
	Examples    []string // bounded to the last 20
}

func (r ActionRecord) Wilson() float64 {
	return scoring.Wilson(r.SuccessSum, r.Uses, scoring.DefaultZ)
}

// bufferedAction is one RecordAction call pending ApplyOutcomeToTurn.
type bufferedAction struct {
	Action    string
	Tier      memitem.Tier
	MemoryIDs []string
	ToolName  string
	At        time.Time
}

const maxActionExamples = 20
