// Package rerank is the optional cross-encoder reranking stage (§4.6 step
// 5): a small HTTP client that posts {query, documents[]} to an external
// reranker endpoint and accepts either a `score` or `relevance_score` field
// per result, circuit-broken and hard-timed out like every other external
// dependency the core depends on (§5).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"synapse/internal/breaker"
	"synapse/internal/coreerr"
	"synapse/internal/observability"
)

// Candidate is one document submitted for reranking.
type Candidate struct {
	ID   string
	Text string
}

// Scored is a reranked candidate, carrying the original index so callers
// can map back onto their own result slice.
type Scored struct {
	Index int
	Score float64
}

// Reranker scores a query against a batch of candidate documents.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}

// NoopReranker leaves input order and scores untouched; used when no
// reranker endpoint is configured.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Scored, error) {
	out := make([]Scored, len(candidates))
	for i := range candidates {
		out[i] = Scored{Index: i, Score: 0}
	}
	return out, nil
}

// Config configures the HTTP cross-encoder client.
type Config struct {
	Endpoint       string // base URL; POSTs to Endpoint + "/v1/rerank"
	APIKey         string
	TimeoutMs      int
	MaxInputChars  int // documents longer than this are truncated before sending
}

type httpReranker struct {
	client        *http.Client
	endpoint      string
	apiKey        string
	timeout       time.Duration
	maxInputChars int
	cb            *breaker.Breaker
}

// New builds a circuit-broken HTTP reranker client. Returns NoopReranker
// if cfg.Endpoint is blank so callers can wire it unconditionally.
func New(cfg Config, cb *breaker.Breaker) Reranker {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return NoopReranker{}
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	maxInputChars := cfg.MaxInputChars
	if maxInputChars <= 0 {
		maxInputChars = 2000
	}
	return &httpReranker{
		client:        observability.NewHTTPClient(nil),
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		timeout:       timeout,
		maxInputChars: maxInputChars,
		cb:            cb,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index          int      `json:"index"`
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

func (r *httpReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = truncate(c.Text, r.maxInputChars)
	}

	return breaker.Do(ctx, r.cb, "rerank.Rerank", func(ctx context.Context) ([]Scored, error) {
		return r.call(ctx, query, docs)
	})
}

func (r *httpReranker) call(ctx context.Context, query string, docs []string) ([]Scored, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, coreerr.New("rerank.call", coreerr.SerializationError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, coreerr.New("rerank.call", coreerr.TransientStoreError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, coreerr.New("rerank.call", coreerr.TransientStoreError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, coreerr.New("rerank.call", coreerr.TransientStoreError, fmt.Errorf("reranker returned status %d", resp.StatusCode))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, coreerr.New("rerank.call", coreerr.SerializationError, err)
	}

	out := make([]Scored, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		var score float64
		switch {
		case res.Score != nil:
			score = *res.Score
		case res.RelevanceScore != nil:
			score = *res.RelevanceScore
		default:
			continue
		}
		out = append(out, Scored{Index: res.Index, Score: score})
	}
	return out, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
