package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/breaker"
	"synapse/internal/coreerr"
)

func TestNoopReranker_PreservesOrderWithZeroScores(t *testing.T) {
	r := NoopReranker{}
	out, err := r.Rerank(context.Background(), "q", []Candidate{{Text: "a"}, {Text: "b"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].Index)
	assert.Equal(t, 1, out[1].Index)
	assert.Equal(t, 0.0, out[0].Score)
}

func TestNew_BlankEndpointReturnsNoop(t *testing.T) {
	r := New(Config{}, nil)
	_, ok := r.(NoopReranker)
	assert.True(t, ok)
}

func TestHTTPReranker_AcceptsScoreOrRelevanceScoreField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body rerankRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		assert.Equal(t, "docker restart loop", body.Query)
		require.Len(t, body.Documents, 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 1, "relevance_score": 0.9},
				{"index": 0, "score": 0.2},
			},
		})
	}))
	defer srv.Close()

	cb := breaker.New(breaker.Config{Name: "rerank-test", FailureThreshold: 5})
	r := New(Config{Endpoint: srv.URL}, cb)

	out, err := r.Rerank(context.Background(), "docker restart loop", []Candidate{
		{ID: "m1", Text: "first document"},
		{ID: "m2", Text: "second document"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Index)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 0, out[1].Index)
	assert.Equal(t, 0.2, out[1].Score)
}

func TestHTTPReranker_TruncatesOversizedDocuments(t *testing.T) {
	var receivedLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body rerankRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		receivedLen = len(body.Documents[0])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{{"index": 0, "score": 1.0}}})
	}))
	defer srv.Close()

	cb := breaker.New(breaker.Config{Name: "rerank-test-2", FailureThreshold: 5})
	r := New(Config{Endpoint: srv.URL, MaxInputChars: 10}, cb)

	longText := "this document is much longer than ten characters"
	_, err := r.Rerank(context.Background(), "q", []Candidate{{Text: longText}})
	require.NoError(t, err)
	assert.Equal(t, 10, receivedLen)
}

func TestHTTPReranker_NonOKStatusIsTransientStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := breaker.New(breaker.Config{Name: "rerank-test-3", FailureThreshold: 5})
	r := New(Config{Endpoint: srv.URL}, cb)

	_, err := r.Rerank(context.Background(), "q", []Candidate{{Text: "doc"}})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.TransientStoreError))
}

func TestHTTPReranker_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := breaker.New(breaker.Config{Name: "rerank-test-4", FailureThreshold: 1, OpenDurationMs: 60_000})
	r := New(Config{Endpoint: srv.URL}, cb)

	_, err := r.Rerank(context.Background(), "q", []Candidate{{Text: "doc"}})
	require.Error(t, err)

	_, err = r.Rerank(context.Background(), "q", []Candidate{{Text: "doc"}})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.CircuitOpen))
}
