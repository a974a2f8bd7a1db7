package backends

import (
	"context"
	"net/http"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// Document is one retrieval hit.
type Document struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float64                `json:"score"`
}

// QueryResult is the retrieval service's answer.
type QueryResult struct {
	Documents        []Document `json:"documents"`
	TotalResults     int        `json:"total_results"`
	ProcessingTimeMS float64    `json:"processing_time_ms"`
}

// Retrieval talks to the RAG service.
type Retrieval struct {
	baseURL string
	hc      *http.Client
	logger  core.Logger
}

// NewRetrieval creates a retrieval client.
func NewRetrieval(baseURL string, hc *http.Client, logger core.Logger) *Retrieval {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Retrieval{baseURL: baseURL, hc: hc, logger: logger}
}

// Query searches for the topK most relevant documents.
func (r *Retrieval) Query(ctx context.Context, query string, topK int) (*QueryResult, error) {
	var out QueryResult
	err := postJSON(ctx, r.hc, r.baseURL+"/query", 5*time.Second, map[string]interface{}{
		"query": query,
		"top_k": topK,
	}, &out)
	if err != nil {
		r.logger.Warn("Retrieval query failed", map[string]interface{}{
			"operation": "retrieval_query",
			"error":     err.Error(),
		})
		return nil, err
	}
	return &out, nil
}

// Add stores a document with metadata.
func (r *Retrieval) Add(ctx context.Context, content string, metadata map[string]interface{}) error {
	return postJSON(ctx, r.hc, r.baseURL+"/add", 10*time.Second, map[string]interface{}{
		"content":  content,
		"metadata": metadata,
	}, nil)
}

// Inspect returns the service's collection overview.
func (r *Retrieval) Inspect(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := getJSON(ctx, r.hc, r.baseURL+"/inspect", 5*time.Second, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes the service.
func (r *Retrieval) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := getJSON(ctx, r.hc, r.baseURL+"/health", 5*time.Second, &out); err != nil {
		return nil, err
	}
	return out, nil
}
