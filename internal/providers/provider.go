// Package providers calls the external legal search services that a
// workflow's search step fans out to.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider is one configured search service.
type Provider struct {
	ID           string  `toml:"id" json:"id"`
	URL          string  `toml:"url" json:"url"`
	Jurisdiction string  `toml:"jurisdiction" json:"jurisdiction"`
	RateLimit    float64 `toml:"rate_limit" json:"rate_limit"`
	Burst        int     `toml:"burst" json:"burst"`
}

func (p Provider) validate() error {
	if p.ID == "" {
		return fmt.Errorf("provider id required")
	}
	if p.URL == "" {
		return fmt.Errorf("provider %s: url required", p.ID)
	}
	return nil
}

// SearchRequest is the body of POST {url}/api/v1/search.
type SearchRequest struct {
	Query               string  `json:"query"`
	Context             string  `json:"context,omitempty"`
	MaxResults          int     `json:"max_results"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// normalize trims whitespace and applies limits so equivalent requests
// share a cache entry.
func (r SearchRequest) normalize(maxResults int, threshold float64) SearchRequest {
	r.Query = strings.Join(strings.Fields(r.Query), " ")
	r.Context = strings.TrimSpace(r.Context)
	if r.MaxResults <= 0 {
		r.MaxResults = maxResults
	}
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = threshold
	}
	return r
}

// SearchResult is one retrieved passage.
type SearchResult struct {
	ChunkID        string         `json:"chunk_id"`
	SourceDocument string         `json:"source_document"`
	Content        string         `json:"content"`
	RelevanceScore float64        `json:"relevance_score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SearchResponse is a provider's answer.
type SearchResponse struct {
	Jurisdiction string         `json:"jurisdiction"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	SearchTime   float64        `json:"search_time"`
}

// Decode parses a provider payload as returned through the dispatcher.
func Decode(data json.RawMessage) (SearchResponse, error) {
	var resp SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return SearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return resp, nil
}

// Health is the result of probing a provider's health endpoint.
type Health struct {
	ID           string        `json:"id"`
	Jurisdiction string        `json:"jurisdiction"`
	Healthy      bool          `json:"healthy"`
	Latency      time.Duration `json:"latency_ns"`
	Error        string        `json:"error,omitempty"`
}
