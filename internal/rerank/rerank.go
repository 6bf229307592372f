// Package rerank scores candidate chunks against the question with a
// cross-encoder served over HTTP (Cohere-style /rerank API shape, as
// exposed by local TEI or reranker sidecars).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// HTTPReranker posts {query, documents} and reorders candidates by the
// returned relevance scores.
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
}

// Option configures the reranker.
type Option func(*HTTPReranker)

// WithHTTPClient overrides the HTTP client (timeouts, tests).
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPReranker) { r.client = c }
}

func New(cfg config.RerankConfig, opts ...Option) *HTTPReranker {
	r := &HTTPReranker{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Rerank reorders docs by cross-encoder relevance. The returned slice
// carries the cross-encoder scores; documents the service did not score
// keep their position at the tail in original order.
func (r *HTTPReranker) Rerank(ctx context.Context, question string, docs []models.ScoredDocument) ([]models.ScoredDocument, error) {
	if len(docs) == 0 {
		return docs, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: question, Documents: texts, TopN: len(docs)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrRerank, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrRerank, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrRerank, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrRerank, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", contracts.ErrRerank, resp.StatusCode, respBody)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrRerank, err)
	}

	sort.SliceStable(parsed.Results, func(i, j int) bool {
		return parsed.Results[i].RelevanceScore > parsed.Results[j].RelevanceScore
	})

	out := make([]models.ScoredDocument, 0, len(docs))
	seen := make(map[int]bool, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(docs) || seen[res.Index] {
			continue
		}
		seen[res.Index] = true
		d := docs[res.Index]
		d.Score = res.RelevanceScore
		out = append(out, d)
	}
	for i, d := range docs {
		if !seen[i] {
			out = append(out, d)
		}
	}
	return out, nil
}
