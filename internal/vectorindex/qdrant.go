package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/pkg/models"
)

// Qdrant is a chunk index on a Qdrant collection via its REST API.
// Payload fields: source, chunk_index, content.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// QdrantOption configures the Qdrant driver.
type QdrantOption func(*Qdrant)

// WithQdrantHTTPClient overrides the HTTP client (timeouts, proxies, tests).
func WithQdrantHTTPClient(c *http.Client) QdrantOption {
	return func(q *Qdrant) { q.client = c }
}

func NewQdrant(baseURL, apiKey, collection string, opts ...QdrantOption) *Qdrant {
	q := &Qdrant{
		baseURL:    baseURL,
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(q)
	}
	log.Info().Str("url", baseURL).Str("collection", collection).Msg("qdrant index initialized")
	return q
}

func (q *Qdrant) Kind() string { return "qdrant" }

type qdrantSearchRequest struct {
	Vector      []float64 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantPayload struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

type qdrantHit struct {
	ID      any           `json:"id"`
	Score   float64       `json:"score"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantHit `json:"result"`
	Status any         `json:"status"`
}

func (q *Qdrant) Search(ctx context.Context, vector []float64, k int) ([]models.ScoredDocument, error) {
	body, err := json.Marshal(qdrantSearchRequest{Vector: vector, Limit: k, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("qdrant marshal: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qdrant read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant search: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed qdrantSearchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("qdrant decode: %w", err)
	}

	results := make([]models.ScoredDocument, 0, len(parsed.Result))
	for _, hit := range parsed.Result {
		results = append(results, models.ScoredDocument{
			DocID:      models.DocumentID(hit.Payload.Source, hit.Payload.Content),
			Source:     hit.Payload.Source,
			ChunkIndex: hit.Payload.ChunkIndex,
			Text:       hit.Payload.Content,
			Score:      hit.Score,
		})
	}
	return results, nil
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float64     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantUpsertRequest struct {
	Points []qdrantPoint `json:"points"`
}

// Upsert writes chunks as points. Point ids are UUIDs derived from the
// document id, so re-ingesting the same chunk overwrites in place.
func (q *Qdrant) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(chunks))
	for _, c := range chunks {
		docID := c.DocID
		if docID == "" {
			docID = models.DocumentID(c.Source, c.Content)
		}
		points = append(points, qdrantPoint{
			ID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String(),
			Vector: c.Vector,
			Payload: qdrantPayload{
				Source:     c.Source,
				ChunkIndex: c.ChunkIndex,
				Content:    c.Content,
			},
		})
	}

	body, err := json.Marshal(qdrantUpsertRequest{Points: points})
	if err != nil {
		return fmt.Errorf("qdrant marshal: %w", err)
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	return nil
}

// HealthCheck verifies the collection exists and is reachable.
func (q *Qdrant) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant health: status %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
