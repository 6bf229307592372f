package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/pkg/models"
)

// DefaultMaxChunks caps the embedded index (50K). Exceeding it is an
// error nudging users toward pgvector or Qdrant.
const DefaultMaxChunks = 50_000

// Embedded is an in-memory chunk index using brute-force cosine
// similarity. Suitable for single-node runs and tests; production
// deployments use Qdrant or pgvector.
type Embedded struct {
	mu        sync.RWMutex
	chunks    map[string]*Chunk
	maxChunks int
}

// EmbeddedOption configures the embedded index.
type EmbeddedOption func(*Embedded)

// WithMaxChunks overrides the capacity cap.
func WithMaxChunks(max int) EmbeddedOption {
	return func(e *Embedded) { e.maxChunks = max }
}

func NewEmbedded(opts ...EmbeddedOption) *Embedded {
	e := &Embedded{
		chunks:    make(map[string]*Chunk),
		maxChunks: DefaultMaxChunks,
	}
	for _, opt := range opts {
		opt(e)
	}
	log.Info().Int("max_chunks", e.maxChunks).Msg("embedded vector index initialized")
	return e
}

func (e *Embedded) Kind() string { return "embedded" }

// Upsert indexes chunks, deriving DocID from source+content when unset.
func (e *Embedded) Upsert(_ context.Context, chunks []Chunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newCount := 0
	for i := range chunks {
		if chunks[i].DocID == "" {
			chunks[i].DocID = models.DocumentID(chunks[i].Source, chunks[i].Content)
		}
		if _, exists := e.chunks[chunks[i].DocID]; !exists {
			newCount++
		}
	}
	if total := len(e.chunks) + newCount; total > e.maxChunks {
		return fmt.Errorf("embedded index capacity exceeded: %d > %d", total, e.maxChunks)
	}

	for _, c := range chunks {
		cp := c
		e.chunks[cp.DocID] = &cp
	}
	return nil
}

func (e *Embedded) Search(_ context.Context, vector []float64, k int) ([]models.ScoredDocument, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	type scored struct {
		chunk *Chunk
		score float64
	}
	var candidates []scored
	for _, c := range e.chunks {
		if len(c.Vector) != len(vector) {
			continue
		}
		candidates = append(candidates, scored{chunk: c, score: cosineSimilarity(vector, c.Vector)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunk.DocID < candidates[j].chunk.DocID
	})
	if k > len(candidates) {
		k = len(candidates)
	}

	results := make([]models.ScoredDocument, k)
	for i := 0; i < k; i++ {
		c := candidates[i].chunk
		results[i] = models.ScoredDocument{
			DocID:      c.DocID,
			Source:     c.Source,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Content,
			Score:      candidates[i].score,
		}
	}
	return results, nil
}

func (e *Embedded) Count(_ context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.chunks), nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
