// Package vectorindex holds the chunk index drivers behind the
// contracts.Searcher interface: Qdrant over REST, PostgreSQL+pgvector,
// and an embedded brute-force store for development and tests.
package vectorindex

import "time"

// Chunk is an indexed document chunk with its embedding.
type Chunk struct {
	DocID      string            `json:"doc_id"`
	Source     string            `json:"source"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Vector     []float64         `json:"vector"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}
