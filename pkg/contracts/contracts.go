// Package contracts defines the capability interfaces the query pipeline
// is assembled from.
//
// The pipeline stages (router, retriever, answerer, verifier) depend on
// these interfaces, never on concrete drivers. Swapping a backend —
// Qdrant for pgvector, S3 logs for local files — is a single line change
// in the wiring code (pkg/server).
package contracts

import (
	"context"
	"time"

	"github.com/panrag/panrag/pkg/models"
)

// ── Vector Search ───────────────────────────────────────────

// Searcher runs similarity search over the chunk index.
// Implementations: internal/vectorindex.Qdrant, internal/vectorindex.PGVector,
// internal/vectorindex.Embedded (in-memory, for tests and single-node runs).
type Searcher interface {
	// Search returns the k nearest chunks for the embedded query,
	// ordered by descending score.
	Search(ctx context.Context, vector []float64, k int) ([]models.ScoredDocument, error)
}

// Embedder turns text into a dense vector.
// Implementation: internal/generation.Client (LM Studio / OpenAI-compatible).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ── Reranking ───────────────────────────────────────────────

// Reranker reorders candidates by cross-encoder relevance to the question.
// Implementation: internal/rerank.HTTPReranker.
// A rerank failure is non-fatal: callers keep the original ordering.
type Reranker interface {
	Rerank(ctx context.Context, question string, docs []models.ScoredDocument) ([]models.ScoredDocument, error)
}

// ── Graph Expansion ─────────────────────────────────────────

// GraphExpander returns the sequence neighbors (previous/next chunk) of
// a retrieved chunk. Implementation: internal/graph.Neo4j.
// Expansion is best-effort; failures never fail retrieval.
type GraphExpander interface {
	Neighbors(ctx context.Context, docID string) ([]models.ScoredDocument, error)
}

// ── Generation ──────────────────────────────────────────────

// Generator produces completions from the configured chat model.
// Implementation: internal/generation.Client.
type Generator interface {
	// Generate runs a system+user prompt through the chat model with the
	// given decoding profile and returns the raw completion text.
	Generate(ctx context.Context, system, user string, profile models.GenerationProfile) (*models.Answer, error)
}

// ── Conversation Memory ─────────────────────────────────────

// TurnBuffer is the fast, bounded, recency-ordered conversation window.
// Implementation: internal/memory.RedisBuffer.
type TurnBuffer interface {
	// Append adds a turn to the conversation window, evicting the oldest
	// entries beyond the configured capacity.
	Append(ctx context.Context, turn models.ConversationTurn) error

	// Recent returns the buffered turns, oldest first.
	Recent(ctx context.Context, convID string) ([]models.ConversationTurn, error)

	// NextSeq atomically allocates the next sequence number for a conversation.
	NextSeq(ctx context.Context, convID string) (int64, error)

	// SetSeq raises the sequence counter to at least seq, used after backfill.
	SetSeq(ctx context.Context, convID string, seq int64) error
}

// TurnLog is the durable per-day append log of conversation turns.
// Implementations: internal/memlog.S3Log, internal/memlog.LocalLog.
type TurnLog interface {
	// Append adds a turn to the day log for its conversation.
	Append(ctx context.Context, turn models.ConversationTurn) error

	// ReadDay returns the turns logged for a conversation on the given day,
	// in file order. A missing day log returns an empty slice, not an error.
	ReadDay(ctx context.Context, convID string, day time.Time) ([]models.ConversationTurn, error)
}

// ── Observability ───────────────────────────────────────────

// EventSink receives one structured event per pipeline stage transition.
// Implementation: internal/observability.LogSink (zerolog NDJSON).
// Sinks must never fail the pipeline.
type EventSink interface {
	Emit(ctx context.Context, event string, traceID string, fields map[string]any)
}
