// Package retriever executes a retrieval decision: vector search,
// conditional cross-encoder rerank, best-effort graph expansion, and the
// merge that produces one deduplicated, rank-ordered evidence set.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// graphLookupConcurrency bounds parallel neighbor queries per request.
const graphLookupConcurrency = 4

// graphScoreStep is subtracted from the weakest organic score to build
// the synthetic score for graph-injected neighbors, so they sort below
// everything retrieved by similarity.
const graphScoreStep = 0.01

type Retriever struct {
	search  contracts.Searcher
	rerank  contracts.Reranker      // nil disables reranking
	graph   contracts.GraphExpander // nil disables expansion
	cfg     config.RerankConfig
	maxDocs int
}

func New(search contracts.Searcher, rerank contracts.Reranker, graph contracts.GraphExpander, cfg config.RerankConfig, maxDocs int) *Retriever {
	if maxDocs <= 0 {
		maxDocs = 8
	}
	return &Retriever{search: search, rerank: rerank, graph: graph, cfg: cfg, maxDocs: maxDocs}
}

// Retrieve runs the plan in d against the index. Rerank and graph
// failures degrade gracefully; only the vector search itself is fatal.
func (r *Retriever) Retrieve(ctx context.Context, q models.Query, vector []float64, d models.RetrievalDecision, sig models.ConfidenceSignal) (*models.RetrievalResult, error) {
	start := time.Now()
	docs, err := r.search.Search(ctx, vector, d.K)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrRetrieval, err)
	}
	res := &models.RetrievalResult{}
	res.Latency.RetrieveMs = time.Since(start).Milliseconds()

	for i := range docs {
		if docs[i].DocID == "" {
			docs[i].DocID = models.DocumentID(docs[i].Source, docs[i].Text)
		}
	}

	if r.shouldRerank(d, sig) && len(docs) > 1 {
		rstart := time.Now()
		reranked, rerr := r.rerank.Rerank(ctx, q.Text, docs)
		res.Latency.RerankMs = time.Since(rstart).Milliseconds()
		if rerr != nil {
			log.Warn().Err(rerr).Str("trace_id", q.TraceID).Msg("rerank failed, keeping vector order")
		} else {
			docs = reranked
			res.Reranked = true
		}
	}

	var neighbors []models.ScoredDocument
	if d.UseGraph && r.graph != nil && len(docs) > 0 {
		gstart := time.Now()
		neighbors = r.expand(ctx, q.TraceID, docs)
		res.Latency.GraphMs = time.Since(gstart).Milliseconds()
	}

	res.Documents = r.merge(docs, neighbors)
	return res, nil
}

// shouldRerank applies the rerank gate: the router must have flagged the
// query as a candidate, and the signal must look genuinely uncertain on
// every axis. Strong evidence skips the cross-encoder round trip.
func (r *Retriever) shouldRerank(d models.RetrievalDecision, sig models.ConfidenceSignal) bool {
	return r.rerank != nil &&
		d.RerankCandidate &&
		sig.Confidence < r.cfg.ConfThreshold &&
		sig.TopScore < r.cfg.TopThreshold &&
		sig.Margin < r.cfg.MarginThreshold
}

// expand fetches sequence neighbors for the retrieved chunks. Lookups
// run concurrently with a small bound; any failure drops that chunk's
// neighbors and nothing else.
func (r *Retriever) expand(ctx context.Context, traceID string, docs []models.ScoredDocument) []models.ScoredDocument {
	results := make([][]models.ScoredDocument, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(graphLookupConcurrency)
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			n, err := r.graph.Neighbors(gctx, d.DocID)
			if err != nil {
				log.Warn().Err(err).Str("trace_id", traceID).Str("doc_id", d.DocID).Msg("graph expansion failed for chunk")
				return nil
			}
			results[i] = n
			return nil
		})
	}
	_ = g.Wait()

	var out []models.ScoredDocument
	for _, batch := range results {
		for _, n := range batch {
			if n.DocID == "" {
				n.DocID = models.DocumentID(n.Source, n.Text)
			}
			n.FromGraph = true
			out = append(out, n)
		}
	}
	return out
}

// merge deduplicates organic and graph evidence by DocID, assigns graph
// neighbors a synthetic score below the weakest organic hit, orders by
// score with ties broken by original retrieval order (organic winning
// against graph neighbors), and caps the set.
func (r *Retriever) merge(organic, neighbors []models.ScoredDocument) []models.ScoredDocument {
	byID := make(map[string]models.ScoredDocument, len(organic)+len(neighbors))
	arrival := make(map[string]int, len(organic)+len(neighbors))
	for i, d := range organic {
		if prev, ok := byID[d.DocID]; !ok || d.Score > prev.Score {
			byID[d.DocID] = d
		}
		if _, ok := arrival[d.DocID]; !ok {
			arrival[d.DocID] = i
		}
	}

	floor := 0.0
	if len(organic) > 0 {
		floor = organic[0].Score
		for _, d := range organic {
			if d.Score < floor {
				floor = d.Score
			}
		}
	}
	synthetic := floor - graphScoreStep
	if synthetic < 0 {
		synthetic = 0
	}
	for j, n := range neighbors {
		if _, ok := byID[n.DocID]; ok {
			continue // organic copy wins
		}
		n.Score = synthetic
		byID[n.DocID] = n
		arrival[n.DocID] = len(organic) + j
	}

	merged := make([]models.ScoredDocument, 0, len(byID))
	for _, d := range byID {
		merged = append(merged, d)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].FromGraph != merged[j].FromGraph {
			return !merged[i].FromGraph
		}
		return arrival[merged[i].DocID] < arrival[merged[j].DocID]
	})

	if len(merged) > r.maxDocs {
		merged = merged[:r.maxDocs]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}
