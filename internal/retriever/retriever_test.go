package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// ── Mocks ───────────────────────────────────────────────────

type mockSearcher struct {
	docs []models.ScoredDocument
	err  error
	k    int
}

func (m *mockSearcher) Search(_ context.Context, _ []float64, k int) ([]models.ScoredDocument, error) {
	m.k = k
	if m.err != nil {
		return nil, m.err
	}
	return append([]models.ScoredDocument(nil), m.docs...), nil
}

type mockReranker struct {
	called bool
	err    error
}

func (m *mockReranker) Rerank(_ context.Context, _ string, docs []models.ScoredDocument) ([]models.ScoredDocument, error) {
	m.called = true
	if m.err != nil {
		return nil, m.err
	}
	// Reverse the order to make reordering observable.
	out := make([]models.ScoredDocument, len(docs))
	for i, d := range docs {
		d.Score = float64(len(docs)-i) / 10
		out[len(docs)-1-i] = d
	}
	return out, nil
}

type mockGraph struct {
	neighbors map[string][]models.ScoredDocument
	err       error
}

func (m *mockGraph) Neighbors(_ context.Context, docID string) ([]models.ScoredDocument, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.neighbors[docID], nil
}

func doc(source string, chunk int, text string, score float64) models.ScoredDocument {
	return models.ScoredDocument{
		DocID:      models.DocumentID(source, text),
		Source:     source,
		ChunkIndex: chunk,
		Text:       text,
		Score:      score,
	}
}

func rerankCfg() config.RerankConfig {
	return config.RerankConfig{ConfThreshold: 0.50, TopThreshold: 0.80, MarginThreshold: 0.08}
}

var uncertain = models.ConfidenceSignal{Confidence: 0.3, TopScore: 0.4, Margin: 0.02, Bucket: models.ConfidenceLow}

// ── Tests ───────────────────────────────────────────────────

func TestRetrieveSearchErrorIsFatal(t *testing.T) {
	r := New(&mockSearcher{err: errors.New("connection refused")}, nil, nil, rerankCfg(), 8)

	_, err := r.Retrieve(context.Background(), models.Query{Text: "q"}, nil, models.RetrievalDecision{NeedRetrieval: true, K: 6}, uncertain)
	if !errors.Is(err, contracts.ErrRetrieval) {
		t.Fatalf("err = %v, want ErrRetrieval", err)
	}
}

func TestRetrievePassesKThrough(t *testing.T) {
	s := &mockSearcher{docs: []models.ScoredDocument{doc("a.md", 0, "alpha", 0.9)}}
	r := New(s, nil, nil, rerankCfg(), 8)

	_, err := r.Retrieve(context.Background(), models.Query{Text: "q"}, nil, models.RetrievalDecision{NeedRetrieval: true, K: 12}, uncertain)
	if err != nil {
		t.Fatal(err)
	}
	if s.k != 12 {
		t.Errorf("search k = %d, want 12", s.k)
	}
}

func TestRerankGateAllConditionsRequired(t *testing.T) {
	docs := []models.ScoredDocument{doc("a.md", 0, "alpha", 0.9), doc("b.md", 0, "beta", 0.8)}

	cases := []struct {
		name string
		d    models.RetrievalDecision
		sig  models.ConfidenceSignal
		want bool
	}{
		{"all uncertain", models.RetrievalDecision{NeedRetrieval: true, K: 12, RerankCandidate: true}, uncertain, true},
		{"not a candidate", models.RetrievalDecision{NeedRetrieval: true, K: 12}, uncertain, false},
		{"confidence too high", models.RetrievalDecision{NeedRetrieval: true, K: 12, RerankCandidate: true},
			models.ConfidenceSignal{Confidence: 0.6, TopScore: 0.4, Margin: 0.02}, false},
		{"top score strong", models.RetrievalDecision{NeedRetrieval: true, K: 12, RerankCandidate: true},
			models.ConfidenceSignal{Confidence: 0.3, TopScore: 0.85, Margin: 0.02}, false},
		{"margin wide", models.RetrievalDecision{NeedRetrieval: true, K: 12, RerankCandidate: true},
			models.ConfidenceSignal{Confidence: 0.3, TopScore: 0.4, Margin: 0.2}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := &mockReranker{}
			r := New(&mockSearcher{docs: docs}, rr, nil, rerankCfg(), 8)
			res, err := r.Retrieve(context.Background(), models.Query{Text: "q"}, nil, c.d, c.sig)
			if err != nil {
				t.Fatal(err)
			}
			if rr.called != c.want {
				t.Errorf("rerank called = %v, want %v", rr.called, c.want)
			}
			if res.Reranked != c.want {
				t.Errorf("Reranked = %v, want %v", res.Reranked, c.want)
			}
		})
	}
}

func TestRerankFailureKeepsVectorOrder(t *testing.T) {
	docs := []models.ScoredDocument{doc("a.md", 0, "alpha", 0.9), doc("b.md", 0, "beta", 0.8)}
	r := New(&mockSearcher{docs: docs}, &mockReranker{err: errors.New("timeout")}, nil, rerankCfg(), 8)

	res, err := r.Retrieve(context.Background(), models.Query{Text: "q"},
		nil, models.RetrievalDecision{NeedRetrieval: true, K: 6, RerankCandidate: true}, uncertain)
	if err != nil {
		t.Fatalf("rerank failure must not fail retrieval: %v", err)
	}
	if res.Reranked {
		t.Error("Reranked = true after rerank failure")
	}
	if res.Documents[0].Source != "a.md" {
		t.Errorf("order changed after failed rerank: first = %s", res.Documents[0].Source)
	}
}

func TestGraphNeighborsRankBelowOrganic(t *testing.T) {
	seed := doc("a.md", 1, "alpha", 0.6)
	neighbor := models.ScoredDocument{Source: "a.md", ChunkIndex: 2, Text: "alpha continued"}
	g := &mockGraph{neighbors: map[string][]models.ScoredDocument{seed.DocID: {neighbor}}}
	r := New(&mockSearcher{docs: []models.ScoredDocument{seed, doc("b.md", 0, "beta", 0.55)}}, nil, g, rerankCfg(), 8)

	res, err := r.Retrieve(context.Background(), models.Query{Text: "q"},
		nil, models.RetrievalDecision{NeedRetrieval: true, K: 6, UseGraph: true}, uncertain)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 3 {
		t.Fatalf("len = %d, want 3", len(res.Documents))
	}
	last := res.Documents[2]
	if !last.FromGraph {
		t.Errorf("last doc should be the graph neighbor, got %+v", last)
	}
	if last.Score >= 0.55 {
		t.Errorf("graph score = %v, want below weakest organic (0.55)", last.Score)
	}
	for i, d := range res.Documents {
		if d.Rank != i+1 {
			t.Errorf("rank[%d] = %d, want %d", i, d.Rank, i+1)
		}
	}
}

func TestGraphFailureIsNonFatal(t *testing.T) {
	seed := doc("a.md", 1, "alpha", 0.6)
	r := New(&mockSearcher{docs: []models.ScoredDocument{seed}}, nil, &mockGraph{err: errors.New("bolt down")}, rerankCfg(), 8)

	res, err := r.Retrieve(context.Background(), models.Query{Text: "q"},
		nil, models.RetrievalDecision{NeedRetrieval: true, K: 6, UseGraph: true}, uncertain)
	if err != nil {
		t.Fatalf("graph failure must not fail retrieval: %v", err)
	}
	if len(res.Documents) != 1 {
		t.Errorf("len = %d, want 1", len(res.Documents))
	}
}

func TestMergeDeduplicatesByDocID(t *testing.T) {
	seed := doc("a.md", 1, "alpha", 0.6)
	// Graph returns a chunk that was already retrieved organically.
	dup := models.ScoredDocument{Source: "a.md", ChunkIndex: 1, Text: "alpha"}
	g := &mockGraph{neighbors: map[string][]models.ScoredDocument{seed.DocID: {dup}}}
	r := New(&mockSearcher{docs: []models.ScoredDocument{seed}}, nil, g, rerankCfg(), 8)

	res, err := r.Retrieve(context.Background(), models.Query{Text: "q"},
		nil, models.RetrievalDecision{NeedRetrieval: true, K: 6, UseGraph: true}, uncertain)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 1 {
		t.Fatalf("len = %d, want 1 after dedup", len(res.Documents))
	}
	if res.Documents[0].FromGraph {
		t.Error("organic copy should win the dedup")
	}
	if res.Documents[0].Score != 0.6 {
		t.Errorf("Score = %v, want organic 0.6", res.Documents[0].Score)
	}
}

func TestMergeTieKeepsRetrievalOrder(t *testing.T) {
	// Identical scores; lexicographic DocID order would flip these.
	docs := []models.ScoredDocument{
		{DocID: "zz", Source: "z.md", Text: "zeta", Score: 0.5},
		{DocID: "aa", Source: "a.md", Text: "alpha", Score: 0.5},
	}
	r := New(&mockSearcher{docs: docs}, nil, nil, rerankCfg(), 8)

	res, err := r.Retrieve(context.Background(), models.Query{Text: "q"},
		nil, models.RetrievalDecision{NeedRetrieval: true, K: 6}, uncertain)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents[0].DocID != "zz" || res.Documents[1].DocID != "aa" {
		t.Errorf("tie order = [%s %s], want retrieval order [zz aa]",
			res.Documents[0].DocID, res.Documents[1].DocID)
	}
}

func TestMergeCapsEvidenceSet(t *testing.T) {
	var docs []models.ScoredDocument
	for i := 0; i < 20; i++ {
		docs = append(docs, doc("s.md", i, string(rune('a'+i)), 1.0-float64(i)*0.01))
	}
	r := New(&mockSearcher{docs: docs}, nil, nil, rerankCfg(), 8)

	res, err := r.Retrieve(context.Background(), models.Query{Text: "q"},
		nil, models.RetrievalDecision{NeedRetrieval: true, K: 20}, uncertain)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 8 {
		t.Errorf("len = %d, want cap of 8", len(res.Documents))
	}
	if res.Documents[0].Score != 1.0 {
		t.Errorf("cap should keep the strongest docs, first score = %v", res.Documents[0].Score)
	}
}
