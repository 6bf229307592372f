package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

func docs() []models.ScoredDocument {
	return []models.ScoredDocument{
		{DocID: "d0", Source: "a.md", Text: "alpha", Score: 0.9},
		{DocID: "d1", Source: "b.md", Text: "beta", Score: 0.8},
		{DocID: "d2", Source: "c.md", Text: "gamma", Score: 0.7},
	}
}

func TestRerankReordersByRelevance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Query != "which one" || len(req.Documents) != 3 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 2, RelevanceScore: 0.95},
			{Index: 0, RelevanceScore: 0.40},
			{Index: 1, RelevanceScore: 0.10},
		}})
	}))
	defer srv.Close()

	r := New(config.RerankConfig{Endpoint: srv.URL, Model: "ce"})
	out, err := r.Rerank(context.Background(), "which one", docs())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].DocID != "d2" || out[1].DocID != "d0" || out[2].DocID != "d1" {
		t.Errorf("order = %s,%s,%s", out[0].DocID, out[1].DocID, out[2].DocID)
	}
	if out[0].Score != 0.95 {
		t.Errorf("Score = %v, want cross-encoder score", out[0].Score)
	}
}

func TestRerankKeepsUnscoredDocsAtTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{{Index: 1, RelevanceScore: 0.9}}})
	}))
	defer srv.Close()

	r := New(config.RerankConfig{Endpoint: srv.URL})
	out, err := r.Rerank(context.Background(), "q", docs())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].DocID != "d1" || out[1].DocID != "d0" || out[2].DocID != "d2" {
		t.Errorf("order = %s,%s,%s", out[0].DocID, out[1].DocID, out[2].DocID)
	}
}

func TestRerankErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := New(config.RerankConfig{Endpoint: srv.URL})
	_, err := r.Rerank(context.Background(), "q", docs())
	if !errors.Is(err, contracts.ErrRerank) {
		t.Fatalf("err = %v, want ErrRerank", err)
	}
}

func TestRerankEmptyInputSkipsCall(t *testing.T) {
	r := New(config.RerankConfig{Endpoint: "http://unused"})
	out, err := r.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}
