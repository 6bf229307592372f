package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/models"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(config.LMStudioConfig{
		BaseURL:        srv.URL,
		APIKey:         "lm-studio",
		ChatModel:      "qwen2.5-7b-instruct",
		EmbeddingModel: "nomic-embed",
	})
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "qwen2.5-7b-instruct" || req.Temperature != 0.1 || req.MaxTokens != 512 {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Model:   "qwen2.5-7b-instruct",
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "  Use systemctl.  "}}},
		})
	}))
	defer srv.Close()

	ans, err := testClient(srv).Generate(context.Background(), "sys", "user",
		models.GenerationProfile{Temperature: 0.1, MaxTokens: 512})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Use systemctl." {
		t.Errorf("Text = %q, want trimmed completion", ans.Text)
	}
	if ans.Model != "qwen2.5-7b-instruct" {
		t.Errorf("Model = %q", ans.Model)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	if _, err := testClient(srv).Generate(context.Background(), "s", "u", models.GenerationProfile{}); err == nil {
		t.Fatal("want error when model returns no choices")
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Generate(context.Background(), "s", "u", models.GenerationProfile{}); err == nil {
		t.Fatal("want error on 500")
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "nomic-embed" || len(req.Input) != 1 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Data: []embedData{{Embedding: []float64{0.1, 0.2, 0.3}}}})
	}))
	defer srv.Close()

	vec, err := testClient(srv).Embed(context.Background(), "how do I restart")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
}
