package answer

import (
	"context"
	"strings"
	"testing"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/models"
)

type mockLLM struct {
	system  string
	user    string
	profile models.GenerationProfile
	reply   string
}

func (m *mockLLM) Generate(_ context.Context, system, user string, profile models.GenerationProfile) (*models.Answer, error) {
	m.system, m.user, m.profile = system, user, profile
	return &models.Answer{Text: m.reply}, nil
}

func testGenerator(llm *mockLLM) *Generator {
	return New(llm,
		config.AnswerConfig{
			TaskMaxTokens: 512, ChitchatMaxTokens: 256,
			TaskTemperature: 0.1, ChitchatTemperature: 0.6,
			StopSequences: []string{"</answer>", "Observation:"},
		},
		config.PromptConfig{
			SystemByDomain: map[string]string{
				"default": "Answer from context only.",
				"ops":     "You are an ops runbook assistant.",
			},
			DomainKeywords: map[string]string{
				"ops": "restart, deploy, systemctl",
			},
			AnswerSuffix: "Cite sources.",
		})
}

func TestClassifyDomain(t *testing.T) {
	g := testGenerator(&mockLLM{reply: "ok"})

	if got := g.ClassifyDomain("How do I RESTART the agent?"); got != "ops" {
		t.Errorf("ClassifyDomain = %q, want ops", got)
	}
	if got := g.ClassifyDomain("what is the capital of France"); got != "" {
		t.Errorf("ClassifyDomain = %q, want empty for no keyword match", got)
	}
}

func TestAnswerTaskClassifiesWhenDomainEmpty(t *testing.T) {
	llm := &mockLLM{reply: "ok"}
	g := testGenerator(llm)

	if _, err := g.AnswerTask(context.Background(), models.Query{Text: "how to deploy the service"}, nil, nil, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(llm.system, "You are an ops runbook assistant.") {
		t.Errorf("system = %q, want keyword-classified ops prompt", llm.system)
	}
}

func TestAnswerTaskUsesColdProfileAndContext(t *testing.T) {
	llm := &mockLLM{reply: "Restart with systemctl."}
	g := testGenerator(llm)

	docs := []models.ScoredDocument{
		{Rank: 1, Source: "runbook.md", Text: "Use systemctl restart agent."},
		{Rank: 2, Source: "faq.md", Text: "The agent listens on 8080."},
	}
	ans, err := g.AnswerTask(context.Background(), models.Query{Text: "how do I restart"}, docs, nil, "default")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Restart with systemctl." {
		t.Errorf("Text = %q", ans.Text)
	}
	if llm.profile.Temperature != 0.1 || llm.profile.MaxTokens != 512 {
		t.Errorf("profile = %+v, want task profile", llm.profile)
	}
	if len(llm.profile.Stop) != 2 || llm.profile.Stop[0] != "</answer>" {
		t.Errorf("profile.Stop = %v, want configured stop sequences", llm.profile.Stop)
	}
	if !strings.Contains(llm.user, "[1] SOURCE: runbook.md") || !strings.Contains(llm.user, "[2] SOURCE: faq.md") {
		t.Errorf("context block missing from prompt:\n%s", llm.user)
	}
	if !strings.Contains(llm.user, "Question: how do I restart") {
		t.Errorf("question missing from prompt:\n%s", llm.user)
	}
}

func TestAnswerTaskDomainPromptFallback(t *testing.T) {
	llm := &mockLLM{reply: "ok"}
	g := testGenerator(llm)

	if _, err := g.AnswerTask(context.Background(), models.Query{Text: "q"}, nil, nil, "ops"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(llm.system, "You are an ops runbook assistant.") {
		t.Errorf("system = %q, want ops prompt", llm.system)
	}
	if !strings.Contains(llm.system, "Cite sources.") {
		t.Errorf("system = %q, want suffix appended", llm.system)
	}

	if _, err := g.AnswerTask(context.Background(), models.Query{Text: "q"}, nil, nil, "unknown-domain"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(llm.system, "Answer from context only.") {
		t.Errorf("system = %q, want default fallback", llm.system)
	}
}

func TestChitchatUsesWarmProfileAndHistory(t *testing.T) {
	llm := &mockLLM{reply: "Hi there!"}
	g := testGenerator(llm)

	history := []models.ConversationTurn{
		{Role: models.RoleUser, Text: "hola"},
		{Role: models.RoleAssistant, Text: "¡Hola! ¿En qué puedo ayudarte?"},
	}
	ans, err := g.Chitchat(context.Background(), models.Query{Text: "thanks"}, history)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Hi there!" {
		t.Errorf("Text = %q", ans.Text)
	}
	if llm.profile.Temperature != 0.6 || llm.profile.MaxTokens != 256 {
		t.Errorf("profile = %+v, want chitchat profile", llm.profile)
	}
	if len(llm.profile.Stop) != 2 {
		t.Errorf("profile.Stop = %v, want stop sequences on the chitchat profile too", llm.profile.Stop)
	}
	if !strings.Contains(llm.user, "User: hola") || !strings.Contains(llm.user, "Assistant:") {
		t.Errorf("history missing from prompt:\n%s", llm.user)
	}
}

func TestHistoryWindowTruncates(t *testing.T) {
	llm := &mockLLM{reply: "ok"}
	g := testGenerator(llm)

	var history []models.ConversationTurn
	for i := 0; i < 10; i++ {
		history = append(history, models.ConversationTurn{Role: models.RoleUser, Text: "turn-" + string(rune('0'+i))})
	}
	if _, err := g.AnswerTask(context.Background(), models.Query{Text: "q"}, nil, history, "default"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(llm.user, "turn-0") {
		t.Error("oldest turn should be truncated out of the prompt")
	}
	if !strings.Contains(llm.user, "turn-9") {
		t.Error("newest turn missing from the prompt")
	}
}
