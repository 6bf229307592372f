// Package answer builds grounded prompts and runs them through the chat
// model. Task answers are generated cold against retrieved evidence;
// chitchat gets a warmer, shorter conversational profile with no context.
package answer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// historyWindow limits how many buffered turns are inlined into prompts.
const historyWindow = 6

type Generator struct {
	llm     contracts.Generator
	cfg     config.AnswerConfig
	prompts config.PromptConfig
}

func New(llm contracts.Generator, cfg config.AnswerConfig, prompts config.PromptConfig) *Generator {
	return &Generator{llm: llm, cfg: cfg, prompts: prompts}
}

// TaskProfile is the cold decoding profile used for grounded answers.
func (g *Generator) TaskProfile() models.GenerationProfile {
	return models.GenerationProfile{
		Temperature: g.cfg.TaskTemperature,
		MaxTokens:   g.cfg.TaskMaxTokens,
		Stop:        g.cfg.StopSequences,
	}
}

// ChitchatProfile is the warmer, shorter profile for conversational replies.
func (g *Generator) ChitchatProfile() models.GenerationProfile {
	return models.GenerationProfile{
		Temperature: g.cfg.ChitchatTemperature,
		MaxTokens:   g.cfg.ChitchatMaxTokens,
		Stop:        g.cfg.StopSequences,
	}
}

// AnswerTask generates a grounded answer for a task query from the
// retrieved evidence and recent conversation history.
func (g *Generator) AnswerTask(ctx context.Context, q models.Query, docs []models.ScoredDocument, history []models.ConversationTurn, domain string) (*models.Answer, error) {
	if domain == "" {
		domain = g.ClassifyDomain(q.Text)
	}
	ans, err := g.llm.Generate(ctx, g.systemPrompt(domain), g.taskPrompt(q.Text, docs, history), g.TaskProfile())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrGeneration, err)
	}
	return ans, nil
}

// Chitchat generates a conversational reply without retrieval.
func (g *Generator) Chitchat(ctx context.Context, q models.Query, history []models.ConversationTurn) (*models.Answer, error) {
	var b strings.Builder
	writeHistory(&b, history)
	b.WriteString("User: ")
	b.WriteString(q.Text)
	ans, err := g.llm.Generate(ctx, "You are a friendly assistant. Reply briefly and naturally.", b.String(), g.ChitchatProfile())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrGeneration, err)
	}
	return ans, nil
}

// ClassifyDomain picks a domain by trigger-word match against the
// configured keyword map. Domains are checked in sorted order so the
// result is stable; no match returns "" (the default prompt).
func (g *Generator) ClassifyDomain(question string) string {
	lowered := strings.ToLower(question)
	domains := make([]string, 0, len(g.prompts.DomainKeywords))
	for d := range g.prompts.DomainKeywords {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		for _, kw := range strings.Split(g.prompts.DomainKeywords[d], ",") {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw != "" && strings.Contains(lowered, kw) {
				return d
			}
		}
	}
	return ""
}

func (g *Generator) systemPrompt(domain string) string {
	sys, ok := g.prompts.SystemByDomain[domain]
	if !ok || sys == "" {
		sys = g.prompts.SystemByDomain["default"]
	}
	if g.prompts.AnswerSuffix != "" {
		sys += "\n" + g.prompts.AnswerSuffix
	}
	return sys
}

func (g *Generator) taskPrompt(question string, docs []models.ScoredDocument, history []models.ConversationTurn) string {
	var b strings.Builder
	writeHistory(&b, history)
	if len(docs) > 0 {
		b.WriteString("Context:\n")
		b.WriteString(ContextBlock(docs))
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// ContextBlock renders the evidence set as numbered, source-attributed
// snippets. The same rendering feeds the verifier so claim support is
// judged against exactly what the generator saw.
func ContextBlock(docs []models.ScoredDocument) string {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "[%d] SOURCE: %s\n%s\n", d.Rank, d.Source, strings.TrimSpace(d.Text))
	}
	return b.String()
}

func writeHistory(b *strings.Builder, history []models.ConversationTurn) {
	if len(history) == 0 {
		return
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	b.WriteString("Recent conversation:\n")
	for _, t := range history {
		role := "User"
		if t.Role == models.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(b, "%s: %s\n", role, t.Text)
	}
	b.WriteString("\n")
}
