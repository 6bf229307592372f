// Package verifier checks a generated answer against its evidence.
// Claims are extracted by the chat model as structured JSON; coverage is
// the fraction of claims the context supports. Coverage below the policy
// floor marks the answer unverified and triggers the recovery cycle.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/panrag/panrag/internal/answer"
	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// verifyProfile keeps claim extraction deterministic.
var verifyProfile = models.GenerationProfile{Temperature: 0.0, MaxTokens: 512}

type Verifier struct {
	llm         contracts.Generator
	minCoverage float64
	system      string
	human       string
}

func New(llm contracts.Generator, cfg config.VerifyConfig, prompts config.PromptConfig) *Verifier {
	return &Verifier{
		llm:         llm,
		minCoverage: cfg.MinCoverage,
		system:      prompts.VerifySystem,
		human:       prompts.VerifyHuman,
	}
}

// extractedClaim mirrors the JSON shape the verify prompt requests.
type extractedClaim struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Supported bool   `json:"supported"`
	Source    string `json:"source,omitempty"`
}

type extraction struct {
	Claims []extractedClaim `json:"claims"`
}

// Verify judges answerText against the evidence set. A transport or
// parse failure returns ErrVerification; callers treat that the same as
// a failed verification rather than surfacing an unchecked answer.
func (v *Verifier) Verify(ctx context.Context, answerText string, docs []models.ScoredDocument) (*models.VerificationResult, error) {
	if strings.TrimSpace(answerText) == "" {
		return &models.VerificationResult{Reason: "empty answer"}, nil
	}

	user := fmt.Sprintf(v.human, answer.ContextBlock(docs), answerText)
	raw, err := v.llm.Generate(ctx, v.system, user, verifyProfile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrVerification, err)
	}

	var ext extraction
	if jerr := json.Unmarshal([]byte(jsonBody(raw.Text)), &ext); jerr != nil {
		return nil, fmt.Errorf("%w: malformed claim extraction: %v", contracts.ErrVerification, jerr)
	}

	res := &models.VerificationResult{ClaimsTotal: len(ext.Claims)}
	if res.ClaimsTotal == 0 {
		// Nothing checkable in the answer: unverifiable, not vacuously grounded.
		res.Reason = "no verifiable claims"
		return res, nil
	}

	rankBySource := make(map[string]int, len(docs))
	for _, d := range docs {
		if _, ok := rankBySource[d.Source]; !ok {
			rankBySource[d.Source] = d.Rank
		}
	}
	for _, c := range ext.Claims {
		if !c.Supported {
			continue
		}
		res.ClaimsSupported++
		res.Citations = append(res.Citations, models.Citation{
			ClaimID: c.ID,
			Source:  c.Source,
			Rank:    rankBySource[c.Source],
		})
	}

	res.Coverage = float64(res.ClaimsSupported) / float64(res.ClaimsTotal)
	res.Grounded = res.Coverage >= v.minCoverage
	if !res.Grounded {
		res.Reason = fmt.Sprintf("coverage %.2f below policy floor %.2f", res.Coverage, v.minCoverage)
	}
	return res, nil
}

// jsonBody trims any prose the model wrapped around the JSON object.
func jsonBody(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
