package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

type mockLLM struct {
	reply string
	err   error
}

func (m *mockLLM) Generate(_ context.Context, _, _ string, _ models.GenerationProfile) (*models.Answer, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Answer{Text: m.reply}, nil
}

func testVerifier(llm *mockLLM) *Verifier {
	return New(llm,
		config.VerifyConfig{MinCoverage: 0.9},
		config.PromptConfig{VerifySystem: "verify", VerifyHuman: "Context:\n%s\n\nAnswer:\n%s"})
}

var evidence = []models.ScoredDocument{
	{Rank: 1, Source: "runbook.md", Text: "Use systemctl restart agent."},
	{Rank: 2, Source: "faq.md", Text: "The agent listens on 8080."},
}

func TestVerifyFullCoverageIsGrounded(t *testing.T) {
	llm := &mockLLM{reply: `{"claims":[
		{"id":1,"text":"restart via systemctl","supported":true,"source":"runbook.md"},
		{"id":2,"text":"port is 8080","supported":true,"source":"faq.md"}]}`}
	v := testVerifier(llm)

	res, err := v.Verify(context.Background(), "Restart via systemctl; it listens on 8080.", evidence)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Grounded {
		t.Errorf("Grounded = false, want true (coverage %v)", res.Coverage)
	}
	if res.ClaimsTotal != 2 || res.ClaimsSupported != 2 {
		t.Errorf("claims = %d/%d, want 2/2", res.ClaimsSupported, res.ClaimsTotal)
	}
	if len(res.Citations) != 2 || res.Citations[0].Rank != 1 {
		t.Errorf("citations = %+v", res.Citations)
	}
}

func TestVerifyPartialCoverageFailsPolicy(t *testing.T) {
	llm := &mockLLM{reply: `{"claims":[
		{"id":1,"text":"restart via systemctl","supported":true,"source":"runbook.md"},
		{"id":2,"text":"requires sudo","supported":false}]}`}
	v := testVerifier(llm)

	res, err := v.Verify(context.Background(), "answer", evidence)
	if err != nil {
		t.Fatal(err)
	}
	if res.Grounded {
		t.Error("Grounded = true, want false at coverage 0.5")
	}
	if res.Coverage != 0.5 {
		t.Errorf("Coverage = %v, want 0.5", res.Coverage)
	}
	if res.Reason == "" {
		t.Error("Reason should explain the policy failure")
	}
}

func TestVerifyZeroClaimsIsUnverifiable(t *testing.T) {
	llm := &mockLLM{reply: `{"claims":[]}`}
	v := testVerifier(llm)

	res, err := v.Verify(context.Background(), "I am not sure.", evidence)
	if err != nil {
		t.Fatal(err)
	}
	if res.Grounded {
		t.Error("Grounded = true, want false for zero extractable claims")
	}
	if res.Coverage != 0 {
		t.Errorf("Coverage = %v, want 0", res.Coverage)
	}
}

func TestVerifyEmptyAnswer(t *testing.T) {
	v := testVerifier(&mockLLM{})

	res, err := v.Verify(context.Background(), "   ", evidence)
	if err != nil {
		t.Fatal(err)
	}
	if res.Grounded {
		t.Error("Grounded = true, want false for empty answer")
	}
}

func TestVerifyToleratesProseWrappedJSON(t *testing.T) {
	llm := &mockLLM{reply: "Here is my analysis:\n{\"claims\":[{\"id\":1,\"text\":\"x\",\"supported\":true,\"source\":\"runbook.md\"}]}\nDone."}
	v := testVerifier(llm)

	res, err := v.Verify(context.Background(), "answer", evidence)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Grounded {
		t.Errorf("Grounded = false, want true (coverage %v)", res.Coverage)
	}
}

func TestVerifyTransportErrorIsVerificationError(t *testing.T) {
	v := testVerifier(&mockLLM{err: errors.New("model unavailable")})

	_, err := v.Verify(context.Background(), "answer", evidence)
	if !errors.Is(err, contracts.ErrVerification) {
		t.Fatalf("err = %v, want ErrVerification", err)
	}
}

func TestVerifyMalformedJSONIsVerificationError(t *testing.T) {
	v := testVerifier(&mockLLM{reply: "not json at all"})

	_, err := v.Verify(context.Background(), "answer", evidence)
	if !errors.Is(err, contracts.ErrVerification) {
		t.Fatalf("err = %v, want ErrVerification", err)
	}
}
