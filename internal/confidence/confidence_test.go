package confidence

import (
	"testing"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/models"
)

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		ConfHigh:        0.70,
		ConfMed:         0.40,
		MarginThreshold: 0.10,
	}
}

func TestEvaluateEmptyScores(t *testing.T) {
	e := NewEvaluator(testRouterConfig())

	sig := e.Evaluate(nil)
	if sig.Bucket != models.ConfidenceLow {
		t.Errorf("Bucket = %q, want %q", sig.Bucket, models.ConfidenceLow)
	}
	if sig.TopScore != 0 || sig.Margin != 0 || sig.Confidence != 0 {
		t.Errorf("empty scores should yield zero signal, got %+v", sig)
	}
}

func TestEvaluateStrongTopWideMargin(t *testing.T) {
	e := NewEvaluator(testRouterConfig())

	// Top 0.9 with a 0.3 margin: margin contribution saturates,
	// confidence = 0.5*0.9 + 0.5*1.0 = 0.95 → high.
	sig := e.Evaluate([]float64{0.9, 0.6, 0.5})
	if sig.Bucket != models.ConfidenceHigh {
		t.Errorf("Bucket = %q, want high (confidence %.3f)", sig.Bucket, sig.Confidence)
	}
	if sig.TopScore != 0.9 {
		t.Errorf("TopScore = %v, want 0.9", sig.TopScore)
	}
	if got := sig.Margin; got < 0.299 || got > 0.301 {
		t.Errorf("Margin = %v, want 0.3", got)
	}
}

func TestEvaluateTightClusterIsNotHigh(t *testing.T) {
	e := NewEvaluator(testRouterConfig())

	// Same strong top score, but the runner-up is almost identical:
	// confidence = 0.5*0.9 + 0.5*(0.01/0.20) = 0.475 → medium.
	sig := e.Evaluate([]float64{0.9, 0.89, 0.88})
	if sig.Bucket != models.ConfidenceMedium {
		t.Errorf("Bucket = %q, want medium (confidence %.3f)", sig.Bucket, sig.Confidence)
	}
}

func TestEvaluateWeakScoresAreLow(t *testing.T) {
	e := NewEvaluator(testRouterConfig())

	sig := e.Evaluate([]float64{0.2, 0.18})
	if sig.Bucket != models.ConfidenceLow {
		t.Errorf("Bucket = %q, want low (confidence %.3f)", sig.Bucket, sig.Confidence)
	}
}

func TestEvaluateSingleScoreMarginIsTop(t *testing.T) {
	e := NewEvaluator(testRouterConfig())

	sig := e.Evaluate([]float64{0.5})
	if sig.Margin != 0.5 {
		t.Errorf("Margin = %v, want 0.5 (single hit uses top as margin)", sig.Margin)
	}
}

func TestEvaluateConfidenceClamped(t *testing.T) {
	e := NewEvaluator(testRouterConfig())

	sig := e.Evaluate([]float64{1.0, 0.1})
	if sig.Confidence > 1.0 {
		t.Errorf("Confidence = %v, want <= 1.0", sig.Confidence)
	}
}
