// Package confidence turns raw probe-search scores into the blended
// confidence signal the router buckets on.
package confidence

import (
	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/models"
)

// Evaluator computes a confidence signal from similarity scores.
// Confidence blends the absolute top score with the relative margin
// between the top two hits: a strong top hit with no runner-up nearby
// reads as high confidence, a cluster of near-identical scores does not.
type Evaluator struct {
	confHigh        float64
	confMed         float64
	marginThreshold float64
}

func NewEvaluator(cfg config.RouterConfig) *Evaluator {
	return &Evaluator{
		confHigh:        cfg.ConfHigh,
		confMed:         cfg.ConfMed,
		marginThreshold: cfg.MarginThreshold,
	}
}

// Evaluate derives the signal from descending-ordered probe scores.
// An empty score list reads as low confidence with zero top and margin.
func (e *Evaluator) Evaluate(scores []float64) models.ConfidenceSignal {
	if len(scores) == 0 {
		return models.ConfidenceSignal{Bucket: models.ConfidenceLow}
	}

	top := scores[0]
	margin := top
	if len(scores) > 1 {
		margin = top - scores[1]
	}

	// Margin is normalized against twice the router's margin threshold so
	// a margin at the threshold contributes 0.25 to the blend.
	denom := e.marginThreshold * 2
	if denom < 1e-6 {
		denom = 1e-6
	}
	conf := clamp(0.5*top+0.5*clamp(margin/denom, 0, 1), 0, 1)

	sig := models.ConfidenceSignal{
		TopScore:   top,
		Margin:     margin,
		Confidence: conf,
	}
	switch {
	case conf >= e.confHigh:
		sig.Bucket = models.ConfidenceHigh
	case conf >= e.confMed:
		sig.Bucket = models.ConfidenceMedium
	default:
		sig.Bucket = models.ConfidenceLow
	}
	return sig
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
