// Package router maps a query and its confidence signal to a retrieval
// plan: whether to retrieve at all, how many candidates to fetch, and
// whether reranking and graph expansion are on the table.
package router

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/models"
)

// Router implements the adaptive routing table. It is stateless; all
// thresholds come from config at construction time.
type Router struct {
	cfg       config.RouterConfig
	retrieval config.RetrievalConfig
	allowed   map[string]bool
}

func New(cfg config.RouterConfig, retrieval config.RetrievalConfig) *Router {
	allowed := make(map[string]bool, len(cfg.AllowedLanguages))
	for _, l := range cfg.AllowedLanguages {
		allowed[l] = true
	}
	return &Router{cfg: cfg, retrieval: retrieval, allowed: allowed}
}

// Classify normalizes raw input into a Query: trims, detects language,
// and classifies intent. Chitchat is a short greeting-like message
// containing one of the configured keywords.
func (r *Router) Classify(text, convID, traceID string) models.Query {
	q := models.Query{
		Text:    strings.TrimSpace(text),
		ConvID:  convID,
		TraceID: traceID,
		Intent:  models.IntentTask,
	}
	if r.cfg.LangDetect {
		q.Language = DetectLanguage(q.Text)
	}

	lower := strings.ToLower(q.Text)
	if len(strings.Fields(lower)) <= 4 {
		for _, kw := range r.cfg.ChitchatKeywords {
			if strings.Contains(lower, kw) {
				q.Intent = models.IntentChitchat
				break
			}
		}
	}
	return q
}

// Decide applies the routing table to a classified query and its
// confidence signal. It never returns an error: an unusable signal
// falls through to the conservative wide-retrieval row.
func (r *Router) Decide(q models.Query, sig models.ConfidenceSignal) models.RetrievalDecision {
	d := r.decide(q, sig)
	if r.retrieval.KOverride > 0 && d.NeedRetrieval {
		d.K = r.retrieval.KOverride
	}
	log.Debug().
		Str("trace_id", q.TraceID).
		Str("reason", string(d.Reason)).
		Int("k", d.K).
		Bool("rerank_candidate", d.RerankCandidate).
		Bool("use_graph", d.UseGraph).
		Msg("route decided")
	return d
}

func (r *Router) decide(q models.Query, sig models.ConfidenceSignal) models.RetrievalDecision {
	if q.Intent == models.IntentChitchat {
		return models.RetrievalDecision{Reason: models.ReasonChitchat}
	}

	useGraph := r.wantsContinuity(q.Text)

	// Out-of-corpus language: the probe scores are not trustworthy, so
	// cast the widest net and let the reranker sort it out.
	if q.Language != "" && len(r.allowed) > 0 && !r.allowed[q.Language] {
		k := r.retrieval.KLangMismatch
		if k <= 0 {
			k = r.retrieval.KLow
		}
		return models.RetrievalDecision{
			NeedRetrieval:   true,
			K:               k,
			RerankCandidate: true,
			UseGraph:        useGraph,
			Reason:          models.ReasonLangMismatch,
		}
	}

	switch sig.Bucket {
	case models.ConfidenceHigh:
		return models.RetrievalDecision{
			NeedRetrieval: true,
			K:             r.retrieval.KHigh,
			UseGraph:      useGraph,
			Reason:        models.ReasonHighConf,
		}
	case models.ConfidenceMedium:
		return models.RetrievalDecision{
			NeedRetrieval:   true,
			K:               r.retrieval.KMed,
			RerankCandidate: sig.Margin < r.cfg.MarginThreshold,
			UseGraph:        useGraph,
			Reason:          models.ReasonMediumConf,
		}
	default:
		return models.RetrievalDecision{
			NeedRetrieval:   true,
			K:               r.retrieval.KLow,
			RerankCandidate: true,
			UseGraph:        useGraph,
			Reason:          models.ReasonLowConf,
		}
	}
}

// Recovery widens a failed decision for the single recovery pass:
// k doubles (floored at the low-confidence budget) and rerank is forced.
func (r *Router) Recovery(prev models.RetrievalDecision) models.RetrievalDecision {
	k := prev.K * 2
	if k < r.retrieval.KLow {
		k = r.retrieval.KLow
	}
	return models.RetrievalDecision{
		NeedRetrieval:   true,
		K:               k,
		RerankCandidate: true,
		UseGraph:        prev.UseGraph,
		Reason:          models.ReasonLowConf,
	}
}

func (r *Router) wantsContinuity(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range r.cfg.ContinuityWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
