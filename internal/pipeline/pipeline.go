// Package pipeline orchestrates the confidence-driven query flow:
// route, retrieve, answer, verify, with at most one recovery cycle when
// verification fails. Every stage transition emits an observability
// event keyed by trace ID.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/panrag/panrag/internal/answer"
	"github.com/panrag/panrag/internal/confidence"
	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/internal/memory"
	"github.com/panrag/panrag/internal/retriever"
	"github.com/panrag/panrag/internal/router"
	"github.com/panrag/panrag/internal/verifier"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// probeK is the size of the cheap probe search that feeds the
// confidence evaluator before the routing decision is made.
const probeK = 5

// Degraded reply texts. The hedge keeps the unverified answer attached
// so the user still gets the high-level steps, clearly framed as such.
const (
	safeReply = "I don't have sufficient grounded context to provide exact commands. " +
		"Would you like me to expand the search or outline high-level steps?"
	hedgePrefix = "I couldn't find grounded evidence for exact commands in the current context. " +
		"Here are high-level steps you can follow. If you want, I can expand the search to related notes."
)

// phase is the pipeline's execution state.
type phase int

const (
	phaseRoute phase = iota
	phaseRetrieve
	phaseAnswer
	phaseVerify
	phaseRecover
	phaseDone
)

// ErrEmptyQuestion is returned for blank input; the API maps it to 400.
var ErrEmptyQuestion = fmt.Errorf("%w: empty question", contracts.ErrRouting)

type Pipeline struct {
	router    *router.Router
	evaluator *confidence.Evaluator
	embedder  contracts.Embedder
	searcher  contracts.Searcher
	retriever *retriever.Retriever
	answerer  *answer.Generator
	verifier  *verifier.Verifier
	memory    *memory.Manager
	events    contracts.EventSink
	cfg       *config.Config
	tracer    trace.Tracer
}

func New(
	r *router.Router,
	evaluator *confidence.Evaluator,
	embedder contracts.Embedder,
	searcher contracts.Searcher,
	ret *retriever.Retriever,
	answerer *answer.Generator,
	ver *verifier.Verifier,
	mem *memory.Manager,
	events contracts.EventSink,
	cfg *config.Config,
) *Pipeline {
	return &Pipeline{
		router:    r,
		evaluator: evaluator,
		embedder:  embedder,
		searcher:  searcher,
		retriever: ret,
		answerer:  answerer,
		verifier:  ver,
		memory:    mem,
		events:    events,
		cfg:       cfg,
		tracer:    otel.Tracer("panrag/pipeline"),
	}
}

// runState carries the mutable state across phases of one query.
type runState struct {
	query     models.Query
	domain    string
	history   []models.ConversationTurn
	vector    []float64
	signal    models.ConfidenceSignal
	decision  models.RetrievalDecision
	retrieval *models.RetrievalResult
	answer    *models.Answer
	verdict   *models.VerificationResult
	recovered bool
	degraded  bool
	final     string
}

// Run executes one query end to end. Errors are returned only for
// invalid input; infrastructure failures degrade to safe replies.
func (p *Pipeline) Run(ctx context.Context, question, convID, domain string) (*models.QueryResult, error) {
	start := time.Now()
	traceID := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	q := p.router.Classify(question, convID, traceID)
	if q.Text == "" {
		return nil, ErrEmptyQuestion
	}

	st := &runState{query: q, domain: domain, history: p.memory.Context(ctx, convID)}
	p.emit(ctx, "query_received", traceID, map[string]any{
		"question_hash": q.QuestionHash(),
		"language":      q.Language,
		"intent":        string(q.Intent),
		"index_version": p.cfg.Prompts.IndexVersion,
		"chat_model":    p.cfg.LMStudio.ChatModel,
	})

	if q.Intent == models.IntentChitchat {
		p.chitchat(ctx, st)
	} else {
		p.runPhases(ctx, st)
	}

	p.persistTurns(ctx, st)

	result := &models.QueryResult{
		TraceID:      traceID,
		Answer:       st.final,
		Degraded:     st.degraded,
		Recovered:    st.recovered,
		Decision:     st.decision,
		Signal:       st.signal,
		Verification: st.verdict,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if st.retrieval != nil {
		result.Sources = st.retrieval.Sources()
	}
	p.emit(ctx, "done", traceID, map[string]any{
		"degraded":    st.degraded,
		"recovered":   st.recovered,
		"duration_ms": result.DurationMs,
	})
	return result, nil
}

// runPhases drives the task-query state machine.
func (p *Pipeline) runPhases(ctx context.Context, st *runState) {
	traceID := st.query.TraceID
	for ph := phaseRoute; ph != phaseDone; {
		switch ph {
		case phaseRoute:
			if !p.route(ctx, st) {
				ph = phaseDone
				continue
			}
			p.emit(ctx, "routed", traceID, map[string]any{
				"reason":     string(st.decision.Reason),
				"bucket":     string(st.signal.Bucket),
				"confidence": st.signal.Confidence,
				"top_score":  st.signal.TopScore,
				"margin":     st.signal.Margin,
				"k":          st.decision.K,
			})
			ph = phaseRetrieve

		case phaseRetrieve:
			if !p.retrieve(ctx, st) {
				ph = phaseDone
				continue
			}
			p.emit(ctx, "retrieved", traceID, map[string]any{
				"docs":        len(st.retrieval.Documents),
				"reranked":    st.retrieval.Reranked,
				"retrieve_ms": st.retrieval.Latency.RetrieveMs,
				"rerank_ms":   st.retrieval.Latency.RerankMs,
				"graph_ms":    st.retrieval.Latency.GraphMs,
				"diversity":   len(st.retrieval.Sources()),
			})
			ph = phaseAnswer

		case phaseAnswer:
			if !p.generate(ctx, st) {
				ph = phaseDone
				continue
			}
			p.emit(ctx, "answered", traceID, map[string]any{
				"model":      st.answer.Model,
				"latency_ms": st.answer.LatencyMs,
			})
			ph = phaseVerify

		case phaseVerify:
			ok := p.verify(ctx, st)
			p.emit(ctx, "verified", traceID, map[string]any{
				"grounded":         ok,
				"coverage":         coverageOf(st.verdict),
				"citation_sources": citationDiversity(st.verdict),
			})
			if ok {
				st.final = st.answer.Text
				ph = phaseDone
			} else if st.recovered {
				// Recovery already spent: hedge and stop.
				p.hedge(st)
				ph = phaseDone
			} else {
				ph = phaseRecover
			}

		case phaseRecover:
			p.emit(ctx, "recovering", traceID, nil)
			if !p.recover(ctx, st) {
				ph = phaseDone
				continue
			}
			ph = phaseAnswer
		}
	}
}

// route embeds the question, runs the probe search, and decides the
// retrieval plan. A failed probe falls through to the conservative row
// rather than aborting; a failed embedding is fatal for retrieval.
func (p *Pipeline) route(ctx context.Context, st *runState) bool {
	vec, err := p.embedder.Embed(ctx, st.query.Text)
	if err != nil {
		log.Error().Err(err).Str("trace_id", st.query.TraceID).Msg("query embedding failed")
		st.degraded = true
		st.final = safeReply
		return false
	}
	st.vector = vec

	probe, err := p.searcher.Search(ctx, vec, probeK)
	if err != nil {
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("probe search failed, routing conservatively")
		st.signal = models.ConfidenceSignal{Bucket: models.ConfidenceLow}
		st.decision = p.router.Decide(st.query, st.signal)
		st.decision.Reason = models.ReasonRouterError
		return true
	}
	scores := make([]float64, len(probe))
	for i, d := range probe {
		scores[i] = d.Score
	}
	st.signal = p.evaluator.Evaluate(scores)
	st.decision = p.router.Decide(st.query, st.signal)
	return true
}

// retrieve fetches the evidence set. An unreachable index or an empty
// result does not end the query: it degrades to an answer generated
// without context, explicitly hedged as ungrounded.
func (p *Pipeline) retrieve(ctx context.Context, st *runState) bool {
	res, err := p.retriever.Retrieve(ctx, st.query, st.vector, st.decision, st.signal)
	if err != nil {
		log.Error().Err(err).Str("trace_id", st.query.TraceID).Msg("retrieval failed, answering without context")
		p.answerNoContext(ctx, st)
		return false
	}
	if len(res.Documents) == 0 {
		log.Warn().Str("trace_id", st.query.TraceID).Msg("retrieval returned no evidence, answering without context")
		p.answerNoContext(ctx, st)
		return false
	}
	st.retrieval = res
	return true
}

// answerNoContext is the degraded path when no evidence is available:
// the generator still runs, with zero documents, and the reply carries
// the hedge disclaimer. The canned safe reply goes out only when that
// generation fails too.
func (p *Pipeline) answerNoContext(ctx context.Context, st *runState) {
	st.degraded = true
	ans, err := p.answerer.AnswerTask(ctx, st.query, nil, st.history, st.domain)
	if err != nil {
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("no-context generation failed")
		st.final = safeReply
		return
	}
	st.answer = ans
	st.final = hedgePrefix + "\n\n" + ans.Text
}

func (p *Pipeline) generate(ctx context.Context, st *runState) bool {
	ans, err := p.answerer.AnswerTask(ctx, st.query, st.retrieval.Documents, st.history, st.domain)
	if err != nil {
		log.Error().Err(err).Str("trace_id", st.query.TraceID).Msg("generation failed")
		st.degraded = true
		st.final = safeReply
		return false
	}
	st.answer = ans
	return true
}

// verify returns whether the answer passed. A verifier transport or
// parse error counts as a failed verification, never as a pass.
func (p *Pipeline) verify(ctx context.Context, st *runState) bool {
	verdict, err := p.verifier.Verify(ctx, st.answer.Text, st.retrieval.Documents)
	if err != nil {
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("verification errored, treating as unverified")
		st.verdict = &models.VerificationResult{Reason: "verifier unavailable"}
		return false
	}
	st.verdict = verdict
	return verdict.Grounded
}

// recover runs the single widened retry: expanded question, doubled k,
// forced rerank. The signal is reset so the rerank gate reads the retry
// as maximally uncertain.
func (p *Pipeline) recover(ctx context.Context, st *runState) bool {
	st.recovered = true
	expanded := st.query
	expanded.Text = st.query.Text + " | " + p.cfg.Router.RecoverySynonyms

	vec, err := p.embedder.Embed(ctx, expanded.Text)
	if err != nil {
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("recovery embedding failed")
		p.hedge(st)
		return false
	}

	st.decision = p.router.Recovery(st.decision)
	st.signal = models.ConfidenceSignal{Bucket: models.ConfidenceLow}

	res, err := p.retriever.Retrieve(ctx, expanded, vec, st.decision, st.signal)
	if err != nil || len(res.Documents) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("recovery retrieval failed")
		}
		p.hedge(st)
		return false
	}
	res.Documents = unionDocs(res.Documents, st.retrieval.Documents, p.cfg.Retrieval.MaxDocs)
	st.retrieval = res
	return true
}

// unionDocs merges the expanded result with the first pass, expanded
// docs first, deduplicated by DocID and capped. Ranks are reassigned
// densely over the union.
func unionDocs(expanded, previous []models.ScoredDocument, limit int) []models.ScoredDocument {
	seen := make(map[string]bool, len(expanded))
	out := make([]models.ScoredDocument, 0, len(expanded)+len(previous))
	for _, d := range expanded {
		if !seen[d.DocID] {
			seen[d.DocID] = true
			out = append(out, d)
		}
	}
	for _, d := range previous {
		if !seen[d.DocID] {
			seen[d.DocID] = true
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// hedge finalizes a degraded answer after a failed recovery, keeping
// the model's unverified text attached below the disclaimer.
func (p *Pipeline) hedge(st *runState) {
	st.degraded = true
	if st.answer != nil && st.answer.Text != "" {
		st.final = hedgePrefix + "\n\n" + st.answer.Text
	} else {
		st.final = safeReply
	}
}

func (p *Pipeline) chitchat(ctx context.Context, st *runState) {
	st.decision = p.router.Decide(st.query, models.ConfidenceSignal{Bucket: models.ConfidenceChitchat})
	st.signal = models.ConfidenceSignal{Bucket: models.ConfidenceChitchat}
	ans, err := p.answerer.Chitchat(ctx, st.query, st.history)
	if err != nil {
		// A generation failure is surfaced as a failure, not papered
		// over with an invented greeting.
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("chitchat generation failed")
		st.degraded = true
		st.final = safeReply
		return
	}
	st.answer = ans
	st.final = ans.Text
}

// persistTurns appends the user question and the final reply to
// conversation memory. Memory failures are logged, never surfaced.
func (p *Pipeline) persistTurns(ctx context.Context, st *runState) {
	if st.query.ConvID == "" {
		return
	}
	if _, err := p.memory.AppendTurn(ctx, st.query.ConvID, models.RoleUser, st.query.Text, map[string]string{
		"trace_id": st.query.TraceID,
	}); err != nil {
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("failed to persist user turn")
	}
	meta := map[string]string{
		"trace_id": st.query.TraceID,
		"degraded": strconv.FormatBool(st.degraded),
	}
	if st.verdict != nil {
		meta["coverage"] = strconv.FormatFloat(st.verdict.Coverage, 'f', 2, 64)
	}
	if _, err := p.memory.AppendTurn(ctx, st.query.ConvID, models.RoleAssistant, st.final, meta); err != nil {
		log.Warn().Err(err).Str("trace_id", st.query.TraceID).Msg("failed to persist assistant turn")
	}
}

func (p *Pipeline) emit(ctx context.Context, event, traceID string, fields map[string]any) {
	if p.events == nil {
		return
	}
	p.events.Emit(ctx, event, traceID, fields)
}

func coverageOf(v *models.VerificationResult) float64 {
	if v == nil {
		return 0
	}
	return v.Coverage
}

// citationDiversity counts the distinct sources backing supported claims.
func citationDiversity(v *models.VerificationResult) int {
	if v == nil {
		return 0
	}
	distinct := map[string]bool{}
	for _, c := range v.Citations {
		if c.Source != "" {
			distinct[c.Source] = true
		}
	}
	return len(distinct)
}
