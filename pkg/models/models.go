package models

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// ── Query ────────────────────────────────────────────────────

// Intent classifies what the user is trying to do. Chitchat queries
// bypass retrieval entirely and get a conversational reply.
type Intent string

const (
	IntentTask     Intent = "task"
	IntentChitchat Intent = "chitchat"
)

// Query is the normalized, immutable input to the pipeline. Stages read
// from it but never mutate it; the recovery cycle builds a new Query
// with an expanded question instead.
type Query struct {
	Text     string `json:"text"`
	ConvID   string `json:"conv_id,omitempty"`
	TraceID  string `json:"trace_id"`
	Language string `json:"language,omitempty"` // detected ISO 639-1 code, "" if unknown
	Intent   Intent `json:"intent"`
}

// QuestionHash returns the stable SHA-1 hex digest of the question text,
// used to correlate observability events for identical questions.
func (q Query) QuestionHash() string {
	sum := sha1.Sum([]byte(q.Text))
	return hex.EncodeToString(sum[:])
}

// ── Confidence ───────────────────────────────────────────────

// ConfidenceBucket is the router's coarse reading of retrieval quality.
type ConfidenceBucket string

const (
	ConfidenceHigh     ConfidenceBucket = "high"
	ConfidenceMedium   ConfidenceBucket = "medium"
	ConfidenceLow      ConfidenceBucket = "low"
	ConfidenceMismatch ConfidenceBucket = "mismatch"
	ConfidenceChitchat ConfidenceBucket = "chitchat"
)

// ConfidenceSignal is the output of the confidence evaluator: the raw
// top score and margin from a probe search, plus the blended confidence
// value the router buckets on.
type ConfidenceSignal struct {
	TopScore   float64          `json:"top_score"`
	Margin     float64          `json:"margin"`
	Confidence float64          `json:"confidence"`
	Bucket     ConfidenceBucket `json:"bucket"`
}

// ── Routing ──────────────────────────────────────────────────

// DecisionReason records which row of the routing table fired.
type DecisionReason string

const (
	ReasonChitchat     DecisionReason = "chitchat"
	ReasonHighConf     DecisionReason = "high_conf"
	ReasonMediumConf   DecisionReason = "med_conf"
	ReasonLowConf      DecisionReason = "low_conf"
	ReasonLangMismatch DecisionReason = "lang_mismatch"
	ReasonRouterError  DecisionReason = "router_error"
)

// RetrievalDecision is the router's plan for the retrieval stage.
type RetrievalDecision struct {
	NeedRetrieval   bool           `json:"need_retrieval"`
	K               int            `json:"k"`
	RerankCandidate bool           `json:"rerank_candidate"`
	UseGraph        bool           `json:"use_graph"`
	Reason          DecisionReason `json:"reason"`
}

// ── Retrieval ────────────────────────────────────────────────

// ScoredDocument is one piece of retrieved evidence. DocID is a
// deterministic hash of source+content so merges dedupe stably across
// vector search, rerank, and graph expansion.
type ScoredDocument struct {
	DocID      string  `json:"doc_id"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	FromGraph  bool    `json:"from_graph,omitempty"`
}

// DocumentID derives the stable evidence identity for a chunk.
func DocumentID(source, content string) string {
	sum := sha1.Sum([]byte(source + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// LatencyBreakdown records per-stage retrieval timings in milliseconds.
type LatencyBreakdown struct {
	RetrieveMs int64 `json:"retrieve_ms"`
	RerankMs   int64 `json:"rerank_ms,omitempty"`
	GraphMs    int64 `json:"graph_ms,omitempty"`
}

// RetrievalResult is the merged, deduplicated, rank-ordered evidence set.
type RetrievalResult struct {
	Documents []ScoredDocument `json:"documents"`
	Reranked  bool             `json:"reranked"`
	Latency   LatencyBreakdown `json:"latency"`
}

// Sources returns the distinct source names in rank order.
func (r RetrievalResult) Sources() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.Documents {
		if d.Source == "" || seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		out = append(out, d.Source)
	}
	return out
}

// ── Generation ───────────────────────────────────────────────

// GenerationProfile selects decoding parameters per intent: factual
// task answers run cold, chitchat runs warmer with a smaller budget.
type GenerationProfile struct {
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop,omitempty"`
}

// Answer is the generator's output before verification.
type Answer struct {
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// ── Verification ─────────────────────────────────────────────

// Claim is one atomic factual statement extracted from an answer.
type Claim struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Citation links a supported claim to the evidence that backs it.
type Citation struct {
	ClaimID int    `json:"claim_id"`
	Source  string `json:"source"`
	Rank    int    `json:"rank"`
}

// VerificationResult is the verifier's verdict on an answer.
// Coverage is supported/total; an answer with zero extractable claims
// is treated as unverifiable, not as vacuously grounded.
type VerificationResult struct {
	Grounded        bool       `json:"grounded"`
	ClaimsTotal     int        `json:"claims_total"`
	ClaimsSupported int        `json:"claims_supported"`
	Coverage        float64    `json:"coverage"`
	Citations       []Citation `json:"citations,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

// ── Conversation Memory ──────────────────────────────────────

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one utterance in a conversation. Seq is a
// monotonically increasing per-conversation counter; it is the identity
// used for dedup when the fast buffer is rebuilt from durable logs.
type ConversationTurn struct {
	ConvID    string            `json:"conv_id"`
	Seq       int64             `json:"seq"`
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Meta      map[string]string `json:"meta,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// ── Pipeline Result ──────────────────────────────────────────

// QueryResult is the full outcome of one pipeline run.
type QueryResult struct {
	TraceID      string              `json:"trace_id"`
	Answer       string              `json:"answer"`
	Degraded     bool                `json:"degraded"`
	Recovered    bool                `json:"recovered"`
	Decision     RetrievalDecision   `json:"decision"`
	Signal       ConfidenceSignal    `json:"signal"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Sources      []string            `json:"sources,omitempty"`
	DurationMs   int64               `json:"duration_ms"`
}
