// Package config loads all pipeline configuration from environment
// variables with sensible defaults. Every tunable the router, retriever,
// verifier, and memory subsystems consult lives here; stages never read
// the environment directly.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the panrag query service.
type Config struct {
	Port      int
	Version   string
	Router    RouterConfig
	Retrieval RetrievalConfig
	Rerank    RerankConfig
	Verify    VerifyConfig
	Answer    AnswerConfig
	LMStudio  LMStudioConfig
	Qdrant    QdrantConfig
	Postgres  PostgresConfig
	Neo4j     Neo4jConfig
	Redis     RedisConfig
	S3        S3Config
	Memory    MemoryConfig
	Prompts   PromptConfig
	Telemetry TelemetryConfig
}

// RouterConfig holds the confidence thresholds the routing table is built on.
type RouterConfig struct {
	ConfHigh          float64 // bucket boundary: confidence >= ConfHigh is "high"
	ConfMed           float64 // bucket boundary: confidence >= ConfMed is "medium"
	TopScoreThreshold float64 // probe top score below this reads as weak evidence
	MarginThreshold   float64 // margin below this marks an ambiguous score spread
	LangDetect        bool
	AllowedLanguages  []string
	ChitchatKeywords  []string
	ContinuityWords   []string // phrases that flip graph expansion on
	RecoverySynonyms  string   // appended to the question on the recovery pass
}

// RetrievalConfig sets the k budget per confidence bucket.
type RetrievalConfig struct {
	KHigh         int
	KMed          int
	KLow          int
	KLangMismatch int // budget for out-of-corpus-language queries
	KOverride     int // nonzero replaces the bucket's k wholesale
	MaxDocs       int // hard cap on the merged evidence set
}

// RerankConfig gates the cross-encoder rerank pass.
type RerankConfig struct {
	Endpoint        string
	Model           string
	ConfThreshold   float64
	TopThreshold    float64
	MarginThreshold float64
}

// VerifyConfig controls the claim-coverage verdict.
type VerifyConfig struct {
	MinCoverage float64
}

// AnswerConfig holds the per-intent decoding profiles.
type AnswerConfig struct {
	TaskMaxTokens       int
	ChitchatMaxTokens   int
	TaskTemperature     float64
	ChitchatTemperature float64
	StopSequences       []string // shared by both profiles
}

// LMStudioConfig points at the OpenAI-compatible model server.
type LMStudioConfig struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	EmbeddingDims  int // vector width, must match the pgvector column
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
}

type PostgresConfig struct {
	URL     string
	Table   string
	Enabled bool
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Enabled  bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// S3Config locates the durable conversation log bucket. When Bucket is
// empty the local-file log driver is used instead.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint for MinIO-style deployments
	LocalPath string // fallback directory for the local log driver
}

// MemoryConfig bounds the fast conversation buffer and backfill scan.
type MemoryConfig struct {
	BufferSize       int // max turns kept in the Redis window
	BufferTTLSecs    int
	BackfillDays     int // today plus this many previous days
	BackfillMaxLines int
}

// PromptConfig carries the prompt templates and the per-domain system
// prompt map ({"default": "...", "ops": "...", ...} as JSON).
type PromptConfig struct {
	SystemByDomain map[string]string
	DomainKeywords map[string]string // domain -> comma-separated trigger words
	AnswerSuffix   string
	VerifySystem   string
	VerifyHuman    string
	IndexVersion   string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("PANRAG_PORT", 8080),
		Version: envStr("PANRAG_VERSION", "0.4.0"),
		Router: RouterConfig{
			ConfHigh:          envFloat("ROUTER_CONF_HIGH", 0.70),
			ConfMed:           envFloat("ROUTER_CONF_MED", 0.40),
			TopScoreThreshold: envFloat("ROUTER_TOPSCORE_THRESHOLD", 0.35),
			MarginThreshold:   envFloat("ROUTER_MARGIN_THRESHOLD", 0.10),
			LangDetect:        envBool("ROUTER_LANG_DETECT_ENABLED", true),
			AllowedLanguages:  envList("ROUTER_ALLOWED_LANGS", "en,es"),
			ChitchatKeywords:  envList("ROUTER_CHITCHAT_KEYWORDS", "hola,hi,hello,gracias,thanks,ok,vale"),
			ContinuityWords:   envList("CONTINUITY_KEYWORDS", "next,then,after that,siguiente,continua"),
			RecoverySynonyms:  envStr("RECOVERY_SYNONYMS", "setup install configure steps guide"),
		},
		Retrieval: RetrievalConfig{
			KHigh:         envInt("RETRIEVAL_K_HIGH", 6),
			KMed:          envInt("RETRIEVAL_K_MED", 12),
			KLow:          envInt("RETRIEVAL_K_LOW", 20),
			KLangMismatch: envInt("ROUTER_LANG_MISMATCH_K", 20),
			KOverride:     envInt("RETRIEVAL_K_OVERRIDE", 0),
			MaxDocs:       envInt("RETRIEVAL_MAX_DOCS", 8),
		},
		Rerank: RerankConfig{
			Endpoint:        envStr("RERANKER_ENDPOINT", ""),
			Model:           envStr("RERANKER_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
			ConfThreshold:   envFloat("RERANKER_CONF_THRESHOLD", 0.50),
			TopThreshold:    envFloat("RERANKER_TOP_THRESHOLD", 0.80),
			MarginThreshold: envFloat("RERANKER_MARGIN_THRESHOLD", 0.08),
		},
		Verify: VerifyConfig{
			MinCoverage: envFloat("POLICY_CITATION_MIN_COVERAGE", 0.9),
		},
		Answer: AnswerConfig{
			TaskMaxTokens:       envInt("ANSWER_MAX_TOKENS_TASK", 512),
			ChitchatMaxTokens:   envInt("ANSWER_MAX_TOKENS_CHITCHAT", 256),
			TaskTemperature:     envFloat("ANSWER_TEMPERATURE_TASK", 0.1),
			ChitchatTemperature: envFloat("ANSWER_TEMPERATURE_CHITCHAT", 0.6),
			StopSequences:       envRawList("ANSWER_STOP_SEQUENCES", ""),
		},
		LMStudio: LMStudioConfig{
			BaseURL:        envStr("LMSTUDIO_BASE_URL", "http://localhost:1234/v1"),
			APIKey:         envStr("LMSTUDIO_API_KEY", "lm-studio"),
			ChatModel:      envStr("LMSTUDIO_CHAT_MODEL", "qwen2.5-7b-instruct"),
			EmbeddingModel: envStr("LMSTUDIO_EMBEDDING_MODEL", "text-embedding-nomic-embed-text-v1.5"),
			EmbeddingDims:  envInt("LMSTUDIO_EMBEDDING_DIMS", 768),
		},
		Qdrant: QdrantConfig{
			URL:        envStr("QDRANT_URL", "http://localhost:6333"),
			APIKey:     envStr("QDRANT_API_KEY", ""),
			Collection: envStr("QDRANT_COLLECTION", "panrag_chunks"),
		},
		Postgres: PostgresConfig{
			URL:     envStr("POSTGRES_URL", ""),
			Table:   envStr("POSTGRES_TABLE", "panrag_chunks"),
			Enabled: envStr("POSTGRES_URL", "") != "",
		},
		Neo4j: Neo4jConfig{
			URI:      envStr("NEO4J_URI", "bolt://localhost:7687"),
			Username: envStr("NEO4J_USERNAME", "neo4j"),
			Password: envStr("NEO4J_PASSWORD", ""),
			Enabled:  envBool("NEO4J_ENABLED", true),
		},
		Redis: RedisConfig{
			Addr:     envStr("REDIS_ADDR", "localhost:6379"),
			Password: envStr("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Bucket:    envStr("S3_BUCKET", ""),
			Prefix:    envStr("S3_PREFIX", "conversations"),
			Region:    envStr("S3_REGION", "us-east-1"),
			Endpoint:  envStr("S3_ENDPOINT", ""),
			LocalPath: envStr("MEMORY_LOG_PATH", "data/conversations"),
		},
		Memory: MemoryConfig{
			BufferSize:       envInt("MEMORY_BUFFER_SIZE", 12),
			BufferTTLSecs:    envInt("MEMORY_BUFFER_TTL_SECS", 86400),
			BackfillDays:     envInt("MEMORY_BACKFILL_DAYS", 2),
			BackfillMaxLines: envInt("MEMORY_BACKFILL_MAX_LINES", 200),
		},
		Prompts: PromptConfig{
			SystemByDomain: envJSONMap("PROMPT_SYSTEM_BY_DOMAIN", defaultSystemPrompts()),
			DomainKeywords: envJSONMap("DOMAIN_KEYWORDS", map[string]string{}),
			AnswerSuffix:   envStr("ANSWER_PROMPT_SUFFIX", ""),
			VerifySystem:   envStr("VERIFY_PROMPT_SYSTEM", defaultVerifySystem),
			VerifyHuman:    envStr("VERIFY_PROMPT_HUMAN", defaultVerifyHuman),
			IndexVersion:   envStr("INDEX_VERSION", "v1"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "panrag"),
		},
	}
}

const defaultVerifySystem = "You are a strict fact checker. Extract atomic claims from the answer " +
	"and decide, for each claim, whether the provided context supports it. " +
	"Respond with JSON only: {\"claims\": [{\"id\": 1, \"text\": \"...\", \"supported\": true, \"source\": \"...\"}]}."

const defaultVerifyHuman = "Context:\n%s\n\nAnswer to verify:\n%s"

func defaultSystemPrompts() map[string]string {
	return map[string]string{
		"default": "You are a helpful assistant. Answer using only the provided context. " +
			"Cite the source name for each fact. If the context is insufficient, say so.",
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList parses a comma-separated value, trimming whitespace and
// lowercasing entries so keyword matches are case-insensitive.
func envList(key, fallback string) []string {
	raw := envStr(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envRawList parses a comma-separated value preserving case, for values
// like stop sequences where the model compares text verbatim.
func envRawList(key, fallback string) []string {
	raw := envStr(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envJSONMap parses a JSON object of string values. Malformed JSON
// falls back to the default map rather than failing startup.
func envJSONMap(key string, fallback map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(v), &m); err != nil || len(m) == 0 {
		return fallback
	}
	if _, ok := m["default"]; !ok {
		m["default"] = fallback["default"]
	}
	return m
}
