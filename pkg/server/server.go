// Package server provides the public entry point for assembling the
// panrag query service: driver selection, pipeline wiring, and the
// HTTP handler. It lives in pkg/ so embedding applications can compose
// the service with their own middleware and lifecycle.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/internal/answer"
	"github.com/panrag/panrag/internal/api"
	"github.com/panrag/panrag/internal/api/handlers"
	"github.com/panrag/panrag/internal/confidence"
	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/internal/generation"
	"github.com/panrag/panrag/internal/graph"
	"github.com/panrag/panrag/internal/memlog"
	"github.com/panrag/panrag/internal/memory"
	"github.com/panrag/panrag/internal/observability"
	"github.com/panrag/panrag/internal/pipeline"
	"github.com/panrag/panrag/internal/rerank"
	"github.com/panrag/panrag/internal/retriever"
	"github.com/panrag/panrag/internal/router"
	"github.com/panrag/panrag/internal/telemetry"
	"github.com/panrag/panrag/internal/verifier"
	"github.com/panrag/panrag/internal/vectorindex"
	"github.com/panrag/panrag/pkg/contracts"
)

// Server holds the assembled panrag query service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry; call it on graceful shutdown.
	ShutdownFunc func(context.Context) error

	// CloseFunc releases backend connections (Postgres, Neo4j, Redis).
	CloseFunc func(context.Context) error
}

// New assembles the service from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig assembles the service with an explicit configuration.
// Driver selection: pgvector when POSTGRES_URL is set, otherwise Qdrant
// when QDRANT_URL is set, otherwise the in-memory index. The durable
// conversation log goes to S3 when a bucket is configured, local files
// otherwise.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	llm := generation.NewClient(cfg.LMStudio)
	log.Info().Str("base_url", cfg.LMStudio.BaseURL).Str("chat_model", cfg.LMStudio.ChatModel).Msg("✅ Model client initialized")

	var closers []func(context.Context) error
	checks := map[string]handlers.HealthCheck{
		"model": llm.HealthCheck,
	}

	searcher, err := buildSearcher(ctx, cfg, checks, &closers)
	if err != nil {
		return nil, err
	}

	var rr contracts.Reranker
	if cfg.Rerank.Endpoint != "" {
		rr = rerank.New(cfg.Rerank)
		log.Info().Str("endpoint", cfg.Rerank.Endpoint).Msg("✅ Reranker initialized")
	}

	var expander contracts.GraphExpander
	if cfg.Neo4j.Enabled {
		neo, err := graph.NewNeo4j(ctx, cfg.Neo4j)
		if err != nil {
			return nil, fmt.Errorf("init neo4j: %w", err)
		}
		expander = neo
		closers = append(closers, neo.Close)
		log.Info().Str("uri", cfg.Neo4j.URI).Msg("✅ Graph expander initialized")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	closers = append(closers, func(context.Context) error { return rdb.Close() })

	turnLog, err := buildTurnLog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mem := memory.NewManager(memory.NewRedisBuffer(rdb, cfg.Memory), turnLog, cfg.Memory)
	log.Info().Msg("✅ Conversation memory initialized")

	pipe := pipeline.New(
		router.New(cfg.Router, cfg.Retrieval),
		confidence.NewEvaluator(cfg.Router),
		llm,
		searcher,
		retriever.New(searcher, rr, expander, cfg.Rerank, cfg.Retrieval.MaxDocs),
		answer.New(llm, cfg.Answer, cfg.Prompts),
		verifier.New(llm, cfg.Verify, cfg.Prompts),
		mem,
		observability.NewLogSink(),
		cfg,
	)

	h := handlers.New(pipe, mem, cfg.Version, checks)

	return &Server{
		Handler:      api.NewRouter(h),
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		CloseFunc: func(ctx context.Context) error {
			var firstErr error
			for _, c := range closers {
				if err := c(ctx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	}, nil
}

func buildSearcher(ctx context.Context, cfg *config.Config, checks map[string]handlers.HealthCheck, closers *[]func(context.Context) error) (contracts.Searcher, error) {
	if cfg.Postgres.URL != "" {
		pg, err := vectorindex.NewPGVector(ctx, cfg.Postgres.URL, cfg.Postgres.Table, cfg.LMStudio.EmbeddingDims)
		if err != nil {
			return nil, fmt.Errorf("init pgvector: %w", err)
		}
		checks["index"] = pg.HealthCheck
		*closers = append(*closers, func(context.Context) error { pg.Close(); return nil })
		log.Info().Str("table", cfg.Postgres.Table).Msg("✅ pgvector index initialized")
		return pg, nil
	}
	if cfg.Qdrant.URL != "" {
		qd := vectorindex.NewQdrant(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection)
		checks["index"] = qd.HealthCheck
		log.Info().Str("collection", cfg.Qdrant.Collection).Msg("✅ Qdrant index initialized")
		return qd, nil
	}
	log.Warn().Msg("no vector backend configured, using the in-memory index")
	return vectorindex.NewEmbedded(), nil
}

func buildTurnLog(ctx context.Context, cfg *config.Config) (contracts.TurnLog, error) {
	if cfg.S3.Bucket != "" {
		s3log, err := memlog.NewS3Log(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 log: %w", err)
		}
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("✅ S3 conversation log initialized")
		return s3log, nil
	}
	log.Info().Str("path", cfg.S3.LocalPath).Msg("✅ Local conversation log initialized")
	return memlog.NewLocalLog(cfg.S3.LocalPath), nil
}
