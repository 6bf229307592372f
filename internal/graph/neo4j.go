// Package graph expands retrieved chunks with their sequence neighbors
// from the Neo4j chunk graph. Chunks are nodes linked by NEXT edges in
// document order; expansion pulls the chunk before and after a hit so
// procedural answers keep their surrounding steps.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

const neighborQuery = `
MATCH (c:Chunk {id: $cid})
OPTIONAL MATCH (c)-[:NEXT]->(n:Chunk)
OPTIONAL MATCH (p:Chunk)-[:NEXT]->(c)
RETURN p.id AS prev_id, p.source AS prev_source, p.chunk_index AS prev_index, p.content AS prev_content,
       n.id AS next_id, n.source AS next_source, n.chunk_index AS next_index, n.content AS next_content`

// Neo4j implements contracts.GraphExpander over the bolt protocol.
type Neo4j struct {
	driver neo4j.DriverWithContext
}

func NewNeo4j(ctx context.Context, cfg config.Neo4jConfig) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrGraph, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Warn().Err(err).Str("uri", cfg.URI).Msg("neo4j unreachable at startup, expansion will degrade")
	}
	return &Neo4j{driver: driver}, nil
}

// Neighbors returns the previous and next chunks of docID in document
// order. Missing nodes or edges yield fewer results, never an error.
func (g *Neo4j) Neighbors(ctx context.Context, docID string) ([]models.ScoredDocument, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		res, err := tx.Run(ctx, neighborQuery, map[string]any{"cid": docID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrGraph, err)
	}

	var out []models.ScoredDocument
	for _, rec := range records {
		if d, ok := chunkFromRecord(rec, "prev"); ok {
			out = append(out, d)
		}
		if d, ok := chunkFromRecord(rec, "next"); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (g *Neo4j) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func chunkFromRecord(rec *neo4j.Record, prefix string) (models.ScoredDocument, bool) {
	id, _ := rec.Get(prefix + "_id")
	content, _ := rec.Get(prefix + "_content")
	if id == nil || content == nil {
		return models.ScoredDocument{}, false
	}
	source, _ := rec.Get(prefix + "_source")
	idx, _ := rec.Get(prefix + "_index")

	d := models.ScoredDocument{
		DocID:     fmt.Sprint(id),
		Text:      fmt.Sprint(content),
		FromGraph: true,
	}
	if s, ok := source.(string); ok {
		d.Source = s
	}
	if n, ok := idx.(int64); ok {
		d.ChunkIndex = int(n)
	}
	return d, true
}
