package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/pkg/models"
)

// PGVector is a chunk index on PostgreSQL with the pgvector extension.
// The table and extension are created on startup if missing.
type PGVector struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

func NewPGVector(ctx context.Context, connURL, table string, dimensions int) (*PGVector, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PGVector{pool: pool, table: table, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	log.Info().Str("table", table).Int("dims", dimensions).Msg("pgvector index initialized")
	return s, nil
}

func (s *PGVector) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS %s (
			doc_id      TEXT PRIMARY KEY,
			source      TEXT NOT NULL DEFAULT '',
			chunk_index INT NOT NULL DEFAULT 0,
			content     TEXT NOT NULL DEFAULT '',
			vector      vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_%s_source ON %s (source);
	`, s.table, s.dimensions, s.table, s.table)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PGVector) Kind() string { return "pgvector" }

func (s *PGVector) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (doc_id, source, chunk_index, content, vector, created_at) VALUES ", s.table)

	args := make([]interface{}, 0, len(chunks)*6)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*6 + 1
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4, base+5)
		id := c.DocID
		if id == "" {
			id = models.DocumentID(c.Source, c.Content)
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		args = append(args, id, c.Source, c.ChunkIndex, c.Content, pgvectorArray(c.Vector), created)
	}

	sb.WriteString(` ON CONFLICT (doc_id) DO UPDATE SET
		source = EXCLUDED.source,
		chunk_index = EXCLUDED.chunk_index,
		content = EXCLUDED.content,
		vector = EXCLUDED.vector`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PGVector) Search(ctx context.Context, vector []float64, k int) ([]models.ScoredDocument, error) {
	query := fmt.Sprintf(`SELECT doc_id, source, chunk_index, content,
		1 - (vector <=> $1) AS score
		FROM %s
		ORDER BY vector <=> $1 LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvectorArray(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredDocument
	for rows.Next() {
		var d models.ScoredDocument
		if err := rows.Scan(&d.DocID, &d.Source, &d.ChunkIndex, &d.Text, &d.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *PGVector) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PGVector) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}
