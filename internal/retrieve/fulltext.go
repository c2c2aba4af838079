package retrieve

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FullTextHit is one row returned by a full-text search over child chunks.
type FullTextHit struct {
	ChildChunkUUID string
	Score          float64
	Metadata       map[string]string
}

// FullTextSearch is the relational keyword-search side of hybrid retrieval,
// backed by Postgres tsvector columns.
type FullTextSearch interface {
	Search(ctx context.Context, query string, language string, limit int) ([]FullTextHit, error)
	// Index upserts the searchable mirror of one child chunk's text, called
	// by the ingest pipeline alongside the vector store upsert so both legs
	// of hybrid retrieval stay in sync.
	Index(ctx context.Context, childChunkUUID string, text string, language string) error
}

type pgFullText struct {
	pool *pgxpool.Pool
}

// NewFullTextSearch wraps a pgx pool and ensures the child_chunk_text table
// (a denormalized, searchable mirror of vectorstore content) exists.
func NewFullTextSearch(ctx context.Context, pool *pgxpool.Pool) (FullTextSearch, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS child_chunk_text (
			uuid TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT 'simple',
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text, ''))) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS child_chunk_text_ts_idx ON child_chunk_text USING GIN (ts)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("retrieve: bootstrap full-text schema: %w", err)
		}
	}
	return &pgFullText{pool: pool}, nil
}

func (p *pgFullText) Search(ctx context.Context, query string, language string, limit int) ([]FullTextHit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT uuid, ts_rank(ts, websearch_to_tsquery('simple', $1)) AS score
FROM child_chunk_text
WHERE ts @@ websearch_to_tsquery('simple', $1)
ORDER BY score DESC
LIMIT $2
`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: full-text search: %w", err)
	}
	defer rows.Close()
	out := make([]FullTextHit, 0, limit)
	for rows.Next() {
		var h FullTextHit
		if err := rows.Scan(&h.ChildChunkUUID, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *pgFullText) Index(ctx context.Context, childChunkUUID string, text string, language string) error {
	if language == "" {
		language = "simple"
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO child_chunk_text (uuid, text, language) VALUES ($1, $2, $3)
ON CONFLICT (uuid) DO UPDATE SET text = $2, language = $3
`, childChunkUUID, text, language)
	if err != nil {
		return fmt.Errorf("retrieve: index child chunk: %w", err)
	}
	return nil
}
