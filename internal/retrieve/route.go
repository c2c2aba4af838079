package retrieve

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"legalrag/internal/domain"
)

// pgRouteCache persists golden routes in Postgres, grounded on the same
// idempotent-upsert idiom used by the document/graph stores. Lookup
// similarity is computed in Go rather than via a vector extension, since the
// golden-route table is expected to stay small (one row per canonical,
// recurring query) relative to the full child-chunk index.
type pgRouteCache struct {
	pool *pgxpool.Pool
}

// NewRouteCache wraps a pgx pool and ensures the golden_routes table exists.
func NewRouteCache(ctx context.Context, pool *pgxpool.Pool) (RouteCache, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS golden_routes (
	fingerprint TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	embedding DOUBLE PRECISION[] NOT NULL,
	parent_chunk_ids TEXT[] NOT NULL
)`)
	if err != nil {
		return nil, fmt.Errorf("retrieve: bootstrap golden_routes: %w", err)
	}
	return &pgRouteCache{pool: pool}, nil
}

func (c *pgRouteCache) Lookup(ctx context.Context, embedding []float32, threshold float64) (domain.Route, bool, error) {
	rows, err := c.pool.Query(ctx, `SELECT fingerprint, query, embedding, parent_chunk_ids FROM golden_routes`)
	if err != nil {
		return domain.Route{}, false, err
	}
	defer rows.Close()

	var best domain.Route
	bestSim := threshold
	found := false
	for rows.Next() {
		var fp, query string
		var embed []float64
		var parentIDs []string
		if err := rows.Scan(&fp, &query, &embed, &parentIDs); err != nil {
			return domain.Route{}, false, err
		}
		vec := make([]float32, len(embed))
		for i, v := range embed {
			vec[i] = float32(v)
		}
		sim := cosineSimilarity(embedding, vec)
		if sim >= bestSim {
			bestSim = sim
			best = domain.Route{Fingerprint: fp, Query: query, Embedding: vec, ParentChunkIDs: parentIDs}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Route{}, false, err
	}
	return best, found, nil
}

func (c *pgRouteCache) Store(ctx context.Context, route domain.Route) error {
	embed := make([]float64, len(route.Embedding))
	for i, v := range route.Embedding {
		embed[i] = float64(v)
	}
	_, err := c.pool.Exec(ctx, `
INSERT INTO golden_routes (fingerprint, query, embedding, parent_chunk_ids) VALUES ($1, $2, $3, $4)
ON CONFLICT (fingerprint) DO UPDATE SET query = EXCLUDED.query, embedding = EXCLUDED.embedding, parent_chunk_ids = EXCLUDED.parent_chunk_ids
`, route.Fingerprint, route.Query, embed, route.ParentChunkIDs)
	return err
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
