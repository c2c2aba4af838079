// Package graphstore persists the knowledge graph (spec C5) — typed
// Entities and Relationships over Postgres — and answers bounded-depth
// traversal queries used by graph expansion in internal/retrieve.
package graphstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"legalrag/internal/domain"
)

// MaxTraversalDepth bounds Traverse regardless of the caller-requested depth,
// preventing a pathological graph from turning a single tool call into an
// unbounded walk.
const MaxTraversalDepth = 3

var (
	// ErrEntityNotFound is returned when a traversal or lookup names an
	// entity id absent from the graph.
	ErrEntityNotFound = errors.New("graphstore: entity not found")
)

// Store is the knowledge-graph contract consumed by internal/retrieve and
// the graph_traversal tool.
type Store interface {
	UpsertEntity(ctx context.Context, e domain.Entity) error
	UpsertRelationship(ctx context.Context, r domain.Relationship) error
	FindEntityByName(ctx context.Context, name string) (domain.Entity, error)
	GetEntity(ctx context.Context, id string) (domain.Entity, error)
	// Traverse runs a breadth-first search outward from startID up to depth
	// hops (clamped to MaxTraversalDepth), following relationships of the
	// given types (all types if empty), and returns every entity reached
	// together with the relationship that first reached it. Cycles are
	// detected via a visited set so a graph with loops still terminates.
	Traverse(ctx context.Context, startID string, depth int, relTypes []domain.RelationshipType) ([]TraversalHit, error)
	Close()
}

// TraversalHit is one entity discovered during a bounded BFS, annotated with
// the hop distance and the relationship edge that reached it.
type TraversalHit struct {
	Entity  domain.Entity
	Depth   int
	ViaRel  domain.RelationshipType
	FromID  string
}

type pgStore struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgx pool and ensures the entities/relationships
// tables exist. Schema migration is otherwise out of scope; this is a
// best-effort dev bootstrap, matching the persistence layer's tolerance for
// CREATE IF NOT EXISTS at startup.
func New(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS entities_name_idx ON entities (lower(name))`,
		`CREATE TABLE IF NOT EXISTS relationships (
			source TEXT NOT NULL REFERENCES entities(id),
			target TEXT NOT NULL REFERENCES entities(id),
			type TEXT NOT NULL,
			strength DOUBLE PRECISION,
			PRIMARY KEY (source, target, type)
		)`,
		`CREATE INDEX IF NOT EXISTS relationships_source_idx ON relationships (source, type)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("graphstore: bootstrap schema: %w", err)
		}
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) UpsertEntity(ctx context.Context, e domain.Entity) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO entities (id, type, name, description) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, name = EXCLUDED.name, description = EXCLUDED.description
`, e.ID, string(e.Type), e.Name, e.Description)
	return err
}

func (s *pgStore) UpsertRelationship(ctx context.Context, r domain.Relationship) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO relationships (source, target, type, strength) VALUES ($1, $2, $3, $4)
ON CONFLICT (source, target, type) DO UPDATE SET strength = EXCLUDED.strength
`, r.Source, r.Target, string(r.Type), r.Strength)
	return err
}

func (s *pgStore) scanEntity(row pgx.Row) (domain.Entity, error) {
	var e domain.Entity
	var typ string
	if err := row.Scan(&e.ID, &typ, &e.Name, &e.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entity{}, ErrEntityNotFound
		}
		return domain.Entity{}, err
	}
	e.Type = domain.EntityType(typ)
	return e, nil
}

func (s *pgStore) FindEntityByName(ctx context.Context, name string) (domain.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, type, name, description FROM entities WHERE lower(name) = lower($1) LIMIT 1`, name)
	return s.scanEntity(row)
}

func (s *pgStore) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, type, name, description FROM entities WHERE id = $1`, id)
	return s.scanEntity(row)
}

func (s *pgStore) Traverse(ctx context.Context, startID string, depth int, relTypes []domain.RelationshipType) ([]TraversalHit, error) {
	if depth <= 0 || depth > MaxTraversalDepth {
		depth = MaxTraversalDepth
	}
	if _, err := s.GetEntity(ctx, startID); err != nil {
		return nil, err
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var hits []TraversalHit

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.outgoing(ctx, id, relTypes)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if visited[edge.target] {
					continue // cycle: already reached by a prior or same hop
				}
				visited[edge.target] = true
				ent, err := s.GetEntity(ctx, edge.target)
				if err != nil {
					continue // dangling edge target; skip rather than fail the whole traversal
				}
				hits = append(hits, TraversalHit{Entity: ent, Depth: hop, ViaRel: edge.relType, FromID: id})
				next = append(next, edge.target)
			}
		}
		frontier = next
	}
	return hits, nil
}

type edgeRow struct {
	target  string
	relType domain.RelationshipType
}

func (s *pgStore) outgoing(ctx context.Context, id string, relTypes []domain.RelationshipType) ([]edgeRow, error) {
	var rows pgx.Rows
	var err error
	if len(relTypes) == 0 {
		rows, err = s.pool.Query(ctx, `SELECT target, type FROM relationships WHERE source = $1`, id)
	} else {
		types := make([]string, len(relTypes))
		for i, t := range relTypes {
			types[i] = string(t)
		}
		rows, err = s.pool.Query(ctx, `SELECT target, type FROM relationships WHERE source = $1 AND type = ANY($2)`, id, types)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []edgeRow
	for rows.Next() {
		var r edgeRow
		var typ string
		if err := rows.Scan(&r.target, &typ); err != nil {
			return nil, err
		}
		r.relType = domain.RelationshipType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) Close() {}
