// Package parentstore persists Documents and their ParentChunk hierarchy
// (spec C4) in Postgres. ChildChunks live in internal/vectorstore; this
// package is the source of truth for parent text and document provenance,
// joined back to child hits during retrieval.
package parentstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"legalrag/internal/domain"
)

var (
	// ErrDocumentNotFound is returned by GetDocument for an unknown id.
	ErrDocumentNotFound = errors.New("parentstore: document not found")
	// ErrParentNotFound is returned by GetParent for an unknown id.
	ErrParentNotFound = errors.New("parentstore: parent chunk not found")
	// ErrDuplicateHierarchyPath is returned by UpsertParent when a second
	// canonical document claims the same (document_id, hierarchy_path) pair.
	ErrDuplicateHierarchyPath = errors.New("parentstore: duplicate hierarchy path for document")
)

// Store is the relational contract for Documents and ParentChunks.
type Store interface {
	UpsertDocument(ctx context.Context, d domain.Document) error
	UpsertParent(ctx context.Context, p domain.ParentChunk) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	GetParent(ctx context.Context, id string) (domain.ParentChunk, error)
	ListParents(ctx context.Context, documentID string) ([]domain.ParentChunk, error)
	// GetFullText reconstructs a document's text by concatenating its leaf
	// ParentChunks in hierarchy order.
	GetFullText(ctx context.Context, documentID string) (string, error)
	Close()
}

type pgStore struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgx pool and ensures the documents/parent_chunks
// tables exist.
func New(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			issuing_authority TEXT NOT NULL DEFAULT '',
			year INT NOT NULL DEFAULT 0,
			language TEXT NOT NULL DEFAULT '',
			source_uri TEXT NOT NULL DEFAULT '',
			ingestion_run_id TEXT NOT NULL DEFAULT '',
			is_canonical BOOLEAN NOT NULL DEFAULT true,
			ocr_quality DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS parent_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id),
			hierarchy_path TEXT NOT NULL,
			parent_id TEXT,
			child_ids TEXT[] NOT NULL DEFAULT '{}',
			text TEXT NOT NULL,
			char_count INT NOT NULL,
			hierarchy_level INT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			UNIQUE (document_id, hierarchy_path)
		)`,
		`CREATE INDEX IF NOT EXISTS parent_chunks_document_idx ON parent_chunks (document_id, hierarchy_level)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("parentstore: bootstrap schema: %w", err)
		}
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) UpsertDocument(ctx context.Context, d domain.Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents (id, type, title, issuing_authority, year, language, source_uri, ingestion_run_id, is_canonical, ocr_quality)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	type = EXCLUDED.type, title = EXCLUDED.title, issuing_authority = EXCLUDED.issuing_authority,
	year = EXCLUDED.year, language = EXCLUDED.language, source_uri = EXCLUDED.source_uri,
	ingestion_run_id = EXCLUDED.ingestion_run_id, is_canonical = EXCLUDED.is_canonical, ocr_quality = EXCLUDED.ocr_quality
`, d.ID, d.Type, d.Title, d.IssuingAuthority, d.Year, d.Language, d.SourceURI, d.IngestionRunID, d.IsCanonical, d.OCRQuality)
	return err
}

// UpsertParent inserts or updates a ParentChunk. A uniqueness violation on
// (document_id, hierarchy_path) surfaces as ErrDuplicateHierarchyPath rather
// than a raw driver error, since callers treat it as a distinct, recoverable
// ingestion conflict.
func (s *pgStore) UpsertParent(ctx context.Context, p domain.ParentChunk) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO parent_chunks (id, document_id, hierarchy_path, parent_id, child_ids, text, char_count, hierarchy_level, summary)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	hierarchy_path = EXCLUDED.hierarchy_path, parent_id = EXCLUDED.parent_id, child_ids = EXCLUDED.child_ids,
	text = EXCLUDED.text, char_count = EXCLUDED.char_count, hierarchy_level = EXCLUDED.hierarchy_level, summary = EXCLUDED.summary
`, p.ID, p.DocumentID, p.HierarchyPath, p.ParentID, p.ChildIDs, p.Text, p.CharCount, p.HierarchyLevel, p.Summary)
	if err != nil && strings.Contains(err.Error(), "parent_chunks_document_id_hierarchy_path_key") {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateHierarchyPath, p.DocumentID, p.HierarchyPath)
	}
	return err
}

func (s *pgStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, type, title, issuing_authority, year, language, source_uri, ingestion_run_id, is_canonical, ocr_quality
FROM documents WHERE id = $1`, id)
	var d domain.Document
	if err := row.Scan(&d.ID, &d.Type, &d.Title, &d.IssuingAuthority, &d.Year, &d.Language, &d.SourceURI, &d.IngestionRunID, &d.IsCanonical, &d.OCRQuality); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, ErrDocumentNotFound
		}
		return domain.Document{}, err
	}
	return d, nil
}

func (s *pgStore) scanParent(row pgx.Row) (domain.ParentChunk, error) {
	var p domain.ParentChunk
	if err := row.Scan(&p.ID, &p.DocumentID, &p.HierarchyPath, &p.ParentID, &p.ChildIDs, &p.Text, &p.CharCount, &p.HierarchyLevel, &p.Summary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ParentChunk{}, ErrParentNotFound
		}
		return domain.ParentChunk{}, err
	}
	return p, nil
}

func (s *pgStore) GetParent(ctx context.Context, id string) (domain.ParentChunk, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, document_id, hierarchy_path, parent_id, child_ids, text, char_count, hierarchy_level, summary
FROM parent_chunks WHERE id = $1`, id)
	return s.scanParent(row)
}

func (s *pgStore) ListParents(ctx context.Context, documentID string) ([]domain.ParentChunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, hierarchy_path, parent_id, child_ids, text, char_count, hierarchy_level, summary
FROM parent_chunks WHERE document_id = $1 ORDER BY hierarchy_path`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ParentChunk
	for rows.Next() {
		p, err := s.scanParent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetFullText reconstructs a document's text from its leaf ParentChunks
// (those with no children), ordered by hierarchy path. Concatenation is a
// best-effort reconstruction for display/export, not a guarantee of
// byte-exact equivalence with the source.
func (s *pgStore) GetFullText(ctx context.Context, documentID string) (string, error) {
	parents, err := s.ListParents(ctx, documentID)
	if err != nil {
		return "", err
	}
	leaves := make([]domain.ParentChunk, 0, len(parents))
	for _, p := range parents {
		if len(p.ChildIDs) == 0 {
			leaves = append(leaves, p)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].HierarchyPath < leaves[j].HierarchyPath })
	var b strings.Builder
	for i, p := range leaves {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func (s *pgStore) Close() {}
