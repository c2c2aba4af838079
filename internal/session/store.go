// Package session implements the durable conversation/turn store and the
// relational memory backends the assembler depends on (spec C12): an
// append-only Turn log, user profiles, recency-ranked memory facts, and
// per-conversation rolling summaries, all over Postgres via pgx/pgxpool,
// following the same pool-wrapper shape as internal/parentstore and
// internal/graphstore.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"legalrag/internal/domain"
)

// ErrUserNotFound is returned by GetUser for an unknown id.
var ErrUserNotFound = errors.New("session: user not found")

// Store is the durable conversation/memory contract. It satisfies
// orchestrator.TurnSink and every interface internal/memory.Assembler needs
// (ProfileStore, FactStore, TurnStore, SummaryStore), so one store can back
// the whole per-turn context-assembly pipeline.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgx pool and ensures the conversation/memory tables
// exist.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			personalization TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_name TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS turns_conversation_idx ON turns (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS memory_facts_user_idx ON memory_facts (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			conversation_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("session: init schema: %w", err)
		}
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// AppendTurn persists one finished turn. Turns are immutable once written;
// the orchestrator calls this for the user turn and, when the request
// finishes, the final assistant turn (tool observations are not persisted),
// satisfying orchestrator.TurnSink.
func (s *Store) AppendTurn(ctx context.Context, t domain.Turn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (conversation_id, role, content, tool_name, tool_call_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, TIMESTAMPTZ '0001-01-01'), now()))`,
		t.ConversationID, string(t.Role), t.Content, t.ToolName, t.ToolCallID, t.Timestamp)
	if err != nil {
		return fmt.Errorf("session: append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the most recent turns for a conversation, oldest
// first, satisfying internal/memory.TurnStore.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, role, content, tool_name, tool_call_id, created_at
		 FROM turns WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("session: recent turns: %w", err)
	}
	defer rows.Close()

	var out []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role string
		if err := rows.Scan(&t.ConversationID, &role, &t.Content, &t.ToolName, &t.ToolCallID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("session: scan turn: %w", err)
		}
		t.Role = domain.TurnRole(role)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func reverse(turns []domain.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

// GetUser resolves a user's identity record, satisfying
// internal/memory.ProfileStore.
func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, role, department, language, personalization FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Role, &u.Department, &u.Language, &u.Personalization)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("session: get user: %w", err)
	}
	return u, nil
}

// UpsertUser writes or replaces a user's identity record.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, role, department, language, personalization)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET role = $2, department = $3, language = $4, personalization = $5`,
		u.ID, u.Role, u.Department, u.Language, u.Personalization)
	if err != nil {
		return fmt.Errorf("session: upsert user: %w", err)
	}
	return nil
}

// RecentFacts returns a user's most recent memory facts, newest first,
// satisfying internal/memory.FactStore. The assembler re-sorts them newest
// first with confidence as a same-second tiebreak; this just bounds how many
// candidates it sees.
func (s *Store) RecentFacts(ctx context.Context, userID string, limit int) ([]domain.MemoryFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, content, source, confidence, created_at
		 FROM memory_facts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("session: recent facts: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryFact
	for rows.Next() {
		var f domain.MemoryFact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.Source, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("session: scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendFact stores a new memory fact, satisfying internal/memory.FactStore.
func (s *Store) AppendFact(ctx context.Context, fact domain.MemoryFact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_facts (id, user_id, content, source, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, TIMESTAMPTZ '0001-01-01'), now()))
		 ON CONFLICT (id) DO UPDATE SET content = $3, source = $4, confidence = $5`,
		fact.ID, fact.UserID, fact.Content, fact.Source, fact.Confidence, fact.CreatedAt)
	if err != nil {
		return fmt.Errorf("session: append fact: %w", err)
	}
	return nil
}

// GetSummary returns a conversation's rolling summary, or "" if none exists
// yet, satisfying internal/memory.SummaryStore.
func (s *Store) GetSummary(ctx context.Context, conversationID string) (string, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM conversation_summaries WHERE conversation_id = $1`, conversationID,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: get summary: %w", err)
	}
	return summary, nil
}

// SetSummary writes a conversation's rolling summary, satisfying
// internal/memory.SummaryStore.
func (s *Store) SetSummary(ctx context.Context, conversationID string, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_summaries (conversation_id, summary, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (conversation_id) DO UPDATE SET summary = $2, updated_at = now()`,
		conversationID, summary)
	if err != nil {
		return fmt.Errorf("session: set summary: %w", err)
	}
	return nil
}
