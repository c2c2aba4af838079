package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/domain"
)

type fakeProfiles struct {
	user domain.User
	err  error
}

func (f *fakeProfiles) GetUser(ctx context.Context, userID string) (domain.User, error) {
	return f.user, f.err
}

type fakeFacts struct {
	facts []domain.MemoryFact
	err   error
}

func (f *fakeFacts) RecentFacts(ctx context.Context, userID string, limit int) ([]domain.MemoryFact, error) {
	return f.facts, f.err
}
func (f *fakeFacts) AppendFact(ctx context.Context, fact domain.MemoryFact) error { return nil }

type fakeTurns struct {
	turns []domain.Turn
	err   error
}

func (f *fakeTurns) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	return f.turns, f.err
}

type fakeSummary struct {
	summary string
	err     error
}

func (f *fakeSummary) GetSummary(ctx context.Context, conversationID string) (string, error) {
	return f.summary, f.err
}
func (f *fakeSummary) SetSummary(ctx context.Context, conversationID string, summary string) error {
	return nil
}

func TestAssemble_FullContext(t *testing.T) {
	a := NewAssembler(
		&fakeProfiles{user: domain.User{ID: "zero", Role: "Founder", Language: "id"}},
		&fakeFacts{facts: []domain.MemoryFact{
			{Content: "prefers Bahasa Indonesia", Source: "turn-1", Confidence: 0.9, CreatedAt: time.Now()},
		}},
		&fakeTurns{turns: []domain.Turn{
			{Role: domain.RoleUser, Content: "who am I?"},
			{Role: domain.RoleAssistant, Content: "you are zero, the Founder"},
		}},
		&fakeSummary{summary: "user has asked about visa pricing before"},
		DefaultConfig(),
	)

	result := a.Assemble(context.Background(), "zero", "conv-1")
	assert.False(t, result.Anonymous)
	assert.Empty(t, result.Degraded)
	assert.Contains(t, result.Block, "### USER CONTEXT")
	assert.Contains(t, result.Block, "Founder")
	assert.Contains(t, result.Block, "prefers Bahasa Indonesia")
	assert.Contains(t, result.Block, "visa pricing")
	assert.Contains(t, result.Block, "who am I?")
}

func TestAssemble_MissingProfileDegradesToAnonymous(t *testing.T) {
	a := NewAssembler(
		&fakeProfiles{err: errors.New("not found")},
		&fakeFacts{},
		&fakeTurns{},
		&fakeSummary{},
		DefaultConfig(),
	)

	result := a.Assemble(context.Background(), "unknown-user", "conv-2")
	assert.True(t, result.Anonymous)
	assert.Contains(t, result.Degraded, "profile")
	assert.Contains(t, result.Block, "anonymous")
}

func TestAssemble_FactRankingByRecencyAndConfidence(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	a := NewAssembler(
		&fakeProfiles{user: domain.User{ID: "zero"}},
		&fakeFacts{facts: []domain.MemoryFact{
			{Content: "old low-confidence fact", Confidence: 0.1, CreatedAt: old},
			{Content: "recent fact", Confidence: 0.9, CreatedAt: recent},
		}},
		&fakeTurns{},
		&fakeSummary{},
		Config{RecentFactsK: 1, SummaryMaxTokens: 100, RecentTurnsM: 5},
	)

	result := a.Assemble(context.Background(), "zero", "conv-3")
	assert.Contains(t, result.Block, "recent fact")
	assert.NotContains(t, result.Block, "old low-confidence fact")
}

func TestAssemble_SummaryTruncatedToTokenBudget(t *testing.T) {
	long := ""
	for i := 0; i < 2000; i++ {
		long += "word "
	}
	a := NewAssembler(
		&fakeProfiles{user: domain.User{ID: "zero"}},
		&fakeFacts{},
		&fakeTurns{},
		&fakeSummary{summary: long},
		Config{SummaryMaxTokens: 10, RecentFactsK: 5, RecentTurnsM: 5},
	)

	result := a.Assemble(context.Background(), "zero", "conv-4")
	require.Contains(t, result.Block, "Summary of prior interactions")
	assert.Less(t, len(result.Block), len(long))
}
