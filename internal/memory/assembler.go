// Package memory implements the per-turn memory/identity assembler (spec
// C9): it pulls a user's profile, a rolling summary, recent facts, and
// recent turns from the relational store and renders them into a single
// "### USER CONTEXT" block the orchestrator prepends to its system prompt.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"legalrag/internal/domain"
	"legalrag/internal/observability"
)

// ProfileStore resolves a user's identity record.
type ProfileStore interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

// FactStore resolves and appends memory facts for a user.
type FactStore interface {
	RecentFacts(ctx context.Context, userID string, limit int) ([]domain.MemoryFact, error)
	AppendFact(ctx context.Context, fact domain.MemoryFact) error
}

// TurnStore resolves recent turns for a conversation.
type TurnStore interface {
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

// SummaryStore resolves and updates a conversation's rolling summary.
type SummaryStore interface {
	GetSummary(ctx context.Context, conversationID string) (string, error)
	SetSummary(ctx context.Context, conversationID string, summary string) error
}

// Config bounds how much of each memory source is assembled into context.
type Config struct {
	SummaryMaxTokens int // max tokens of rolling summary injected
	RecentFactsK     int // most recent facts, newest first (see rankFacts)
	RecentTurnsM     int // most recent conversation turns
}

// DefaultConfig matches the defaults spec.md implies: a modest summary
// budget and small recency windows, kept well under typical context limits.
func DefaultConfig() Config {
	return Config{SummaryMaxTokens: 512, RecentFactsK: 8, RecentTurnsM: 6}
}

// Assembler builds the USER CONTEXT injection block for each turn.
type Assembler struct {
	Profiles ProfileStore
	Facts    FactStore
	Turns    TurnStore
	Summary  SummaryStore
	Cfg      Config

	encoding *tiktoken.Tiktoken // nil falls back to rune-count budgeting
}

// NewAssembler constructs an Assembler. The tiktoken cl100k_base encoding is
// loaded once and shared across calls; if it fails to load (e.g. offline
// without the bundled ranks), the assembler degrades to a rune-count
// approximation rather than failing turns.
func NewAssembler(profiles ProfileStore, facts FactStore, turns TurnStore, summary SummaryStore, cfg Config) *Assembler {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Assembler{Profiles: profiles, Facts: facts, Turns: turns, Summary: summary, Cfg: cfg, encoding: enc}
}

// Context is the assembled per-turn memory context plus whether any source
// degraded (so the caller can emit a warning event per spec.md §4.9).
type Context struct {
	Block     string
	Anonymous bool
	Degraded  []string // names of sources that failed and were skipped
}

// Assemble builds the USER CONTEXT block for userID/conversationID. Every
// source failure is non-fatal: a missing profile degrades to an anonymous
// context, and a failing fact/turn/summary source is simply omitted, with
// its name recorded in Degraded.
func (a *Assembler) Assemble(ctx context.Context, userID, conversationID string) Context {
	log := observability.LoggerWithTrace(ctx)
	var degraded []string
	var sections []string

	var user domain.User
	anonymous := true
	if a.Profiles != nil {
		u, err := a.Profiles.GetUser(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("memory_profile_unavailable")
			degraded = append(degraded, "profile")
		} else {
			user = u
			anonymous = false
			sections = append(sections, formatProfile(user))
		}
	} else {
		degraded = append(degraded, "profile")
	}

	if a.Summary != nil {
		summary, err := a.Summary.GetSummary(ctx, conversationID)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("memory_summary_unavailable")
			degraded = append(degraded, "summary")
		} else if strings.TrimSpace(summary) != "" {
			sections = append(sections, "Summary of prior interactions:\n"+a.truncateToTokens(summary, a.Cfg.SummaryMaxTokens))
		}
	}

	if a.Facts != nil {
		k := a.Cfg.RecentFactsK
		if k <= 0 {
			k = DefaultConfig().RecentFactsK
		}
		facts, err := a.Facts.RecentFacts(ctx, userID, k)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("memory_facts_unavailable")
			degraded = append(degraded, "facts")
		} else if len(facts) > 0 {
			sections = append(sections, formatFacts(rankFacts(facts, k)))
		}
	}

	if a.Turns != nil {
		m := a.Cfg.RecentTurnsM
		if m <= 0 {
			m = DefaultConfig().RecentTurnsM
		}
		turns, err := a.Turns.RecentTurns(ctx, conversationID, m)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("memory_turns_unavailable")
			degraded = append(degraded, "turns")
		} else if len(turns) > 0 {
			sections = append(sections, formatTurns(turns))
		}
	}

	block := "### USER CONTEXT\n"
	if anonymous {
		block += "(no identity record on file; treat the user as anonymous)\n"
	}
	if len(sections) > 0 {
		block += strings.Join(sections, "\n\n")
	}

	return Context{Block: strings.TrimRight(block, "\n"), Anonymous: anonymous, Degraded: degraded}
}

func formatProfile(u domain.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identity: user %s", u.ID)
	if u.Role != "" {
		fmt.Fprintf(&b, ", role %s", u.Role)
	}
	if u.Department != "" {
		fmt.Fprintf(&b, ", department %s", u.Department)
	}
	if u.Language != "" {
		fmt.Fprintf(&b, ", preferred language %s", u.Language)
	}
	if u.Personalization != "" {
		fmt.Fprintf(&b, "\nNotes: %s", u.Personalization)
	}
	return b.String()
}

// rankFacts orders facts newest first by factRank and caps the result at k.
// Confidence only reorders facts created within the same second.
func rankFacts(facts []domain.MemoryFact, k int) []domain.MemoryFact {
	ranked := make([]domain.MemoryFact, len(facts))
	copy(ranked, facts)
	sort.SliceStable(ranked, func(i, j int) bool {
		return factRank(ranked[i]) > factRank(ranked[j])
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// factRank combines recency (as a Unix timestamp) and confidence into a
// single score. Confidence is in [0,1] and acts as a tiebreaker among facts
// created at similar times.
func factRank(f domain.MemoryFact) float64 {
	return float64(f.CreatedAt.Unix()) + f.Confidence
}

func formatFacts(facts []domain.MemoryFact) string {
	var b strings.Builder
	b.WriteString("Known facts:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s (source: %s, confidence %.2f)\n", f.Content, f.Source, f.Confidence)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTurns(turns []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range turns {
		role := string(t.Role)
		if t.Role == domain.RoleTool {
			fmt.Fprintf(&b, "- [tool:%s] %s\n", t.ToolName, t.Content)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", role, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncateToTokens clamps text to maxTokens using the shared tiktoken
// encoding, or a conservative 4-chars-per-token estimate when the encoding
// failed to load.
func (a *Assembler) truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if a.encoding == nil {
		maxChars := maxTokens * 4
		runes := []rune(text)
		if len(runes) <= maxChars {
			return text
		}
		return string(runes[:maxChars])
	}
	tokens := a.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return a.encoding.Decode(tokens[:maxTokens])
}
