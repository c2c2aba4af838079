// Package verify implements the optional answer verifier (spec C10): it
// grades a draft answer against the evidence passages that produced it and
// reports whether the answer's claims are actually supported.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"legalrag/internal/domain"
	"legalrag/internal/llm"
	"legalrag/internal/observability"
)

// Status is the verifier's verdict on a draft answer.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Verdict is the verifier's structured output.
type Verdict struct {
	Status    Status  `json:"status"`
	Score     float64 `json:"score"` // in [0, 1]
	Reasoning string  `json:"reasoning"`
}

// Verifier grades (query, draft answer, evidence) via an LLM judge call. A
// nil-safe zero value falls back to a lexical-overlap heuristic so callers
// can run without a configured model during tests or degraded mode.
type Verifier struct {
	Model    llm.Provider
	ModelTag string
}

// New constructs a Verifier backed by model.
func New(model llm.Provider, modelTag string) *Verifier {
	return &Verifier{Model: model, ModelTag: modelTag}
}

const verifierSystemPrompt = `You are a strict fact-checker for a legal/regulatory assistant. Given a question, a draft answer, and the evidence passages the answer was built from, decide whether every claim in the draft answer is supported by the evidence.

Respond with ONLY a JSON object: {"status": "pass"|"warn"|"fail", "score": <0..1>, "reasoning": "<one or two sentences>"}.

"fail" means the draft contains a claim not supported by the evidence (suspected hallucination). "warn" means the draft is mostly supported but hedges or extrapolates slightly. "pass" means every claim traces back to the evidence.`

// Verify grades draft against evidence for query. When m.Model is nil, it
// falls back to a conservative lexical-overlap heuristic rather than
// failing the turn outright.
func (m *Verifier) Verify(ctx context.Context, query, draft string, evidence []domain.ParentChunk) (Verdict, error) {
	log := observability.LoggerWithTrace(ctx)
	if m.Model == nil {
		return heuristicVerdict(draft, evidence), nil
	}

	userPrompt := fmt.Sprintf("Question: %s\n\nDraft answer:\n%s\n\nEvidence passages:\n%s", query, draft, formatEvidence(evidence))
	msgs := []llm.Message{
		{Role: "system", Content: verifierSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	resp, err := m.Model.Chat(ctx, msgs, nil, m.ModelTag)
	if err != nil {
		log.Warn().Err(err).Msg("verifier_call_failed")
		return heuristicVerdict(draft, evidence), nil
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		log.Warn().Err(err).Str("raw", resp.Content).Msg("verifier_unparseable_response")
		return heuristicVerdict(draft, evidence), nil
	}
	return verdict, nil
}

func formatEvidence(evidence []domain.ParentChunk) string {
	var b strings.Builder
	for i, e := range evidence {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, e.DocumentID+"#"+e.HierarchyPath, e.Text)
	}
	return b.String()
}

func parseVerdict(content string) (Verdict, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end == -1 || end < start {
		return Verdict{}, fmt.Errorf("verify: no JSON object in response")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return Verdict{}, fmt.Errorf("verify: %w", err)
	}
	switch v.Status {
	case StatusPass, StatusWarn, StatusFail:
	default:
		return Verdict{}, fmt.Errorf("verify: unrecognized status %q", v.Status)
	}
	if v.Score < 0 || v.Score > 1 {
		return Verdict{}, fmt.Errorf("verify: score %f out of [0,1]", v.Score)
	}
	return v, nil
}

// heuristicVerdict is the degrade path when no judge model is configured or
// the judge call failed: a crude token-overlap check between the draft and
// the evidence text, erring toward "warn" rather than blocking the turn.
func heuristicVerdict(draft string, evidence []domain.ParentChunk) Verdict {
	if len(evidence) == 0 {
		return Verdict{Status: StatusWarn, Score: 0.4, Reasoning: "no evidence passages were available to check against"}
	}
	var combined strings.Builder
	for _, e := range evidence {
		combined.WriteString(strings.ToLower(e.Text))
		combined.WriteByte(' ')
	}
	haystack := combined.String()

	words := strings.Fields(strings.ToLower(draft))
	if len(words) == 0 {
		return Verdict{Status: StatusWarn, Score: 0.5, Reasoning: "empty draft answer"}
	}
	matched := 0
	for _, w := range words {
		if len(w) < 4 {
			continue
		}
		if strings.Contains(haystack, w) {
			matched++
		}
	}
	ratio := float64(matched) / float64(len(words))
	switch {
	case ratio >= 0.5:
		return Verdict{Status: StatusPass, Score: ratio, Reasoning: "lexical overlap heuristic: most terms traced to evidence"}
	case ratio >= 0.2:
		return Verdict{Status: StatusWarn, Score: ratio, Reasoning: "lexical overlap heuristic: partial overlap with evidence"}
	default:
		return Verdict{Status: StatusFail, Score: ratio, Reasoning: "lexical overlap heuristic: draft shares little vocabulary with evidence"}
	}
}
