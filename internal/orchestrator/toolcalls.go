package orchestrator

import (
	"encoding/json"
	"sort"

	"legalrag/internal/llm"
)

// selectToolCall adapts the teacher's tolerant-of-duplicates dispatch into
// the stricter single-action ReAct step: identical calls (same name and
// canonicalized args) are deduplicated, and when more than one distinct call
// remains, the first-declared one wins; the rest are reported as discarded
// so the caller can log/stream a warning instead of silently dropping them.
func selectToolCall(calls []llm.ToolCall) (chosen llm.ToolCall, discarded []ToolCallEvent, ok bool) {
	if len(calls) == 0 {
		return llm.ToolCall{}, nil, false
	}

	seen := make(map[string]bool, len(calls))
	var unique []llm.ToolCall
	for _, c := range calls {
		key := canonicalToolCallKey(c)
		if seen[key] {
			discarded = append(discarded, ToolCallEvent{
				Name: c.Name, Args: c.Args, ToolCallID: c.ID,
				Discarded: true, DiscardedWhy: "duplicate of an earlier identical call in this turn",
			})
			continue
		}
		seen[key] = true
		unique = append(unique, c)
	}

	chosen = unique[0]
	for _, c := range unique[1:] {
		discarded = append(discarded, ToolCallEvent{
			Name: c.Name, Args: c.Args, ToolCallID: c.ID,
			Discarded: true, DiscardedWhy: "first-declared-wins tie-break: only one tool call executes per step",
		})
	}
	return chosen, discarded, true
}

// canonicalToolCallKey normalizes a tool call to (name, sorted-key JSON args)
// so two calls with identical semantics but different key ordering compare
// equal.
func canonicalToolCallKey(c llm.ToolCall) string {
	canon, err := canonicalizeJSON(c.Args)
	if err != nil {
		canon = string(c.Args)
	}
	return c.Name + "\x00" + canon
}

func canonicalizeJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(sortedValue(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sortedValue returns an equivalent value with map keys in a deterministic
// order by converting maps to a slice of ordered key/value pairs is
// unnecessary here since encoding/json already sorts map[string]any keys on
// Marshal; sortedValue exists to make that guarantee explicit and to recurse
// into nested maps/slices uniformly.
func sortedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return t
	}
}
