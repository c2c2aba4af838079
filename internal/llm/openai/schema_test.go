package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/llm"
)

func TestAdaptMessages_RoundTripsToolCalls(t *testing.T) {
	msgs := []llm.Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "find pasal 5"},
		{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "vector_search", Args: []byte(`{"q":"pasal 5"}`), ID: "call-1"}}},
		{Role: "tool", ToolID: "call-1", Content: `{"results":[]}`},
	}
	out := AdaptMessages("gpt-4o", msgs)
	require.Len(t, out, 4)
	assert.NotNil(t, out[2].OfAssistant)
	require.Len(t, out[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "vector_search", out[2].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}

func TestAdaptSchemas_SetsNameAndParameters(t *testing.T) {
	schemas := []llm.ToolSchema{{Name: "calculator", Description: "evaluate an expression", Parameters: map[string]any{"type": "object"}}}
	out := AdaptSchemas(schemas)
	require.Len(t, out, 1)
	assert.Equal(t, "calculator", out[0].OfFunction.Function.Name)
}
