package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/config"
	"legalrag/internal/llm"
	"legalrag/internal/memory"
	"legalrag/internal/tools"
)

// stubGenerator scripts a fixed sequence of ChatStream responses, one per
// call, so a test can drive the loop through several steps deterministically.
type stubGenerator struct {
	steps []stubStep
	calls int
}

type stubStep struct {
	delta string
	tool  *llm.ToolCall
	err   error
}

func (g *stubGenerator) Chat(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string) (llm.Message, string, error) {
	return llm.Message{}, "stub", nil
}

func (g *stubGenerator) ChatStream(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string, h llm.StreamHandler) (string, error) {
	if g.calls >= len(g.steps) {
		return "stub", nil
	}
	step := g.steps[g.calls]
	g.calls++
	if step.err != nil {
		return "", step.err
	}
	if step.delta != "" {
		h.OnDelta(step.delta)
	}
	if step.tool != nil {
		h.OnToolCall(*step.tool)
	}
	return "stub", nil
}

// fixedRegistry dispatches every call to a canned payload, regardless of
// tool name/args, so loop-shape tests don't need real retrieval plumbing.
type fixedRegistry struct {
	payload []byte
}

func newDispatchStub(payload []byte) tools.Registry { return &fixedRegistry{payload: payload} }

func (r *fixedRegistry) Schemas() []llm.ToolSchema { return nil }
func (r *fixedRegistry) Register(t tools.Tool)      {}
func (r *fixedRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	return r.payload, nil
}

func newFullRegistry() tools.Registry { return tools.NewRegistry() }

func TestRun_OutOfDomainRefuses(t *testing.T) {
	o := &Orchestrator{Gen: &stubGenerator{}, Tools: newFullRegistry(), Cfg: config.OrchestratorConfig{}}
	result, err := o.Run(context.Background(), Request{Message: "what's the weather like today"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutOfDomainRefusal, result.Answer)
	assert.Zero(t, result.Steps)
}

func TestRun_IdentityShortcutWithoutProfile(t *testing.T) {
	o := &Orchestrator{
		Gen:    &stubGenerator{},
		Tools:  newFullRegistry(),
		Memory: memory.NewAssembler(nil, nil, nil, nil, memory.DefaultConfig()),
	}
	result, err := o.Run(context.Background(), Request{UserID: "zero", Message: "who am I?"}, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "don't have an identity record")
}

func TestRun_SingleToolCallThenFinalAnswer(t *testing.T) {
	gen := &stubGenerator{steps: []stubStep{
		{tool: &llm.ToolCall{Name: "vector_search", Args: json.RawMessage(`{"query":"visa fee"}`)}},
		{delta: "The visa fee is 1,500,000 IDR."},
	}}
	payload := []byte(`{"ok":true,"results":[{"citation_id":"PP_31_2013#Pasal 5","text":"the visa fee is 1500000 rupiah","score":0.9}],"route_cached":false}`)
	o := &Orchestrator{Gen: gen, Tools: newDispatchStub(payload), Model: "test-model"}

	result, err := o.Run(context.Background(), Request{Message: "how much is the visa fee under PP 31 2013"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "The visa fee is 1,500,000 IDR.", result.Answer)
	assert.Equal(t, 1, result.Steps)
	assert.Contains(t, result.Citations, "PP_31_2013#Pasal 5")
}

func TestRun_StepBudgetTruncates(t *testing.T) {
	steps := make([]stubStep, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, stubStep{tool: &llm.ToolCall{Name: "vector_search", Args: json.RawMessage(`{"query":"x"}`)}})
	}
	gen := &stubGenerator{steps: steps}
	o := &Orchestrator{Gen: gen, Tools: newDispatchStub([]byte(`{"ok":true,"results":[]}`)), Cfg: config.OrchestratorConfig{StepBudget: 3}}

	result, err := o.Run(context.Background(), Request{Message: "tell me about visa pasal 5 requirements"}, nil)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 3, result.Steps)
}

func TestRun_StreamsTokenAndDoneEvents(t *testing.T) {
	gen := &stubGenerator{steps: []stubStep{{delta: "hello there"}}}
	o := &Orchestrator{Gen: gen, Tools: newFullRegistry()}

	var types []EventType
	_, err := o.Run(context.Background(), Request{Message: "visa pasal 5 requirements please"}, func(ev Event) {
		types = append(types, ev.Type)
	})
	require.NoError(t, err)
	assert.Contains(t, types, EventToken)
	assert.Equal(t, EventDone, types[len(types)-1])
	assert.Equal(t, EventMetadata, types[len(types)-2])
}

func TestSelectToolCall_DedupesIdenticalCalls(t *testing.T) {
	calls := []llm.ToolCall{
		{Name: "vector_search", Args: json.RawMessage(`{"query":"a","top_k":5}`)},
		{Name: "vector_search", Args: json.RawMessage(`{"top_k":5,"query":"a"}`)}, // same args, different key order
	}
	chosen, discarded, ok := selectToolCall(calls)
	require.True(t, ok)
	assert.Equal(t, "vector_search", chosen.Name)
	require.Len(t, discarded, 1)
	assert.Contains(t, discarded[0].DiscardedWhy, "duplicate")
}

func TestSelectToolCall_FirstDeclaredWinsTieBreak(t *testing.T) {
	calls := []llm.ToolCall{
		{Name: "calculator", Args: json.RawMessage(`{"expression":"1+1"}`)},
		{Name: "vector_search", Args: json.RawMessage(`{"query":"a"}`)},
	}
	chosen, discarded, ok := selectToolCall(calls)
	require.True(t, ok)
	assert.Equal(t, "calculator", chosen.Name)
	require.Len(t, discarded, 1)
	assert.Equal(t, "vector_search", discarded[0].Name)
	assert.Contains(t, discarded[0].DiscardedWhy, "tie-break")
}

func TestIsOutOfDomain(t *testing.T) {
	assert.True(t, isOutOfDomain("what's the weather forecast for tomorrow"))
	assert.False(t, isOutOfDomain("what are the requirements for a KITAS visa"))
	assert.False(t, isOutOfDomain("tell me about the weather of pasal 5 requirements")) // contains domain keyword, not refused
}

func TestIsIdentityQuestion(t *testing.T) {
	assert.True(t, isIdentityQuestion("who am I?"))
	assert.True(t, isIdentityQuestion("siapa saya"))
	assert.False(t, isIdentityQuestion("what is pasal 5 about"))
}
