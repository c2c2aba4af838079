package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/llm"
)

func TestParseFallbackToolCall(t *testing.T) {
	tc, ok := parseFallbackToolCall(`I'll look that up.

TOOL: vector_search ARGS: {"query": "pasal 5 ayat 2"}`)
	require.True(t, ok)
	assert.Equal(t, "vector_search", tc.Name)
	assert.JSONEq(t, `{"query": "pasal 5 ayat 2"}`, string(tc.Args))
}

func TestParseFallbackToolCall_NoMatch(t *testing.T) {
	_, ok := parseFallbackToolCall("just a plain answer, no tool needed")
	assert.False(t, ok)
}

type stubProvider struct {
	reply   llm.Message
	err     error
	calls   int
	onChat  func()
}

func (s *stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	s.calls++
	if s.onChat != nil {
		s.onChat()
	}
	return s.reply, s.err
}
func (s *stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	h.OnDelta(s.reply.Content)
	return nil
}

type recordingHandler struct{ deltas []string }

func (r *recordingHandler) OnDelta(s string)            { r.deltas = append(r.deltas, s) }
func (r *recordingHandler) OnToolCall(llm.ToolCall)      {}
func (r *recordingHandler) OnImage(llm.GeneratedImage)   {}
func (r *recordingHandler) OnThoughtSummary(string)      {}
func (r *recordingHandler) OnThoughtSignature(string)    {}

func TestGateway_Chat_FallsBackOnError(t *testing.T) {
	failing := &stubProvider{err: errors.New("rate limited")}
	healthy := &stubProvider{reply: llm.Message{Role: "assistant", Content: "ok"}}
	gw := &Gateway{providers: []namedProvider{
		{name: "anthropic", provider: failing},
		{name: "openai", provider: healthy},
	}}

	msg, providerName, err := gw.Chat(context.Background(), nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "openai", providerName)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, healthy.calls)
}

func TestGateway_Chat_AllFail(t *testing.T) {
	gw := &Gateway{providers: []namedProvider{
		{name: "anthropic", provider: &stubProvider{err: errors.New("down")}},
	}}
	_, _, err := gw.Chat(context.Background(), nil, nil, "")
	assert.Error(t, err)
}

func TestGateway_ChatStream_FallsBackBeforeFirstDelta(t *testing.T) {
	failing := &stubProvider{err: errors.New("down")}
	healthy := &stubProvider{reply: llm.Message{Content: "streamed"}}
	gw := &Gateway{providers: []namedProvider{
		{name: "anthropic", provider: failing},
		{name: "openai", provider: healthy},
	}}
	h := &recordingHandler{}
	name, err := gw.ChatStream(context.Background(), nil, nil, "", h)
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, []string{"streamed"}, h.deltas)
}
