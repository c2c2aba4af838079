package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/domain"
	"legalrag/internal/llm"
)

type stubJudge struct {
	reply string
	err   error
}

func (s *stubJudge) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if s.err != nil {
		return llm.Message{}, s.err
	}
	return llm.Message{Role: "assistant", Content: s.reply}, nil
}
func (s *stubJudge) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestVerify_ParsesJudgeVerdict(t *testing.T) {
	v := New(&stubJudge{reply: `Here you go: {"status": "warn", "score": 0.62, "reasoning": "mostly supported"}`}, "judge-model")
	verdict, err := v.Verify(context.Background(), "q", "draft", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, verdict.Status)
	assert.InDelta(t, 0.62, verdict.Score, 0.001)
}

func TestVerify_FallsBackToHeuristicOnMalformedJudgeResponse(t *testing.T) {
	v := New(&stubJudge{reply: "not json at all"}, "judge-model")
	evidence := []domain.ParentChunk{{DocumentID: "PP_31_2013", HierarchyPath: "Pasal 5", Text: "the visa fee is 1500000 rupiah"}}
	verdict, err := v.Verify(context.Background(), "q", "the visa fee is 1500000 rupiah", evidence)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, verdict.Status)
}

func TestVerify_NilModelUsesHeuristic(t *testing.T) {
	v := New(nil, "")
	verdict, err := v.Verify(context.Background(), "q", "totally unrelated content", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, verdict.Status)
}

func TestVerify_HeuristicFlagsUnsupportedClaims(t *testing.T) {
	v := New(nil, "")
	evidence := []domain.ParentChunk{{Text: "regulation concerns business licensing procedures"}}
	verdict, err := v.Verify(context.Background(), "q", "zebras migrate annually across unrelated continents", evidence)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, verdict.Status)
}
