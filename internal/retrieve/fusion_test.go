package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/vectorstore"
)

func TestFuseRRF_UnionAndOrdering(t *testing.T) {
	ft := []FullTextHit{{ChildChunkUUID: "a"}, {ChildChunkUUID: "b"}}
	vec := []vectorstore.Result{{ChildChunkUUID: "b"}, {ChildChunkUUID: "c"}}

	out := fuseRRF(ft, vec, 0.5, 60)

	require.Len(t, out, 3)
	// "b" appears in both lists at rank 2 and rank 1 respectively, so it
	// should score highest.
	assert.Equal(t, "b", out[0].ChildChunkUUID)
}

func TestFuseRRF_AlphaClamped(t *testing.T) {
	ft := []FullTextHit{{ChildChunkUUID: "a"}}
	vec := []vectorstore.Result{{ChildChunkUUID: "a"}}
	out := fuseRRF(ft, vec, 5.0, 60) // alpha > 1 should clamp to 1
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0/61.0, out[0].Score, 1e-9)
}

func TestDiversify_PenalizesRepeatedParent(t *testing.T) {
	candidates := []fused{
		{ChildChunkUUID: "c1", Score: 1.0},
		{ChildChunkUUID: "c2", Score: 0.9},
		{ChildChunkUUID: "c3", Score: 0.85},
	}
	parentOf := map[string]string{"c1": "p1", "c2": "p1", "c3": "p2"}

	out := diversify(candidates, 2, parentOf)

	require.Len(t, out, 2)
	assert.Equal(t, "c1", out[0].ChildChunkUUID)
	// c3 (different parent) should outrank c2 once c1's parent is penalized.
	assert.Equal(t, "c3", out[1].ChildChunkUUID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity(nil, []float32{1}))
}
