package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_EvictsOldest(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.put("c", []float32{3})

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	v, ok := c.get("b")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, v)

	v, ok = c.get("c")
	require.True(t, ok)
	assert.Equal(t, []float32{3}, v)
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.get("a") // touch a so b becomes the oldest
	c.put("c", []float32{3})

	_, ok := c.get("b")
	assert.False(t, ok, "b should have been evicted, not a")

	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestLRUCache_ZeroCapacityDisabled(t *testing.T) {
	c := newLRUCache(0)
	c.put("a", []float32{1})
	_, ok := c.get("a")
	assert.False(t, ok)
}

func TestFingerprint_Deterministic(t *testing.T) {
	assert.Equal(t, fingerprint("hello"), fingerprint("hello"))
	assert.NotEqual(t, fingerprint("hello"), fingerprint("world"))
}

func TestOversizedInputRejected(t *testing.T) {
	e := &openAIEmbedder{cache: newLRUCache(10)}
	huge := strings.Repeat("a", MaxInputRunes+1)
	_, err := e.Batch(nil, []string{huge}) //nolint:staticcheck // ctx unused before network call
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputTooLarge)
}
