package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"legalrag/internal/domain"
)

func TestReverse(t *testing.T) {
	turns := []domain.Turn{
		{Content: "c", Timestamp: time.Unix(3, 0)},
		{Content: "b", Timestamp: time.Unix(2, 0)},
		{Content: "a", Timestamp: time.Unix(1, 0)},
	}
	reverse(turns)
	assert.Equal(t, []string{"a", "b", "c"}, []string{turns[0].Content, turns[1].Content, turns[2].Content})
}

func TestReverse_EmptyAndSingle(t *testing.T) {
	assert.NotPanics(t, func() { reverse(nil) })
	one := []domain.Turn{{Content: "only"}}
	reverse(one)
	assert.Equal(t, "only", one[0].Content)
}
