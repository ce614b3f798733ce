package augment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidCitations_DropsOutOfRangeAndDuplicates(t *testing.T) {
	out := validCitations([]int{0, 5, -1, 0, 2}, 3)
	assert.Equal(t, []int{0, 2}, out)
}

func TestValidCitations_EmptyWhenNoExcerpts(t *testing.T) {
	out := validCitations([]int{0, 1}, 0)
	assert.Empty(t, out)
}

func TestTruncate_RespectsCap(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello world", 5))
	assert.Equal(t, "hi", truncate("hi", 5))
}
