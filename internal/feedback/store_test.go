package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVote_Valid(t *testing.T) {
	assert.True(t, VoteUp.valid())
	assert.True(t, VoteDown.valid())
	assert.False(t, Vote("sideways").valid())
}
