package memory

import (
	"container/list"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey_DeterministicAndContentSensitive(t *testing.T) {
	ts := time.Unix(1000, 0)
	a := IdempotencyKey("session-1", ts, "hello")
	b := IdempotencyKey("session-1", ts, "hello")
	c := IdempotencyKey("session-1", ts, "goodbye")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func newTestStoreL1(capacity int) *Store {
	return &Store{
		capacity: capacity,
		sessions: make(map[string]*list.List),
	}
}

func TestL1_EvictsOldestBeyondCapacity(t *testing.T) {
	s := newTestStoreL1(2)
	sessionID := "sess-a"
	for i := 0; i < 3; i++ {
		s.pushL1(ChatMessage{ID: uuid.New(), SessionID: sessionID, Content: string(rune('a' + i))})
	}
	out, ok := s.l1Snapshot(sessionID, 10)
	assert.True(t, ok)
	assert.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Content)
	assert.Equal(t, "c", out[1].Content)
}

func TestL1_SnapshotMissForUnknownSession(t *testing.T) {
	s := newTestStoreL1(5)
	_, ok := s.l1Snapshot("unknown", 5)
	assert.False(t, ok)
}

func TestL1_HydrateTrimsToCapacity(t *testing.T) {
	s := newTestStoreL1(2)
	msgs := []ChatMessage{
		{SessionID: "sess-b", Content: "1"},
		{SessionID: "sess-b", Content: "2"},
		{SessionID: "sess-b", Content: "3"},
	}
	s.hydrateL1("sess-b", msgs)
	out, ok := s.l1Snapshot("sess-b", 10)
	assert.True(t, ok)
	assert.Len(t, out, 2)
	assert.Equal(t, "2", out[0].Content)
	assert.Equal(t, "3", out[1].Content)
}

func TestReverse_FlipsOrder(t *testing.T) {
	msgs := []ChatMessage{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	reverse(msgs)
	assert.Equal(t, "3", msgs[0].Content)
	assert.Equal(t, "1", msgs[2].Content)
}
