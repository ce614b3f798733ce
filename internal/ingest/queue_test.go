package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueMessage_ToRequest_InlineText(t *testing.T) {
	msg := QueueMessage{Title: "doc", InlineText: "hello"}
	req := msg.ToRequest()
	assert.Equal(t, "doc", req.Title)
	assert.Equal(t, "hello", req.InlineText)
	assert.Nil(t, req.SourceObject)
}

func TestQueueMessage_ToRequest_SourceObject(t *testing.T) {
	msg := QueueMessage{Title: "doc", SourceBucket: "bucket", SourceKey: "key"}
	req := msg.ToRequest()
	if assert.NotNil(t, req.SourceObject) {
		assert.Equal(t, "bucket", req.SourceObject.Bucket)
		assert.Equal(t, "key", req.SourceObject.Key)
	}
}
