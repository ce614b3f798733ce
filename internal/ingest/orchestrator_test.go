package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

func TestSubmitIngestion_RejectsEmptyRequest(t *testing.T) {
	o := &Orchestrator{jobs: make(map[uuid.UUID]*Job)}
	_, err := o.SubmitIngestion(context.Background(), IngestionRequest{})
	require.Error(t, err)
	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindCaller, kind)
}

func TestSubmitIngestion_RejectsSourceObjectWithoutBlobStore(t *testing.T) {
	o := &Orchestrator{jobs: make(map[uuid.UUID]*Job)}
	_, err := o.SubmitIngestion(context.Background(), IngestionRequest{SourceObject: &SourceBlob{Key: "doc.txt"}})
	require.Error(t, err)
}

func TestContentHash_DeterministicAndSensitive(t *testing.T) {
	a := contentHash("hello world")
	b := contentHash("hello world")
	c := contentHash("hello world!")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEstimateTokens_CountsWords(t *testing.T) {
	assert.Equal(t, 3, estimateTokens("one two three"))
	assert.Equal(t, 0, estimateTokens("   "))
}
