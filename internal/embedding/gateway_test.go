package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

func TestGateway_EmbedQuery_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, "test-model", 3, 10, zap.NewNop())
	emb, err := gw.EmbedQuery(context.Background(), "hello  world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb)
}

func TestGateway_EmbedQuery_DimensionMismatchIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, "test-model", 3, 10, zap.NewNop())
	_, err := gw.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindTerminal, kind)
}

func TestGateway_EmbedQuery_AuthErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, "test-model", 3, 10, zap.NewNop())
	_, err := gw.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, apierr.IsTransient(err))
}

func TestGateway_EmbedBatch_Empty(t *testing.T) {
	gw := NewGateway("http://unused", "test-model", 3, 10, zap.NewNop())
	_, err := gw.EmbedBatch(context.Background(), nil)
	require.Error(t, err)
}

func TestGateway_EmbedBatch_SplitsAcrossSubBatches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, "test-model", 3, 2, zap.NewNop())
	texts := []string{"a", "b", "c", "d", "e"}
	out, err := gw.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, 5, calls)
}
