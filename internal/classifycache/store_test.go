package classifycache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
)

func newTestStore(t *testing.T, enabled bool) *Store {
	t.Helper()
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	s := &Store{ttl: 0, enabled: enabled, metrics: metrics, log: zap.NewNop()}
	if enabled {
		s.backend = newInMemoryCache()
	}
	return s
}

func TestStore_SetThenGet_Hit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	s.Set(ctx, "some content", "v1", Result{Tag: "protocollo_riabilitativo", Confidence: 0.92})
	res, ok := s.Get(ctx, "some content", "v1")
	require.True(t, ok)
	assert.Equal(t, "protocollo_riabilitativo", res.Tag)
	assert.InDelta(t, 0.92, res.Confidence, 0.0001)
}

func TestStore_DifferentClassifierVersion_Misses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	s.Set(ctx, "some content", "v1", Result{Tag: "x", Confidence: 0.5})
	_, ok := s.Get(ctx, "some content", "v2")
	assert.False(t, ok)
}

func TestStore_Disabled_AlwaysMisses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	s.Set(ctx, "some content", "v1", Result{Tag: "x", Confidence: 0.5})
	_, ok := s.Get(ctx, "some content", "v1")
	assert.False(t, ok)
}

func TestStore_StatsTracksHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	s.Set(ctx, "content", "v1", Result{Tag: "x", Confidence: 0.5})
	_, _ = s.Get(ctx, "content", "v1")
	_, _ = s.Get(ctx, "missing", "v1")

	stats := s.Stats(ctx)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
	assert.Equal(t, int64(1), stats.Size)
}

func TestStore_Stats_SizeReflectsBackendAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	s.Set(ctx, "a", "v1", Result{Tag: "x", Confidence: 0.5})
	s.Set(ctx, "b", "v1", Result{Tag: "x", Confidence: 0.5})
	assert.Equal(t, int64(2), s.Stats(ctx).Size)

	require.NoError(t, s.DeleteAll(ctx))
	assert.Equal(t, int64(0), s.Stats(ctx).Size)
}

func TestStore_DeleteDigestAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	s.Set(ctx, "content", "v1", Result{Tag: "x", Confidence: 0.5})
	digest := digestKey("content", "v1")

	require.NoError(t, s.DeleteDigest(ctx, digest))
	_, ok := s.Get(ctx, "content", "v1")
	assert.False(t, ok)

	s.Set(ctx, "content", "v1", Result{Tag: "x", Confidence: 0.5})
	require.NoError(t, s.DeleteAll(ctx))
	_, ok = s.Get(ctx, "content", "v1")
	assert.False(t, ok)
}

func TestDigestKey_StableAndContentSensitive(t *testing.T) {
	k1 := digestKey("hello", "v1")
	k2 := digestKey("hello", "v1")
	k3 := digestKey("hello world", "v1")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
