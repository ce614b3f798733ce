package classify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classifycache"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
)

func newTestCache(t *testing.T) *classifycache.Store {
	t.Helper()
	return classifycache.NewStore(context.Background(), "", 3600, false, telemetry.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
}

func TestClassify_LowConfidenceFallsBackToGenericTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "{\"tag\": \"protocollo_riabilitativo\", \"confidence\": 0.2}"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", "v1", "tecnico_generico", 0.7, newTestCache(t), zap.NewNop())
	res := c.Classify(context.Background(), "testo clinico di esempio")
	assert.Equal(t, "tecnico_generico", res.Tag)
}

func TestClassify_HighConfidenceKeepsTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "{\"tag\": \"valutazione_clinica\", \"confidence\": 0.95}"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", "v1", "tecnico_generico", 0.7, newTestCache(t), zap.NewNop())
	res := c.Classify(context.Background(), "testo clinico di esempio")
	assert.Equal(t, "valutazione_clinica", res.Tag)
}

func TestClassify_ProviderUnavailableFallsBackGracefully(t *testing.T) {
	c := New("http://127.0.0.1:0", "test-model", "v1", "tecnico_generico", 0.7, newTestCache(t), zap.NewNop())
	res := c.Classify(context.Background(), "testo")
	assert.Equal(t, "tecnico_generico", res.Tag)
}

func TestClassify_UnknownTagFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "{\"tag\": \"not_a_real_tag\", \"confidence\": 0.99}"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", "v1", "tecnico_generico", 0.7, newTestCache(t), zap.NewNop())
	res := c.Classify(context.Background(), "testo")
	assert.Equal(t, "tecnico_generico", res.Tag)
}
