package retrieval

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
)

func TestDynamicMatchCount_DefinitionalUsesFive(t *testing.T) {
	assert.Equal(t, 5, dynamicMatchCount("Cos'è la radicolopatia?", 8, 5, 12))
}

func TestDynamicMatchCount_ProceduralUsesTen(t *testing.T) {
	assert.Equal(t, 10, dynamicMatchCount("Come trattare la radicolopatia passo per passo?", 8, 5, 12))
}

func TestDynamicMatchCount_ComparativeUsesTwelve(t *testing.T) {
	assert.Equal(t, 12, dynamicMatchCount("Confronta trattamento conservativo e chirurgico", 8, 5, 12))
}

func TestDynamicMatchCount_OtherUsesDefault(t *testing.T) {
	q := "dolore lombare persistente dopo seduta prolungata in ufficio"
	assert.Equal(t, 8, dynamicMatchCount(q, 8, 5, 12))
}

func TestDiversify_CapsPerDocumentAfterPreservedPrefix(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()
	chunks := []vectorstore.ScoredChunk{
		{DocumentID: docA, SequenceNumber: 0, Score: 0.9},
		{DocumentID: docA, SequenceNumber: 1, Score: 0.85},
		{DocumentID: docA, SequenceNumber: 2, Score: 0.8},
		{DocumentID: docB, SequenceNumber: 0, Score: 0.75},
	}
	out := diversify(chunks, 1, 2)
	// First two preserved regardless of cap, both from docA.
	assert.Len(t, out, 3)
	assert.Equal(t, docB, out[2].DocumentID)
}

func TestFilterByRerankThreshold_DropsBelowCutoff(t *testing.T) {
	chunks := []vectorstore.ScoredChunk{{RerankScore: 0.9}, {RerankScore: 0.5}, {RerankScore: 0.76}}
	out := filterByRerankThreshold(chunks, 0.75)
	assert.Len(t, out, 2)
}

func TestCrossEncoder_CircuitOpensAfterP95Breach(t *testing.T) {
	events := telemetry.NewEvents(zap.NewNop(), 10)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	ce := NewCrossEncoder("http://unused", "test-model", 50*time.Millisecond, time.Minute, events, metrics, zap.NewNop())

	for i := 0; i < 5; i++ {
		events.ObserveLatency(rerankStage, 200*time.Millisecond)
	}
	assert.True(t, ce.circuitOpen())
}

func TestCrossEncoder_CircuitClosedWithoutBreach(t *testing.T) {
	events := telemetry.NewEvents(zap.NewNop(), 10)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	ce := NewCrossEncoder("http://unused", "test-model", 500*time.Millisecond, time.Minute, events, metrics, zap.NewNop())

	events.ObserveLatency(rerankStage, 10*time.Millisecond)
	assert.False(t, ce.circuitOpen())
}
