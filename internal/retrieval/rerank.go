package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/xjson"
)

// CrossEncoder scores (query, passage) pairs for relevance. It is called
// behind a circuit breaker: once the stage's rolling p95 latency exceeds the
// configured threshold, calls are skipped (not attempted) for a cooldown
// window and ranking falls back to raw vector similarity instead.
type CrossEncoder struct {
	providerURL string
	model       string
	client      *http.Client
	events      *telemetry.Events
	metrics     *telemetry.Metrics
	log         *zap.Logger

	p95Threshold time.Duration
	cooldown     time.Duration

	mu        sync.Mutex
	openUntil time.Time
}

// NewCrossEncoder builds a CrossEncoder client.
func NewCrossEncoder(providerURL, model string, p95Threshold, cooldown time.Duration, events *telemetry.Events, metrics *telemetry.Metrics, log *zap.Logger) *CrossEncoder {
	return &CrossEncoder{
		providerURL:  providerURL,
		model:        model,
		client:       &http.Client{Timeout: 10 * time.Second},
		events:       events,
		metrics:      metrics,
		log:          log,
		p95Threshold: p95Threshold,
		cooldown:     cooldown,
	}
}

const rerankStage = "cross_encoder_rerank"

// circuitOpen reports whether the breaker is currently tripped, opening it
// fresh if the rolling p95 has crossed the threshold since the last check.
func (ce *CrossEncoder) circuitOpen() bool {
	ce.mu.Lock()
	defer ce.mu.Unlock()

	if time.Now().Before(ce.openUntil) {
		return true
	}
	if ce.events.RollingP95(rerankStage) > ce.p95Threshold {
		ce.openUntil = time.Now().Add(ce.cooldown)
		ce.metrics.RerankCircuit.Set(1)
		return true
	}
	ce.metrics.RerankCircuit.Set(0)
	return false
}

// Rerank scores and reorders candidates by cross-encoder relevance. When the
// circuit is open, it returns the candidates unchanged (vector-similarity
// order) rather than calling the provider.
func (ce *CrossEncoder) Rerank(ctx context.Context, query string, candidates []vectorstore.ScoredChunk) []vectorstore.ScoredChunk {
	if ce.circuitOpen() {
		ce.events.RecordEvent("rerank_circuit_open", zap.String("query", query))
		return candidates
	}

	start := time.Now()
	scored, err := ce.scoreAll(ctx, query, candidates)
	ce.events.ObserveLatency(rerankStage, time.Since(start))
	if err != nil {
		ce.log.Warn("cross-encoder rerank failed, falling back to vector order", zap.Error(err))
		return candidates
	}
	return scored
}

type scoreRequest struct {
	Model string `json:"model"`
	Pairs []pair `json:"pairs"`
}

type pair struct {
	Query   string `json:"query"`
	Passage string `json:"passage"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func (ce *CrossEncoder) scoreAll(ctx context.Context, query string, candidates []vectorstore.ScoredChunk) ([]vectorstore.ScoredChunk, error) {
	pairs := make([]pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = pair{Query: query, Passage: c.Content}
	}

	body, err := xjson.Marshal(scoreRequest{Model: ce.model, Pairs: pairs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ce.providerURL+"/api/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ce.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank provider status %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(decoded.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank score count mismatch: got %d for %d candidates", len(decoded.Scores), len(candidates))
	}

	out := make([]vectorstore.ScoredChunk, len(candidates))
	copy(out, candidates)
	for i, raw := range decoded.Scores {
		out[i].RerankScore = float32(sigmoid(raw))
	}

	sortByRerankScoreDesc(out)
	return out, nil
}

// sigmoid bounds an unbounded cross-encoder logit into [0, 1] so it can be
// compared against RERANK_THRESHOLD in a fixed space.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func sortByRerankScoreDesc(chunks []vectorstore.ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].RerankScore > chunks[j].RerankScore })
}
