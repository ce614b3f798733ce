// Package retrieval implements the query-time pipeline: embed the query,
// over-retrieve candidates above the similarity threshold, optionally rerank
// them and drop those under the rerank threshold, optionally diversify, then
// truncate to produce the chunks handed to augmented generation.
package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/embedding"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
)

// Config mirrors the retrieval-relevant subset of config.RetrievalConfig,
// kept as its own type so this package doesn't import internal/config.
type Config struct {
	MatchThreshold              float32
	MatchCountDefault           int
	MatchCountMin                int
	MatchCountMax                int
	OverRetrieveFactor           int
	EnableDynamicMatchCount      bool
	EnableCrossEncoderReranking  bool
	EnableChunkDiversification   bool
	RerankThreshold              float32
	DiversifyMaxPerDocument      int
	DiversifyPreserveTopN        int
	EndToEndDeadline             time.Duration
}

// Engine runs the retrieval pipeline end to end.
type Engine struct {
	embed   *embedding.Gateway
	store   *vectorstore.Store
	rerank  *CrossEncoder
	events  *telemetry.Events
	cfg     Config
	log     *zap.Logger
}

// NewEngine builds an Engine. rerank may be nil when cross-encoder reranking
// is disabled entirely (not just via the feature flag).
func NewEngine(embed *embedding.Gateway, store *vectorstore.Store, rerank *CrossEncoder, events *telemetry.Events, cfg Config, log *zap.Logger) *Engine {
	return &Engine{embed: embed, store: store, rerank: rerank, events: events, cfg: cfg, log: log}
}

// Retrieve returns the chunks relevant to query, after over-retrieval,
// optional reranking, optional diversification, and threshold filtering.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]vectorstore.ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EndToEndDeadline)
	defer cancel()

	start := time.Now()
	defer func() { e.events.ObserveLatency("retrieval_total", time.Since(start)) }()

	matchCount := e.cfg.MatchCountDefault
	if e.cfg.EnableDynamicMatchCount {
		matchCount = dynamicMatchCount(query, e.cfg.MatchCountDefault, e.cfg.MatchCountMin, e.cfg.MatchCountMax)
	}

	rerankEnabled := e.cfg.EnableCrossEncoderReranking && e.rerank != nil

	fetchCount := matchCount
	if rerankEnabled {
		factor := e.cfg.OverRetrieveFactor
		if factor < 1 {
			factor = 1
		}
		fetchCount = matchCount * factor
	}

	queryEmbedding, err := e.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apierr.NewRetrievalUnavailableError(err)
	}

	// MATCH_THRESHOLD is enforced as a similarity floor here, at the search
	// stage, so it can never be silently overridden by a later rerank score.
	candidates, err := e.store.Search(ctx, queryEmbedding, e.cfg.MatchThreshold, fetchCount)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if rerankEnabled {
		candidates = e.rerank.Rerank(ctx, query, candidates)
		// Rerank hands back the search results untouched (RerankScore 0) when
		// its circuit is open or the provider fails, while a successful rerank
		// gives every chunk a positive sigmoid score. Only a reranked list is
		// filtered by RERANK_THRESHOLD, so the fallback keeps similarity order.
		reranked := false
		for _, c := range candidates {
			if c.RerankScore > 0 {
				reranked = true
				break
			}
		}
		if reranked {
			candidates = filterByRerankThreshold(candidates, e.cfg.RerankThreshold)
		}
	}

	if e.cfg.EnableChunkDiversification {
		candidates = diversify(candidates, e.cfg.DiversifyMaxPerDocument, e.cfg.DiversifyPreserveTopN)
	}

	if len(candidates) > matchCount {
		candidates = candidates[:matchCount]
	}

	select {
	case <-ctx.Done():
		return nil, apierr.NewRetrievalUnavailableError(ctx.Err())
	default:
	}

	return candidates, nil
}

func filterByRerankThreshold(chunks []vectorstore.ScoredChunk, threshold float32) []vectorstore.ScoredChunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		if c.RerankScore >= threshold {
			out = append(out, c)
		}
	}
	return out
}
