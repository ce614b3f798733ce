// Package embedding wraps the embedding provider HTTP API behind a small
// interface, classifying every failure into the taxonomy internal/apierr
// defines so callers can decide whether to retry, skip, or fail the job.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

// Gateway embeds text through a provider reachable over HTTP, matching the
// Ollama-style /api/embeddings contract the teacher's services target.
type Gateway struct {
	providerURL string
	model       string
	dimension   int
	batchSize   int
	maxRetries  int
	client      *http.Client
	log         *zap.Logger
}

// NewGateway constructs a Gateway. dimension is the expected output size,
// enforced on every response so a silent provider/model mismatch surfaces as
// an EmbeddingFatalError instead of poisoning the vector store.
func NewGateway(providerURL, model string, dimension, batchSize int, log *zap.Logger) *Gateway {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Gateway{
		providerURL: strings.TrimRight(providerURL, "/"),
		model:       model,
		dimension:   dimension,
		batchSize:   batchSize,
		maxRetries:  3,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedQuery embeds a single query string, used at retrieval time.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return g.embedOne(ctx, normalizeText(text))
}

// EmbedBatch embeds a slice of chunk texts in provider-sized sub-batches.
// Each text within a sub-batch is embedded individually with its own
// retry/backoff loop (embedOne); a sub-batch has no combined retry of its
// own, so one exhausted text fails the whole call rather than being retried
// at a smaller batch size.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apierr.NewEmbeddingFatalError(fmt.Errorf("empty batch"))
	}
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = normalizeText(t)
	}

	out := make([][]float32, len(normalized))
	for start := 0; start < len(normalized); start += g.batchSize {
		end := start + g.batchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		results, err := g.embedSubBatch(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		copy(out[start:end], results)
	}
	return out, nil
}

// embedSubBatch embeds a bounded slice sequentially, since the provider
// contract has no native batch endpoint.
func (g *Gateway) embedSubBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		emb, err := g.embedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

func (g *Gateway) embedOne(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		emb, err := g.callProvider(ctx, text)
		if err == nil {
			if len(emb) != g.dimension {
				return nil, apierr.NewEmbeddingFatalError(fmt.Errorf("provider returned dimension %d, expected %d", len(emb), g.dimension))
			}
			return emb, nil
		}

		lastErr = err
		if !apierr.IsTransient(err) {
			return nil, err
		}
		if attempt < g.maxRetries-1 {
			delay := time.Duration(1<<attempt) * time.Second
			g.log.Warn("embedding provider transient error, retrying",
				zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, apierr.NewEmbeddingTransientError(fmt.Errorf("exhausted %d attempts: %w", g.maxRetries, lastErr))
}

func (g *Gateway) callProvider(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: g.model, Prompt: text})
	if err != nil {
		return nil, apierr.NewEmbeddingFatalError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.providerURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, apierr.NewEmbeddingFatalError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, apierr.NewEmbeddingTransientError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apierr.NewEmbeddingAuthError(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apierr.NewEmbeddingRateLimitError(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, apierr.NewEmbeddingTransientError(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, apierr.NewEmbeddingFatalError(fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apierr.NewEmbeddingFatalError(fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Embedding) == 0 {
		return nil, apierr.NewEmbeddingFatalError(fmt.Errorf("empty embedding in response"))
	}
	return decoded.Embedding, nil
}

// normalizeText collapses whitespace the same way the provider's tokenizer
// will, so cache keys and retries operate on identical input.
func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\t", " ")
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	const maxLength = 8000
	if len(text) > maxLength {
		text = text[:maxLength]
	}
	return text
}
