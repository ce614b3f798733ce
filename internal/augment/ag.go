// Package augment assembles retrieved context and conversation history into
// a prompt, invokes the LLM in JSON mode, and validates that any citations
// the model claims actually reference a retrieved excerpt.
package augment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/retrieval"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
)

// Answer is the caller-facing result of a generation request.
type Answer struct {
	Text       string
	Citations  []int
	LatencyMS  int64
	Supported  bool // false when the model answered without citing any excerpt
}

// Generator assembles prompts and produces cited answers.
type Generator struct {
	llm       *LLMClient
	retrieval *retrieval.Engine
	events    *telemetry.Events
	log       *zap.Logger

	historyTurns   int
	excerptCharCap int
}

// NewGenerator builds a Generator.
func NewGenerator(llm *LLMClient, eng *retrieval.Engine, events *telemetry.Events, log *zap.Logger, historyTurns, excerptCharCap int) *Generator {
	return &Generator{llm: llm, retrieval: eng, events: events, log: log, historyTurns: historyTurns, excerptCharCap: excerptCharCap}
}

// Answer runs retrieval and generation for one user query, given the
// conversation history (oldest first).
func (g *Generator) Answer(ctx context.Context, query string, history []Message) (Answer, error) {
	start := time.Now()

	chunks, err := g.retrieval.Retrieve(ctx, query)
	if err != nil {
		return Answer{}, apierr.NewAGUnavailable(err)
	}

	messages := g.buildPrompt(query, history, chunks)

	structured, err := g.llm.Generate(ctx, messages)
	if err != nil {
		return Answer{}, err
	}

	citations := validCitations(structured.CitedExcerpts, len(chunks))
	latency := time.Since(start)
	g.events.ObserveLatency("ag_total", latency)
	g.events.RecordEvent("ag_metrics",
		zap.String("query", query),
		zap.Int("excerpts", len(chunks)),
		zap.Int("citations", len(citations)),
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Duration("latency_p95", g.events.RollingP95("ag_total")))

	answer := Answer{
		Text:      structured.Answer,
		Citations: citations,
		LatencyMS: latency.Milliseconds(),
		Supported: len(citations) > 0,
	}

	if len(chunks) > 0 && len(citations) == 0 {
		g.events.RecordEvent("ag_unsupported_answer", zap.String("query", query))
		return answer, apierr.NewAGPartial(fmt.Errorf("answer produced without citing any retrieved excerpt"))
	}

	return answer, nil
}

// buildPrompt assembles the system message (with numbered excerpts), the
// trailing conversation history, and the new user turn.
func (g *Generator) buildPrompt(query string, history []Message, chunks []vectorstore.ScoredChunk) []Message {
	system := "Sei un assistente clinico. Rispondi alla domanda dell'utente usando la cronologia " +
		"della conversazione e, quando disponibili, i seguenti estratti di riferimento. " +
		"Cita solo gli estratti che hai effettivamente usato, tramite il loro indice."

	if len(chunks) > 0 {
		system += "\n\nEstratti:\n"
		for i, c := range chunks {
			system += fmt.Sprintf("[%d] %s\n\n", i, truncate(c.Content, g.excerptCharCap))
		}
	}

	messages := []Message{{Role: "system", Content: system}}

	trimmed := history
	if g.historyTurns > 0 && len(trimmed) > g.historyTurns {
		trimmed = trimmed[len(trimmed)-g.historyTurns:]
	}
	messages = append(messages, trimmed...)
	messages = append(messages, Message{Role: "user", Content: query})
	return messages
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// validCitations drops any index the model hallucinated outside the
// excerpt list actually supplied.
func validCitations(claimed []int, excerptCount int) []int {
	out := make([]int, 0, len(claimed))
	seen := make(map[int]bool, len(claimed))
	for _, idx := range claimed {
		if idx >= 0 && idx < excerptCount && !seen[idx] {
			out = append(out, idx)
			seen[idx] = true
		}
	}
	return out
}
