package augment

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/xjson"
)

// Message mirrors the role/content pair every chat-completion provider in
// the pack expects.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StructuredAnswer is the JSON-mode shape the LLM must return: an answer
// string plus the indices (into the prompt's numbered excerpts) it actually
// drew on, so citations can be validated before being returned to the caller.
type StructuredAnswer struct {
	Answer          string `json:"answer"`
	CitedExcerpts   []int  `json:"cited_excerpts"`
}

// LLMClient talks to the chat-completion provider in JSON mode.
type LLMClient struct {
	providerURL string
	model       string
	client      *http.Client
}

// NewLLMClient builds an LLMClient.
func NewLLMClient(providerURL, model string, deadline time.Duration) *LLMClient {
	return &LLMClient{
		providerURL: strings.TrimRight(providerURL, "/"),
		model:       model,
		client:      &http.Client{Timeout: deadline},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Format   string    `json:"format"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// Generate sends messages to the provider and decodes its JSON-mode response
// into a StructuredAnswer. A 429 from the provider is returned as
// AGRateLimited at once; the request is not retried.
func (c *LLMClient) Generate(ctx context.Context, messages []Message) (StructuredAnswer, error) {
	body, err := xjson.Marshal(chatRequest{Model: c.model, Messages: messages, Format: "json", Stream: false})
	if err != nil {
		return StructuredAnswer{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return StructuredAnswer{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return StructuredAnswer{}, apierr.NewAGUnavailable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return StructuredAnswer{}, apierr.NewAGRateLimited(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return StructuredAnswer{}, apierr.NewAGUnavailable(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return StructuredAnswer{}, apierr.NewAGUnavailable(fmt.Errorf("status %d", resp.StatusCode))
	}

	var decoded chatResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return StructuredAnswer{}, fmt.Errorf("decode chat envelope: %w", err)
	}

	var answer StructuredAnswer
	if err := xjson.Unmarshal([]byte(decoded.Message.Content), &answer); err != nil {
		return StructuredAnswer{}, apierr.NewAGPartial(fmt.Errorf("decode structured answer: %w", err))
	}
	return answer, nil
}
