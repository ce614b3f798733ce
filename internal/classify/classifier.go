// Package classify assigns a clinical-domain tag to ingested document text,
// consulting the classification cache before calling the LLM and falling
// back to a generic tag when the classifier's confidence is too low to
// trust.
package classify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classifycache"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/xjson"
)

// Allowed tags this clinical knowledge base classifies documents into.
// Anything the LLM returns outside this set, or below the confidence floor,
// collapses to FallbackTag.
var knownTags = map[string]bool{
	"protocollo_riabilitativo": true,
	"valutazione_clinica":      true,
	"anatomia_funzionale":      true,
	"terapia_manuale":          true,
	"tecnico_generico":         true,
}

// Classifier tags document text via an LLM in JSON mode.
type Classifier struct {
	providerURL       string
	model             string
	client            *http.Client
	cache             *classifycache.Store
	classifierVersion string
	confidenceFloor   float64
	fallbackTag       string
	log               *zap.Logger
}

// New builds a Classifier.
func New(providerURL, model, classifierVersion, fallbackTag string, confidenceFloor float64, cache *classifycache.Store, log *zap.Logger) *Classifier {
	return &Classifier{
		providerURL:       strings.TrimRight(providerURL, "/"),
		model:             model,
		client:            &http.Client{Timeout: 20 * time.Second},
		cache:             cache,
		classifierVersion: classifierVersion,
		confidenceFloor:   confidenceFloor,
		fallbackTag:       fallbackTag,
		log:               log,
	}
}

// Classify returns a clinical tag for content, preferring a cache hit over a
// fresh LLM call. A classifier failure is never terminal for ingestion: it
// degrades to fallbackTag so a document is never rejected purely because the
// classifier was unavailable.
func (c *Classifier) Classify(ctx context.Context, content string) classifycache.Result {
	if cached, ok := c.cache.Get(ctx, content, c.classifierVersion); ok {
		return c.applyFloor(cached)
	}

	result, err := c.classifyViaLLM(ctx, content)
	if err != nil {
		c.log.Warn("classification failed, using fallback tag", zap.Error(err))
		result = classifycache.Result{Tag: c.fallbackTag, Confidence: 0}
	} else {
		c.cache.Set(ctx, content, c.classifierVersion, result)
	}
	return c.applyFloor(result)
}

func (c *Classifier) applyFloor(res classifycache.Result) classifycache.Result {
	if !knownTags[res.Tag] || res.Confidence < c.confidenceFloor {
		return classifycache.Result{Tag: c.fallbackTag, Confidence: res.Confidence}
	}
	return res
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type classificationPayload struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

func (c *Classifier) classifyViaLLM(ctx context.Context, content string) (classifycache.Result, error) {
	excerpt := content
	const maxExcerpt = 4000
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}

	prompt := fmt.Sprintf(
		"Classifica il seguente testo clinico con uno di questi tag: %s. "+
			"Rispondi in JSON con i campi \"tag\" e \"confidence\" (0-1).\n\nTesto:\n%s",
		strings.Join(tagList(), ", "), excerpt)

	body, err := xjson.Marshal(generateRequest{Model: c.model, Prompt: prompt, Format: "json", Stream: false})
	if err != nil {
		return classifycache.Result{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return classifycache.Result{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifycache.Result{}, apierr.NewAGUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifycache.Result{}, apierr.NewAGUnavailable(fmt.Errorf("classifier provider status %d", resp.StatusCode))
	}

	var gen generateResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return classifycache.Result{}, fmt.Errorf("decode classify envelope: %w", err)
	}

	var payload classificationPayload
	if err := xjson.Unmarshal([]byte(gen.Response), &payload); err != nil {
		return classifycache.Result{}, fmt.Errorf("decode classify payload: %w", err)
	}

	return classifycache.Result{Tag: payload.Tag, Confidence: payload.Confidence}, nil
}

func tagList() []string {
	tags := make([]string, 0, len(knownTags))
	for t := range knownTags {
		if t != "tecnico_generico" {
			tags = append(tags, t)
		}
	}
	return tags
}
