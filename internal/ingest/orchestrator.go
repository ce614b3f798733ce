// Package ingest drives the document ingestion pipeline: extract, classify,
// chunk, embed, and persist, tracked as an async job so callers can submit
// and poll rather than block on the whole pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/chunker"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classify"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/documentstore"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/embedding"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
)

// JobStatus tracks an ingestion job's lifecycle for polling callers.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is the caller-visible ingestion record.
type Job struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	Status         JobStatus
	InsertedChunks int
	Err            string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Orchestrator wires every ingestion-stage dependency together and tracks
// jobs in memory (a single-process deployment is assumed; a durable queue
// would replace the in-memory map without changing the stage pipeline).
type Orchestrator struct {
	embed      *embedding.Gateway
	store      *vectorstore.Store
	docs       *documentstore.Store
	classifier *classify.Classifier
	blobs      *BlobStore

	events  *telemetry.Events
	metrics *telemetry.Metrics
	log     *zap.Logger

	maxRetries       int
	baseRetryDelay   time.Duration
	chunkSizeDefault int
	chunkOverlap     int

	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// New builds an Orchestrator. blobs may be nil when MinIO-backed ingestion
// is not configured; SubmitIngestion rejects SourceBlob requests in that case.
func New(
	embed *embedding.Gateway,
	store *vectorstore.Store,
	docs *documentstore.Store,
	classifier *classify.Classifier,
	blobs *BlobStore,
	events *telemetry.Events,
	metrics *telemetry.Metrics,
	log *zap.Logger,
	maxRetries int,
	baseRetryDelay time.Duration,
	chunkSizeDefault, chunkOverlap int,
) *Orchestrator {
	return &Orchestrator{
		embed: embed, store: store, docs: docs, classifier: classifier, blobs: blobs,
		events: events, metrics: metrics, log: log,
		maxRetries: maxRetries, baseRetryDelay: baseRetryDelay,
		chunkSizeDefault: chunkSizeDefault, chunkOverlap: chunkOverlap,
		jobs: make(map[uuid.UUID]*Job),
	}
}

// IngestionRequest is the caller's submission: either InlineText or
// SourceObject must be set. When both are set, SourceObject is tried first
// and InlineText is the fallback on fetch failure.
type IngestionRequest struct {
	Title        string
	InlineText   string
	SourceObject *SourceBlob
}

// SubmitIngestion validates the request, registers a job, and runs the
// pipeline asynchronously. The returned job ID is immediately pollable via
// GetJob.
func (o *Orchestrator) SubmitIngestion(ctx context.Context, req IngestionRequest) (uuid.UUID, error) {
	if req.InlineText == "" && req.SourceObject == nil {
		return uuid.Nil, apierr.NewIngestionRejected("either inline text or a source object reference is required")
	}
	if req.SourceObject != nil && o.blobs == nil {
		return uuid.Nil, apierr.NewIngestionRejected("no blob storage configured for source object ingestion")
	}

	jobID := uuid.New()
	job := &Job{ID: jobID, Status: JobQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	o.mu.Lock()
	o.jobs[jobID] = job
	o.mu.Unlock()

	o.metrics.ActiveJobs.Inc()
	go o.run(context.WithoutCancel(ctx), job, req)

	return jobID, nil
}

// ProcessSync runs the ingestion pipeline (with the same retry/backoff loop
// SubmitIngestion's background goroutine uses) and blocks until the job
// settles, for callers that drive ingestion from a queue rather than an HTTP
// request — e.g. cmd/worker. The job is not registered in the in-memory
// map, since a standalone worker process has no GetJob caller to serve.
func (o *Orchestrator) ProcessSync(ctx context.Context, req IngestionRequest) (*Job, error) {
	if req.InlineText == "" && req.SourceObject == nil {
		return nil, apierr.NewIngestionRejected("either inline text or a source object reference is required")
	}
	if req.SourceObject != nil && o.blobs == nil {
		return nil, apierr.NewIngestionRejected("no blob storage configured for source object ingestion")
	}

	job := &Job{ID: uuid.New(), Status: JobQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	o.metrics.ActiveJobs.Inc()
	o.run(ctx, job, req)
	return job, nil
}

// GetJob returns the current state of a previously submitted job.
func (o *Orchestrator) GetJob(jobID uuid.UUID) (*Job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, apierr.NewNotFound("ingestion job not found")
	}
	copy := *job
	return &copy, nil
}

func (o *Orchestrator) setJobStatus(job *Job, status JobStatus, errMsg string) {
	o.mu.Lock()
	job.Status = status
	job.Err = errMsg
	job.UpdatedAt = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, job *Job, req IngestionRequest) {
	defer o.metrics.ActiveJobs.Dec()
	o.setJobStatus(job, JobRunning, "")

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		err := o.process(ctx, job, req)
		if err == nil {
			o.setJobStatus(job, JobSucceeded, "")
			o.metrics.IngestionJobs.WithLabelValues(string(JobSucceeded)).Inc()
			return
		}
		lastErr = err
		if !apierr.IsTransient(err) || attempt == o.maxRetries {
			break
		}
		delay := o.baseRetryDelay * time.Duration(1<<attempt)
		o.log.Warn("ingestion stage transient failure, retrying",
			zap.String("job_id", job.ID.String()), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = o.maxRetries
		case <-time.After(delay):
		}
	}

	o.setJobStatus(job, JobFailed, lastErr.Error())
	o.metrics.IngestionJobs.WithLabelValues(string(JobFailed)).Inc()
	o.events.RecordEvent("ingestion_failed", zap.String("job_id", job.ID.String()), zap.Error(lastErr))

	// A terminal job failure must never leave the document row stranded at
	// "processing"; documentID is uuid.Nil only when extraction failed before
	// a document row was ever created.
	if job.DocumentID != uuid.Nil {
		if err := o.docs.UpdateStatus(ctx, job.DocumentID, documentstore.StatusError); err != nil {
			o.log.Warn("failed to mark document as errored", zap.String("document_id", job.DocumentID.String()), zap.Error(err))
		}
	}
}

// process runs one attempt of extract -> classify -> chunk -> embed -> persist.
func (o *Orchestrator) process(ctx context.Context, job *Job, req IngestionRequest) error {
	start := time.Now()
	defer func() { o.events.ObserveLatency("ingestion_total", time.Since(start)) }()

	text, err := o.extract(ctx, req)
	if err != nil {
		return err
	}

	fileHash := contentHash(text)
	documentID := uuid.New()
	if existing, found, err := o.docs.GetByFileHash(ctx, fileHash); err == nil && found {
		documentID = existing.ID
	}
	job.DocumentID = documentID

	if err := o.store.UpsertDocument(ctx, documentID, req.Title, fileHash, "", "", documentstore.StatusProcessing, []byte("{}")); err != nil {
		return fmt.Errorf("upsert document metadata: %w", err)
	}

	classification := o.classifier.Classify(ctx, text)
	o.metrics.ClassifyConfid.Observe(classification.Confidence)

	strategy := chunker.StrategyForClassification(classification.Tag)
	chunks, err := chunker.Split(text, strategy, o.chunkSizeDefault, o.chunkOverlap)
	if err != nil {
		return err
	}
	strategyTag := chunker.Tag(strategy, o.chunkSizeDefault, o.chunkOverlap)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := o.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	inputs := make([]vectorstore.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = vectorstore.ChunkInput{
			SequenceNumber: c.SequenceNumber,
			Content:        c.Content,
			Embedding:      vectors[i],
			TokenCount:     estimateTokens(c.Content),
			Metadata: map[string]any{
				"chunking_strategy": strategyTag,
				"document_name":     req.Title,
				"document_id":       documentID.String(),
				"sequence_number":   c.SequenceNumber,
			},
		}
	}

	if err := o.store.InsertChunks(ctx, documentID, inputs); err != nil {
		return err
	}

	if err := o.store.UpsertDocument(ctx, documentID, req.Title, fileHash, classification.Tag, strategyTag, documentstore.StatusCompleted, []byte("{}")); err != nil {
		return fmt.Errorf("finalize document metadata: %w", err)
	}

	job.InsertedChunks = len(inputs)
	o.events.RecordEvent("ingestion_succeeded",
		zap.String("document_id", documentID.String()),
		zap.Int("chunks", len(inputs)),
		zap.String("tag", classification.Tag))
	return nil
}

// extract resolves the document's raw text, preferring a configured source
// object and falling back to inline text identically to an extraction
// failure, per SPEC_FULL.md's extraction-detail note.
func (o *Orchestrator) extract(ctx context.Context, req IngestionRequest) (string, error) {
	if req.SourceObject != nil {
		text, err := o.blobs.FetchText(ctx, *req.SourceObject)
		if err == nil {
			return text, nil
		}
		o.log.Warn("source object fetch failed, falling back to inline text", zap.Error(err))
		if req.InlineText == "" {
			return "", apierr.NewIngestionRejected("source object fetch failed and no inline text fallback was supplied")
		}
		o.events.RecordEvent("extraction_failed_fallback", zap.Error(err))
	}
	return req.InlineText, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// estimateTokens is a cheap word-count proxy; exact tokenization belongs to
// the embedding provider, not the ingestion orchestrator.
func estimateTokens(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if !isSpace && !inWord {
			count++
		}
		inWord = !isSpace
	}
	return count
}
