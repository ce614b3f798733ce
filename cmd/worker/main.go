// Command worker runs a standalone ingestion worker pool, consuming bulk
// ingestion requests from the Redis-backed job queue instead of serving
// them inline over HTTP — separating the interactive chat/API tier from
// background document intake per SPEC_FULL.md's concurrency model.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classify"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classifycache"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/config"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/documentstore"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/embedding"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/ingest"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		panic(err)
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.ServiceName + "-worker")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	events := telemetry.NewEvents(logger, cfg.Telemetry.LatencyMaxSamples)

	store, err := vectorstore.NewStore(ctx, cfg.Database.URL, cfg.Database.AdminMaxConns, cfg.Embedding.Dimension)
	if err != nil {
		logger.Fatal("vector store", zap.Error(err))
	}
	defer store.Close()

	docs := documentstore.NewStore(store.Pool())

	cache := classifycache.NewStore(ctx, cfg.Redis.URL, cfg.Classification.CacheTTLSeconds, cfg.Classification.CacheEnabled, metrics, logger)
	defer cache.Close()

	embedGateway := embedding.NewGateway(cfg.Embedding.ProviderURL, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize, logger)

	classifier := classify.New(
		cfg.Generation.ProviderURL, cfg.Generation.Model,
		cfg.Classification.ClassifierVersion, cfg.Classification.FallbackTag, cfg.Classification.ConfidenceFloor,
		cache, logger,
	)

	var blobs *ingest.BlobStore
	if cfg.MinIO.Endpoint != "" {
		blobs, err = ingest.NewBlobStore(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL, logger)
		if err != nil {
			logger.Warn("blob storage unavailable, source-object ingestion disabled", zap.Error(err))
			blobs = nil
		}
	}

	orchestrator := ingest.New(
		embedGateway, store, docs, classifier, blobs,
		events, metrics, logger,
		cfg.Ingestion.MaxRetries, cfg.Ingestion.BaseRetryDelay,
		cfg.Ingestion.ChunkSizeDefault, cfg.Ingestion.ChunkOverlap,
	)

	queue, err := ingest.NewJobQueue(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("job queue", zap.Error(err))
	}
	defer queue.Close()

	concurrency := getWorkerConcurrency()
	logger.Info("ingestion worker pool starting", zap.Int("concurrency", concurrency))

	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		go runWorker(ctx, i, queue, orchestrator, logger, done)
	}

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight jobs")
	for i := 0; i < concurrency; i++ {
		<-done
	}
}

func runWorker(ctx context.Context, id int, queue *ingest.JobQueue, orchestrator *ingest.Orchestrator, log *zap.Logger, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	workerLog := log.With(zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok, err := queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			workerLog.Warn("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		job, err := orchestrator.ProcessSync(ctx, msg.ToRequest())
		if err != nil {
			workerLog.Error("ingestion rejected", zap.Error(err))
			continue
		}
		if job.Status == "failed" {
			workerLog.Error("ingestion job failed", zap.String("document_id", job.DocumentID.String()), zap.String("error", job.Err))
			continue
		}
		workerLog.Info("ingestion job succeeded",
			zap.String("document_id", job.DocumentID.String()),
			zap.Int("inserted_chunks", job.InsertedChunks))
	}
}

func getWorkerConcurrency() int {
	if v := os.Getenv("INGESTION_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 4
}
