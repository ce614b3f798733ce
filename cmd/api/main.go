// Command api serves the clinical physiotherapy RAG service's HTTP surface:
// document ingestion, chat turns, session history, and feedback.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/augment"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classify"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classifycache"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/config"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/documentstore"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/embedding"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/feedback"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/ingest"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/memory"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/retrieval"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	events := telemetry.NewEvents(logger, cfg.Telemetry.LatencyMaxSamples)

	store, err := vectorstore.NewStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Embedding.Dimension)
	if err != nil {
		logger.Fatal("vector store", zap.Error(err))
	}
	defer store.Close()

	docs := documentstore.NewStore(store.Pool())

	memStore, err := memory.NewStore(ctx, store.Pool(), cfg.Generation.HistoryTurns)
	if err != nil {
		logger.Fatal("memory store", zap.Error(err))
	}

	feedbackStore, err := feedback.NewStore(ctx, store.Pool())
	if err != nil {
		logger.Fatal("feedback store", zap.Error(err))
	}

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

	var crossEncoder *retrieval.CrossEncoder
	if cfg.Retrieval.EnableCrossEncoderReranking {
		crossEncoder = retrieval.NewCrossEncoder(
			cfg.Generation.ProviderURL, "cross-encoder-physio-1",
			time.Duration(cfg.Retrieval.RerankCircuitBreakerP95Ms)*time.Millisecond,
			cfg.Retrieval.RerankCircuitCooldown,
			events, metrics, logger,
		)
	}

	retrievalEngine := retrieval.NewEngine(embedGateway, store, crossEncoder, events, retrieval.Config{
		MatchThreshold:              float32(cfg.Retrieval.MatchThreshold),
		MatchCountDefault:           cfg.Retrieval.MatchCountDefault,
		MatchCountMin:               cfg.Retrieval.MatchCountMin,
		MatchCountMax:               cfg.Retrieval.MatchCountMax,
		OverRetrieveFactor:          cfg.Retrieval.OverRetrieveFactor,
		EnableDynamicMatchCount:     cfg.Retrieval.EnableDynamicMatchCount,
		EnableCrossEncoderReranking: cfg.Retrieval.EnableCrossEncoderReranking,
		EnableChunkDiversification:  cfg.Retrieval.EnableChunkDiversification,
		RerankThreshold:             float32(cfg.Retrieval.RerankThreshold),
		DiversifyMaxPerDocument:     cfg.Retrieval.DiversifyMaxPerDocument,
		DiversifyPreserveTopN:       cfg.Retrieval.DiversifyPreserveTopN,
		EndToEndDeadline:            cfg.Retrieval.EndToEndDeadline,
	}, logger)

	llmClient := augment.NewLLMClient(cfg.Generation.ProviderURL, cfg.Generation.Model, cfg.Generation.Deadline)
	generator := augment.NewGenerator(llmClient, retrievalEngine, events, logger, cfg.Generation.HistoryTurns, cfg.Generation.ExcerptCharCap)

	h := &handlers{
		orchestrator: orchestrator,
		generator:    generator,
		memory:       memStore,
		feedback:     feedbackStore,
		cache:        cache,
		log:          logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/sync-jobs", h.submitIngestion)
		api.GET("/sync-jobs/:job_id", h.jobStatus)
		api.POST("/sessions/:session_id/messages", h.postMessage)
		api.GET("/sessions/:session_id/history/full", h.sessionHistory)
		api.POST("/messages/:message_id/feedback", h.submitFeedback)
		api.GET("/classification-cache/metrics", h.cacheMetrics)
		api.DELETE("/classification-cache/:digest", h.cacheDeleteDigest)
		api.DELETE("/classification-cache", h.cacheDeleteAll)
		api.GET("/health", h.health)
	}

	srv := &http.Server{Addr: cfg.Address, Handler: router}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeError maps an apierr.Error (or any error) to its HTTP status and a
// stable JSON body, so handlers don't each re-derive the status code.
func writeError(c *gin.Context, err error) {
	status := apierr.HTTPStatus(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
