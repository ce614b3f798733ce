package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/augment"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/classifycache"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/feedback"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/ingest"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/memory"
)

// handlers holds every dependency the route table needs; methods stay thin
// request/response adapters around the core components.
type handlers struct {
	orchestrator *ingest.Orchestrator
	generator    *augment.Generator
	memory       *memory.Store
	feedback     *feedback.Store
	cache        *classifycache.Store
	log          *zap.Logger
}

type submitIngestionRequest struct {
	DocumentText string         `json:"document_text" binding:"required"`
	Metadata     map[string]any `json:"metadata"`
}

// submitIngestion implements spec.md §6's `POST sync-jobs`. Ingestion is
// asynchronous, so `inserted` is always 0 in the response; the caller polls
// jobStatus for the final chunk count.
func (h *handlers) submitIngestion(c *gin.Context) {
	var req submitIngestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	title := ""
	if req.Metadata != nil {
		if t, ok := req.Metadata["title"].(string); ok {
			title = t
		}
	}

	jobID, err := h.orchestrator.SubmitIngestion(c.Request.Context(), ingest.IngestionRequest{
		Title:      title,
		InlineText: req.DocumentText,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "inserted": 0})
}

// jobStatus implements `GET sync-jobs/{job_id}`.
func (h *handlers) jobStatus(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_id"})
		return
	}

	job, err := h.orchestrator.GetJob(jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	status := "PENDING"
	switch job.Status {
	case ingest.JobSucceeded:
		status = "SUCCESS"
	case ingest.JobFailed:
		status = "FAILURE"
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.ID,
		"status":   status,
		"inserted": job.InsertedChunks,
		"error":    job.Err,
	})
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// postMessage implements `POST sessions/{session_id}/messages`: loads
// history, runs retrieval + generation, and persists both turns with
// idempotency keys.
func (h *handlers) postMessage(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	priorTurns, err := h.memory.History(ctx, sessionID, h.memory.DefaultTurns())
	if err != nil {
		writeError(c, err)
		return
	}
	history := make([]augment.Message, 0, len(priorTurns))
	for _, m := range priorTurns {
		history = append(history, augment.Message{Role: m.Role, Content: m.Content})
	}

	now := memory.TruncateToWindow(time.Now())
	if _, err := h.memory.Append(ctx, memory.ChatMessage{
		SessionID:      sessionID,
		Role:           memory.RoleUser,
		Content:        req.Content,
		IdempotencyKey: memory.IdempotencyKey(sessionID, now, req.Content),
		CreatedAt:      now,
	}); err != nil {
		writeError(c, err)
		return
	}

	answer, genErr := h.generator.Answer(ctx, req.Content, history)
	if genErr != nil {
		var apiErr *apierr.Error
		if !apierr.As(genErr, &apiErr) || apiErr.Code != "AGPartial" {
			writeError(c, genErr)
			return
		}
		h.log.Warn("answer produced without citations", zap.String("session_id", sessionID))
	}

	assistantTime := memory.TruncateToWindow(time.Now())
	assistantMeta := map[string]any{"citations": answer.Citations, "latency_ms": answer.LatencyMS}
	stored, err := h.memory.Append(ctx, memory.ChatMessage{
		SessionID:      sessionID,
		Role:           memory.RoleAssistant,
		Content:        answer.Text,
		Metadata:       assistantMeta,
		IdempotencyKey: memory.IdempotencyKey(sessionID, assistantTime, answer.Text),
		CreatedAt:      assistantTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id": stored.ID,
		"content":    answer.Text,
		"citations":  answer.Citations,
		"latency_ms": answer.LatencyMS,
	})
}

// sessionHistory implements `GET sessions/{session_id}/history/full`.
func (h *handlers) sessionHistory(c *gin.Context) {
	sessionID := c.Param("session_id")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	messages, total, hasMore, err := h.memory.GetHistory(c.Request.Context(), sessionID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":    messages,
		"total_count": total,
		"has_more":    hasMore,
	})
}

type feedbackRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Vote      string `json:"vote" binding:"required"`
}

// submitFeedback implements `POST messages/{message_id}/feedback`.
func (h *handlers) submitFeedback(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message_id"})
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.feedback.Submit(c.Request.Context(), req.SessionID, messageID, feedback.Vote(req.Vote)); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// cacheMetrics implements the classification cache admin "metrics GET".
func (h *handlers) cacheMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats(c.Request.Context()))
}

// cacheDeleteDigest implements the classification cache admin "delete by
// digest".
func (h *handlers) cacheDeleteDigest(c *gin.Context) {
	digest := c.Param("digest")
	if err := h.cache.DeleteDigest(c.Request.Context(), digest); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// cacheDeleteAll implements the classification cache admin "delete all".
func (h *handlers) cacheDeleteAll(c *gin.Context) {
	if err := h.cache.DeleteAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}
