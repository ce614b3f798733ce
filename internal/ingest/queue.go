package ingest

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/xjson"
)

const queueKey = "ingestion:queue"

// QueueMessage is the wire shape enqueued for bulk/background ingestion,
// mirroring IngestionRequest without the SourceBlob pointer indirection so
// it round-trips through JSON cleanly.
type QueueMessage struct {
	Title         string `json:"title"`
	InlineText    string `json:"inline_text,omitempty"`
	SourceBucket  string `json:"source_bucket,omitempty"`
	SourceKey     string `json:"source_key,omitempty"`
}

// ToRequest converts a dequeued message into the IngestionRequest the
// orchestrator expects.
func (m QueueMessage) ToRequest() IngestionRequest {
	req := IngestionRequest{Title: m.Title, InlineText: m.InlineText}
	if m.SourceBucket != "" && m.SourceKey != "" {
		req.SourceObject = &SourceBlob{Bucket: m.SourceBucket, Key: m.SourceKey}
	}
	return req
}

// JobQueue is a Redis-list-backed queue for bulk ingestion, consumed by the
// standalone worker tier (cmd/worker). Producers call Enqueue directly; the
// API tier's sync-jobs endpoint does not use it. Dequeue removes a message
// from the list (BRPOP), so a message whose worker stops before finishing is
// not delivered again.
type JobQueue struct {
	client *redis.Client
}

// NewJobQueue connects to Redis for queue operations.
func NewJobQueue(redisURL string) (*JobQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &JobQueue{client: redis.NewClient(opt)}, nil
}

// Enqueue pushes a message onto the queue for a worker to pick up.
func (q *JobQueue) Enqueue(ctx context.Context, msg QueueMessage) error {
	payload, err := xjson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue ingestion message: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout waiting for a message. A zero-value
// QueueMessage and ok=false mean the wait timed out with nothing queued.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (QueueMessage, bool, error) {
	result, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return QueueMessage{}, false, nil
	}
	if err != nil {
		return QueueMessage{}, false, fmt.Errorf("dequeue ingestion message: %w", err)
	}
	// BRPop returns [key, value]; the payload is always the second element.
	var msg QueueMessage
	if err := xjson.Unmarshal([]byte(result[1]), &msg); err != nil {
		return QueueMessage{}, false, fmt.Errorf("unmarshal queue message: %w", err)
	}
	return msg, true, nil
}

// Close releases the Redis connection.
func (q *JobQueue) Close() error {
	return q.client.Close()
}
