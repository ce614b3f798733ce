// Package memory implements conversational memory: an in-process L1 cache of
// recent turns per session backing a durable L2 Postgres store of chat
// messages, keyed for chronological and idempotent access.
package memory

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/xjson"
)

// Role constants for ChatMessage.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one persisted turn of a conversation.
type ChatMessage struct {
	ID              uuid.UUID
	SessionID       string
	Role            string
	Content         string
	SourceChunkIDs  []uuid.UUID
	Metadata        map[string]any
	IdempotencyKey  string
	CreatedAt       time.Time
}

// IdempotencyWindow buckets the timestamp component of IdempotencyKey: two
// writes of the same session_id + content whose timestamps truncate to the
// same window bucket collapse onto one row, which is what lets a retried POST
// of the same chat turn dedupe instead of minting a fresh key every time from
// wall-clock precision. Two writes on either side of a bucket boundary get
// distinct keys even when they are less than one window apart.
const IdempotencyWindow = 5 * time.Second

// TruncateToWindow floors t to the start of its IdempotencyWindow bucket.
func TruncateToWindow(t time.Time) time.Time {
	return t.Truncate(IdempotencyWindow)
}

// IdempotencyKey derives the deterministic key spec.md requires: a digest of
// session_id + timestamp + content, so retried writes of the same turn
// collapse onto one row. Callers should pass a window-truncated timestamp
// (TruncateToWindow) rather than a raw time.Now(), or every retry mints a
// distinct key and idempotency never engages.
func IdempotencyKey(sessionID string, ts time.Time, content string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", ts.UnixNano())
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Store is the L1+L2 conversational memory.
type Store struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	capacity int
	sessions map[string]*list.List // session_id -> list of *ChatMessage, most recent at Back
}

// NewStore builds a Store. capacity bounds L1's per-session turn count (the
// "last N turns" of spec.md §4.7/§4.8); L2 retains full history regardless.
func NewStore(ctx context.Context, pool *pgxpool.Pool, capacity int) (*Store, error) {
	s := &Store{
		pool:     pool,
		capacity: capacity,
		sessions: make(map[string]*list.List),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultTurns returns the configured L1 turn capacity, so callers can pass
// it as History's limit without duplicating the "last N turns" default.
func (s *Store) DefaultTurns() int { return s.capacity }

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id               UUID PRIMARY KEY,
			session_id       TEXT NOT NULL,
			role             TEXT NOT NULL,
			content          TEXT NOT NULL,
			source_chunk_ids UUID[],
			metadata         JSONB NOT NULL DEFAULT '{}'::jsonb,
			idempotency_key  TEXT NOT NULL UNIQUE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created
			ON chat_messages (session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure chat_messages schema: %w", err)
	}
	return nil
}

// Append persists a message (L2 insert, idempotent on IdempotencyKey) and,
// on success, pushes it into L1. Returns the row actually stored — on a
// duplicate idempotency key this is the pre-existing row, not a new one.
func (s *Store) Append(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}

	metaJSON, err := xjson.Marshal(msg.Metadata)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("marshal chat message metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, source_chunk_ids, metadata, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
		RETURNING id, session_id, role, content, source_chunk_ids, metadata, idempotency_key, created_at
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.SourceChunkIDs, metaJSON, msg.IdempotencyKey, msg.CreatedAt)

	stored, err := scanChatMessage(row)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("persist chat message: %w", err)
	}

	s.pushL1(stored)
	return stored, nil
}

// History loads the last `limit` turns for a session (most recent last),
// preferring L1 and falling back to L2 on a miss, per spec.md §4.8's load
// path: "L1 hit short-circuits; L1 miss hydrates from L2."
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if cached, ok := s.l1Snapshot(sessionID, limit); ok {
		return cached, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, source_chunk_ids, metadata, idempotency_key, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		msg, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session history: %w", err)
	}

	reverse(out)
	s.hydrateL1(sessionID, out)
	return out, nil
}

// GetHistory implements spec.md's get_history(session_id, limit, offset)
// operation, returning a page plus a has_more flag and the session's total
// message count.
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit, offset int) (messages []ChatMessage, total int, hasMore bool, err error) {
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_messages WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, false, fmt.Errorf("count session messages: %w", err)
	}
	if total == 0 {
		return []ChatMessage{}, 0, false, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, source_chunk_ids, metadata, idempotency_key, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, false, fmt.Errorf("page session history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanChatMessage(rows)
		if err != nil {
			return nil, 0, false, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("iterate session history page: %w", err)
	}

	hasMore = offset+len(messages) < total
	return messages, total, hasMore, nil
}

// --- L1: bounded in-process per-session cache ---

func (s *Store) pushL1(msg ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.sessions[msg.SessionID]
	if !ok {
		l = list.New()
		s.sessions[msg.SessionID] = l
	}
	l.PushBack(msg)
	for l.Len() > s.capacity {
		l.Remove(l.Front())
	}
}

func (s *Store) hydrateL1(sessionID string, msgs []ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := list.New()
	start := 0
	if len(msgs) > s.capacity {
		start = len(msgs) - s.capacity
	}
	for _, m := range msgs[start:] {
		l.PushBack(m)
	}
	s.sessions[sessionID] = l
}

func (s *Store) l1Snapshot(sessionID string, limit int) ([]ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}

	out := make([]ChatMessage, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(ChatMessage))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatMessage(row rowScanner) (ChatMessage, error) {
	var (
		m        ChatMessage
		metaJSON []byte
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.SourceChunkIDs, &metaJSON, &m.IdempotencyKey, &m.CreatedAt); err != nil {
		return ChatMessage{}, err
	}
	if len(metaJSON) > 0 {
		if err := xjson.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return ChatMessage{}, fmt.Errorf("unmarshal chat message metadata: %w", err)
		}
	}
	return m, nil
}

func reverse(msgs []ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
