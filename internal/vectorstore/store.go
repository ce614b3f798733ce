// Package vectorstore persists document chunks and their embeddings in
// Postgres via pgvector and answers nearest-neighbor similarity queries.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/xjson"
)

// ChunkInput is one chunk awaiting persistence, produced by internal/chunker
// and embedded by internal/embedding before reaching the store. Metadata is
// marshaled as-is into the chunk row's metadata column (chunking_strategy,
// document_name, and a denormalized document_id for recovery).
type ChunkInput struct {
	SequenceNumber int
	Content        string
	Embedding      []float32
	TokenCount     int
	Metadata       map[string]any
}

// ScoredChunk is a retrieval hit: a persisted chunk plus its similarity score
// against the query embedding (1 - cosine distance, so higher is better).
// Score always holds the similarity computed at search time; RerankScore is
// populated separately by cross-encoder reranking and must never overwrite
// Score, since the similarity floor is enforced against Score at the search
// stage while RERANK_THRESHOLD is a distinct, optional downstream filter.
type ScoredChunk struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	SequenceNumber int
	Content        string
	Score          float32
	RerankScore    float32
}

// Store wraps a pgxpool.Pool configured with the pgvector extension.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewStore connects to Postgres, ensuring the vector extension, schema and
// HNSW index exist, mirroring the parameters (m=16, ef_construction=64)
// observed across the pack's RAG services.
func NewStore(ctx context.Context, dsn string, maxConns int, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool so sibling stores
// (documentstore, memory, feedback) can share it instead of opening a
// second pool against the same database.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	file_hash TEXT NOT NULL UNIQUE,
	classification_tag TEXT,
	chunking_strategy TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	sequence_number INT NOT NULL,
	content TEXT NOT NULL,
	token_count INT NOT NULL DEFAULT 0,
	embedding vector(%[1]d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (document_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS document_chunks_document_idx
	ON document_chunks (document_id);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema()
			AND indexname = 'document_chunks_embedding_hnsw_idx'
	) THEN
		EXECUTE 'CREATE INDEX document_chunks_embedding_hnsw_idx ON document_chunks USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);';
	END IF;
END
$$;
`, s.dimension)

	_, err := s.pool.Exec(ctx, statements)
	return err
}

// UpsertDocument persists document metadata, keyed idempotently on
// file_hash: a resubmission of the same bytes updates the existing row
// rather than creating a duplicate.
func (s *Store) UpsertDocument(ctx context.Context, id uuid.UUID, title, fileHash, classificationTag, chunkingStrategy, status string, metadata []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents (id, title, file_hash, classification_tag, chunking_strategy, status, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (file_hash) DO UPDATE SET
	title = EXCLUDED.title,
	classification_tag = EXCLUDED.classification_tag,
	chunking_strategy = EXCLUDED.chunking_strategy,
	status = EXCLUDED.status,
	metadata = EXCLUDED.metadata,
	updated_at = NOW()
`, id, title, fileHash, classificationTag, chunkingStrategy, status, metadata)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// InsertChunks replaces all chunks for documentID transactionally: delete
// then insert, keyed idempotently on (document_id, sequence_number) so a
// retried ingestion job converges rather than accumulating duplicates.
func (s *Store) InsertChunks(ctx context.Context, documentID uuid.UUID, chunks []ChunkInput) error {
	if len(chunks) == 0 {
		return apierr.NewChunkingError("no chunks to insert")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return classifyPgErr(err)
	}

	inserted := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return apierr.NewChunkingError(fmt.Sprintf("embedding dimension mismatch for chunk %d: expected %d got %d", c.SequenceNumber, s.dimension, len(c.Embedding)))
		}
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		metaRaw, err := xjson.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		id := uuid.New()
		_, err = tx.Exec(ctx, `
INSERT INTO document_chunks (id, document_id, sequence_number, content, token_count, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, documentID, c.SequenceNumber, c.Content, c.TokenCount, pgvector.NewVector(c.Embedding), metaRaw, time.Now().UTC())
		if err != nil {
			return classifyPgErr(err)
		}
		inserted = append(inserted, c.SequenceNumber)
	}

	if len(inserted) != len(chunks) {
		missing := make([]int, 0)
		seen := make(map[int]bool, len(inserted))
		for _, s := range inserted {
			seen[s] = true
		}
		for _, c := range chunks {
			if !seen[c.SequenceNumber] {
				missing = append(missing, c.SequenceNumber)
			}
		}
		return apierr.NewPartialInsertError(missing)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks to embedding by cosine similarity,
// filtering out anything at or below threshold at the database level so the
// similarity floor is enforced before any downstream reranking touches the
// result set.
func (s *Store) Search(ctx context.Context, embedding []float32, threshold float32, k int) ([]ScoredChunk, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d got %d", s.dimension, len(embedding))
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, sequence_number, content, 1 - (embedding <=> $1) AS score
FROM document_chunks
WHERE 1 - (embedding <=> $1) > $3
ORDER BY embedding <=> $1
LIMIT $2`, pgvector.NewVector(embedding), k, threshold)
	if err != nil {
		return nil, apierr.NewRetrievalUnavailableError(fmt.Errorf("search chunks: %w", err))
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var c ScoredChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SequenceNumber, &c.Content, &c.Score); err != nil {
			return nil, apierr.NewRetrievalUnavailableError(fmt.Errorf("scan chunk: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.NewRetrievalUnavailableError(fmt.Errorf("iterate chunks: %w", err))
	}
	return out, nil
}

// DeleteDocument removes a document and, via ON DELETE CASCADE, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.NewNotFound("document not found")
	}
	return nil
}

func classifyPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apierr.NewForeignKeyError(err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apierr.NewNotFound("row not found")
	}
	return fmt.Errorf("persist chunk: %w", err)
}
