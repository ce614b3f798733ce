// Package documentstore provides document-lifecycle queries layered over the
// same Postgres pool internal/vectorstore uses for chunk persistence: status
// transitions, lookups, and listing, without touching vector columns.
package documentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

// Status values a Document can hold across its ingestion lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Document is the persisted metadata row, mirroring spec.md §3's Document
// entity plus the SourceBlob extension (metadata.source_object).
type Document struct {
	ID                uuid.UUID
	Title             string
	FileHash          string
	ClassificationTag string
	ChunkingStrategy  string
	Status            string
	Metadata          map[string]any
	ChunkCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Store reads and updates document rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an already-connected pool. internal/vectorstore.Store owns
// schema creation; this package assumes the documents table already exists.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get fetches a document by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	row := s.pool.QueryRow(ctx, `
SELECT d.id, d.title, d.file_hash, d.classification_tag, d.chunking_strategy, d.status, d.metadata, d.created_at, d.updated_at,
       COALESCE((SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = d.id), 0)
FROM documents d WHERE d.id = $1`, id)

	var doc Document
	var metaRaw []byte
	var chunkCount int64
	if err := row.Scan(&doc.ID, &doc.Title, &doc.FileHash, &doc.ClassificationTag, &doc.ChunkingStrategy, &doc.Status, &metaRaw, &doc.CreatedAt, &doc.UpdatedAt, &chunkCount); err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, apierr.NewNotFound("document not found")
		}
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.ChunkCount = int(chunkCount)
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	return doc, nil
}

// GetByFileHash supports ingestion's idempotency check: a resubmission of
// identical bytes should be recognized before any work is scheduled.
func (s *Store) GetByFileHash(ctx context.Context, fileHash string) (Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, file_hash, classification_tag, chunking_strategy, status, metadata, created_at, updated_at
FROM documents WHERE file_hash = $1`, fileHash)

	var doc Document
	var metaRaw []byte
	if err := row.Scan(&doc.ID, &doc.Title, &doc.FileHash, &doc.ClassificationTag, &doc.ChunkingStrategy, &doc.Status, &metaRaw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, false, nil
		}
		return Document{}, false, fmt.Errorf("lookup document by hash: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
			return Document{}, false, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	return doc, true, nil
}

// UpdateStatus transitions a document's lifecycle status.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.NewNotFound("document not found")
	}
	return nil
}

// ListByStatus returns documents in a given lifecycle state, most recent first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, title, file_hash, classification_tag, chunking_strategy, status, metadata, created_at, updated_at
FROM documents WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metaRaw []byte
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.FileHash, &doc.ClassificationTag, &doc.ChunkingStrategy, &doc.Status, &metaRaw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode document metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
