// Package feedback persists per-message up/down votes, unique on
// (session_id, message_id) with UPSERT-on-resubmit semantics.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

// Vote is the closed set of feedback values spec.md §3 allows.
type Vote string

const (
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

func (v Vote) valid() bool {
	return v == VoteUp || v == VoteDown
}

// Store is the durable feedback table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store and ensures its schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS feedback (
			session_id  TEXT NOT NULL,
			message_id  UUID NOT NULL,
			vote        TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, message_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure feedback schema: %w", err)
	}
	return nil
}

// Submit records a vote for a message, updating it in place if the same
// (session_id, message_id) pair was already voted on — the UPSERT
// invariant spec.md §3/§7 names explicitly.
func (s *Store) Submit(ctx context.Context, sessionID string, messageID uuid.UUID, vote Vote) error {
	if !vote.valid() {
		return apierr.NewValidationError(fmt.Errorf("invalid vote %q: must be %q or %q", vote, VoteUp, VoteDown))
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (session_id, message_id, vote, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, message_id)
		DO UPDATE SET vote = EXCLUDED.vote, updated_at = now()
	`, sessionID, messageID, string(vote))
	if err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

// Get returns the vote recorded for a (session_id, message_id) pair, if any.
func (s *Store) Get(ctx context.Context, sessionID string, messageID uuid.UUID) (Vote, bool, error) {
	var vote string
	err := s.pool.QueryRow(ctx, `
		SELECT vote FROM feedback WHERE session_id = $1 AND message_id = $2
	`, sessionID, messageID).Scan(&vote)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load feedback: %w", err)
	}
	return Vote(vote), true, nil
}
