package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// ReviewRepo reads review_artifacts. Writes go through the ledger
// transaction so each artifact lands with its audit entry.
type ReviewRepo struct {
	pool *pgxpool.Pool
}

func NewReviewRepo(pool *pgxpool.Pool) *ReviewRepo {
	return &ReviewRepo{pool: pool}
}

func (r *ReviewRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReviewArtifact, error) {
	var artifact domain.ReviewArtifact

	err := r.pool.QueryRow(ctx,
		`SELECT id, event_id, decision, reviewer_id, credential_state, reason, created_at
		 FROM review_artifacts WHERE id = $1`,
		id,
	).Scan(
		&artifact.ID, &artifact.EventID, &artifact.Decision,
		&artifact.ReviewerID, &artifact.CredentialState, &artifact.Reason, &artifact.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reviewRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reviewRepo.GetByID: %w", err)
	}

	return &artifact, nil
}

// ListByEvent returns the full append-only decision history, most recent last.
func (r *ReviewRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.ReviewArtifact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, decision, reviewer_id, credential_state, reason, created_at
		 FROM review_artifacts WHERE event_id = $1
		 ORDER BY created_at`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("reviewRepo.ListByEvent: %w", err)
	}
	defer rows.Close()

	var artifacts []*domain.ReviewArtifact
	for rows.Next() {
		var a domain.ReviewArtifact
		if err := rows.Scan(
			&a.ID, &a.EventID, &a.Decision,
			&a.ReviewerID, &a.CredentialState, &a.Reason, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("reviewRepo.ListByEvent: scan: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reviewRepo.ListByEvent: rows: %w", err)
	}

	return artifacts, nil
}
