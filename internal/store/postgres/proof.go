package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldproof/fieldproof/internal/domain"
)

type ProofRepo struct {
	pool *pgxpool.Pool
}

func NewProofRepo(pool *pgxpool.Pool) *ProofRepo {
	return &ProofRepo{pool: pool}
}

func (r *ProofRepo) Create(ctx context.Context, p *domain.VerificationProof) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO verification_proofs
			(id, provider, subject_kind, subject_id, payload_hash, status, blob, attempts, last_error, created_at, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Provider, p.SubjectKind, p.SubjectID, p.PayloadHash,
		p.Status, p.Blob, p.Attempts, p.LastError, p.CreatedAt, p.VerifiedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("proofRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("proofRepo.Create: %w", err)
	}

	return nil
}

// UpdateStatus advances the proof lifecycle. The attested payload hash,
// subject, and provider are never rewritten.
func (r *ProofRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProofStatus, blob []byte, lastError string, verifiedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE verification_proofs
		 SET status = $2, blob = $3, last_error = $4, verified_at = $5, attempts = attempts + 1
		 WHERE id = $1`,
		id, status, blob, lastError, verifiedAt,
	)
	if err != nil {
		return fmt.Errorf("proofRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proofRepo.UpdateStatus: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *ProofRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationProof, error) {
	var p domain.VerificationProof

	err := r.pool.QueryRow(ctx,
		`SELECT id, provider, subject_kind, subject_id, payload_hash, status, blob, attempts, last_error, created_at, verified_at
		 FROM verification_proofs WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.Provider, &p.SubjectKind, &p.SubjectID, &p.PayloadHash,
		&p.Status, &p.Blob, &p.Attempts, &p.LastError, &p.CreatedAt, &p.VerifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("proofRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("proofRepo.GetByID: %w", err)
	}

	return &p, nil
}

func (r *ProofRepo) ListBySubject(ctx context.Context, kind domain.ProofSubject, subjectID uuid.UUID) ([]*domain.VerificationProof, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, provider, subject_kind, subject_id, payload_hash, status, blob, attempts, last_error, created_at, verified_at
		 FROM verification_proofs WHERE subject_kind = $1 AND subject_id = $2
		 ORDER BY created_at`,
		kind, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("proofRepo.ListBySubject: %w", err)
	}
	defer rows.Close()

	return scanProofs(rows, "proofRepo.ListBySubject")
}

func (r *ProofRepo) ListUnresolved(ctx context.Context, limit int) ([]*domain.VerificationProof, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, provider, subject_kind, subject_id, payload_hash, status, blob, attempts, last_error, created_at, verified_at
		 FROM verification_proofs WHERE status NOT IN ('verified', 'failed')
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("proofRepo.ListUnresolved: %w", err)
	}
	defer rows.Close()

	return scanProofs(rows, "proofRepo.ListUnresolved")
}

func scanProofs(rows pgx.Rows, caller string) ([]*domain.VerificationProof, error) {
	var proofs []*domain.VerificationProof
	for rows.Next() {
		var p domain.VerificationProof
		if err := rows.Scan(
			&p.ID, &p.Provider, &p.SubjectKind, &p.SubjectID, &p.PayloadHash,
			&p.Status, &p.Blob, &p.Attempts, &p.LastError, &p.CreatedAt, &p.VerifiedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		proofs = append(proofs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return proofs, nil
}
