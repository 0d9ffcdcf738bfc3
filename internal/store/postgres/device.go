package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldproof/fieldproof/internal/domain"
)

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func (r *DeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO devices (id, name, registered_by, key_prefix, key_hash, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Name, d.RegisteredBy, d.KeyPrefix, d.KeyHash, d.CreatedAt, d.LastSeenAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("deviceRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("deviceRepo.Create: %w", err)
	}

	return nil
}

func (r *DeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	d, err := r.getBy(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("deviceRepo.GetByID: %w", err)
	}
	return d, nil
}

func (r *DeviceRepo) GetByKeyPrefix(ctx context.Context, prefix string) (*domain.Device, error) {
	d, err := r.getBy(ctx, "key_prefix = $1", prefix)
	if err != nil {
		return nil, fmt.Errorf("deviceRepo.GetByKeyPrefix: %w", err)
	}
	return d, nil
}

func (r *DeviceRepo) getBy(ctx context.Context, cond string, arg any) (*domain.Device, error) {
	var d domain.Device

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, registered_by, key_prefix, key_hash, created_at, last_seen_at
		 FROM devices WHERE `+cond,
		arg,
	).Scan(&d.ID, &d.Name, &d.RegisteredBy, &d.KeyPrefix, &d.KeyHash, &d.CreatedAt, &d.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &d, nil
}

func (r *DeviceRepo) UpdateLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE devices SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deviceRepo.UpdateLastSeen: %w", err)
	}
	return nil
}

func (r *DeviceRepo) List(ctx context.Context) ([]*domain.Device, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, registered_by, key_prefix, key_hash, created_at, last_seen_at
		 FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("deviceRepo.List: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.RegisteredBy, &d.KeyPrefix, &d.KeyHash, &d.CreatedAt, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("deviceRepo.List: scan: %w", err)
		}
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deviceRepo.List: rows: %w", err)
	}

	return devices, nil
}

type ReviewerRepo struct {
	pool *pgxpool.Pool
}

func NewReviewerRepo(pool *pgxpool.Pool) *ReviewerRepo {
	return &ReviewerRepo{pool: pool}
}

func (r *ReviewerRepo) Create(ctx context.Context, rv *domain.Reviewer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reviewers (id, email, name, password_hash, role, credential_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rv.ID, strings.ToLower(rv.Email), rv.Name, rv.PasswordHash,
		rv.Role, rv.CredentialState, rv.CreatedAt, rv.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("reviewerRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("reviewerRepo.Create: %w", err)
	}

	return nil
}

func (r *ReviewerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reviewer, error) {
	rv, err := r.getBy(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("reviewerRepo.GetByID: %w", err)
	}
	return rv, nil
}

func (r *ReviewerRepo) GetByEmail(ctx context.Context, email string) (*domain.Reviewer, error) {
	rv, err := r.getBy(ctx, "email = $1", strings.ToLower(email))
	if err != nil {
		return nil, fmt.Errorf("reviewerRepo.GetByEmail: %w", err)
	}
	return rv, nil
}

func (r *ReviewerRepo) UpdateCredentialState(ctx context.Context, id uuid.UUID, state string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reviewers SET credential_state = $2, updated_at = now() WHERE id = $1`,
		id, state)
	if err != nil {
		return fmt.Errorf("reviewerRepo.UpdateCredentialState: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reviewerRepo.UpdateCredentialState: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ReviewerRepo) getBy(ctx context.Context, cond string, arg any) (*domain.Reviewer, error) {
	var rv domain.Reviewer

	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, role, credential_state, created_at, updated_at
		 FROM reviewers WHERE `+cond,
		arg,
	).Scan(&rv.ID, &rv.Email, &rv.Name, &rv.PasswordHash, &rv.Role, &rv.CredentialState, &rv.CreatedAt, &rv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rv, nil
}
