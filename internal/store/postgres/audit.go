package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

// ledgerLockKey is the advisory lock protecting ledger appends. Combined with
// the service-level mutex it gives single-writer sequence allocation even
// with multiple server instances on one database.
const ledgerLockKey = int64(0x6669656c64700001)

// LedgerStore implements ledger.Store on Postgres.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) WithAppendTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledgerStore.WithAppendTx: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if _, err := pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("ledgerStore.WithAppendTx: acquire lock: %w", err)
	}

	if err := fn(&ledgerTx{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("ledgerStore.WithAppendTx: commit: %w", err)
	}

	return nil
}

func (s *LedgerStore) ListRange(ctx context.Context, fromSeq, toSeq int64) ([]*domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, action, actor, target, payload_digest, ts, prev_hash, entry_hash
		 FROM audit_entries WHERE seq >= $1 AND seq <= $2
		 ORDER BY seq`,
		fromSeq, toSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("ledgerStore.ListRange: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.Seq, &e.Action, &e.Actor, &e.Target,
			&e.PayloadDigest, &e.Timestamp, &e.PrevHash, &e.EntryHash,
		); err != nil {
			return nil, fmt.Errorf("ledgerStore.ListRange: scan: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledgerStore.ListRange: rows: %w", err)
	}

	return entries, nil
}

func (s *LedgerStore) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_entries`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("ledgerStore.MaxSeq: %w", err)
	}
	return seq, nil
}

// ledgerTx is the write surface inside one advisory-locked transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) Head(ctx context.Context) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT seq, entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1`,
	).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("ledgerTx.Head: %w", err)
	}

	return seq, hash, nil
}

func (t *ledgerTx) AppendEntry(ctx context.Context, e *domain.AuditEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_entries (seq, action, actor, target, payload_digest, ts, prev_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Seq, e.Action, e.Actor, e.Target, e.PayloadDigest, e.Timestamp, e.PrevHash, e.EntryHash,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("ledgerTx.AppendEntry: seq %d: %w", e.Seq, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("ledgerTx.AppendEntry: %w", err)
	}

	return nil
}

func (t *ledgerTx) AppendEvent(ctx context.Context, ev *domain.ServerEvent) error {
	signals, err := encodeSignals(ev.Signals)
	if err != nil {
		return fmt.Errorf("ledgerTx.AppendEvent: %w", err)
	}

	err = t.tx.QueryRow(ctx,
		`INSERT INTO server_events
			(id, idempotency_key, device_id, kind, device_time, received_at,
			 lat, lng, accuracy_m, altitude, speed, heading,
			 signals, note, content_hash, quality_flags, corrects)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING seq`,
		ev.ID, ev.IdempotencyKey, ev.DeviceID, ev.Kind, ev.DeviceTime, ev.ReceivedAt,
		ev.Location.Lat, ev.Location.Lng, ev.Location.AccuracyM,
		ev.Location.Altitude, ev.Location.Speed, ev.Location.Heading,
		signals, ev.Note, ev.ContentHash, ev.QualityFlags, ev.Corrects,
	).Scan(&ev.Seq)
	if isUniqueViolation(err) {
		return fmt.Errorf("ledgerTx.AppendEvent: idempotency key %s: %w", ev.IdempotencyKey, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("ledgerTx.AppendEvent: %w", err)
	}

	return nil
}

func (t *ledgerTx) AppendReview(ctx context.Context, r *domain.ReviewArtifact) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO review_artifacts (id, event_id, decision, reviewer_id, credential_state, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.EventID, r.Decision, r.ReviewerID, r.CredentialState, r.Reason, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledgerTx.AppendReview: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
