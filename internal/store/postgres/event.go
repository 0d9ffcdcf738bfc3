package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// EventRepo reads server_events. Writes go exclusively through the ledger
// transaction (ledgerTx.AppendEvent); the repository exposes no mutation.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

const eventColumns = `id, seq, idempotency_key, device_id, kind, device_time, received_at,
	lat, lng, accuracy_m, altitude, speed, heading,
	signals, note, content_hash, quality_flags, corrects`

func (r *EventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ServerEvent, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM server_events WHERE id = $1`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("eventRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("eventRepo.GetByID: %w", err)
	}

	return ev, nil
}

func (r *EventRepo) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.ServerEvent, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM server_events WHERE idempotency_key = $1`, key)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("eventRepo.GetByIdempotencyKey: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("eventRepo.GetByIdempotencyKey: %w", err)
	}

	return ev, nil
}

func (r *EventRepo) List(ctx context.Context, filter domain.EventFilter) ([]*domain.ServerEvent, error) {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.DeviceID != uuid.Nil {
		add("device_id = $%d", filter.DeviceID)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if !filter.From.IsZero() {
		add("received_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("received_at < $%d", filter.To)
	}
	if len(filter.IDs) > 0 {
		add("id = ANY($%d)", filter.IDs)
	}

	query := `SELECT ` + eventColumns + ` FROM server_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventRepo.List: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows, "eventRepo.List")
}

// History walks the forward-only corrects chain ending at id, oldest
// ancestor first.
func (r *EventRepo) History(ctx context.Context, id uuid.UUID) ([]*domain.ServerEvent, error) {
	rows, err := r.pool.Query(ctx,
		`WITH RECURSIVE chain AS (
			SELECT `+eventColumns+`, 0 AS depth FROM server_events WHERE id = $1
			UNION ALL
			SELECT `+prefixedEventColumns("e")+`, chain.depth + 1
			FROM server_events e
			JOIN chain ON chain.corrects = e.id
		)
		SELECT `+eventColumns+` FROM chain ORDER BY depth DESC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("eventRepo.History: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows, "eventRepo.History")
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("eventRepo.History: %w", domain.ErrNotFound)
	}

	return events, nil
}

func (r *EventRepo) DeviceSummary(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error) {
	summary := &domain.DeviceSyncSummary{DeviceID: deviceID}

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(seq), 0), MAX(received_at)
		 FROM server_events WHERE device_id = $1`,
		deviceID,
	).Scan(&summary.IngestedCount, &summary.LastSeq, &summary.LastReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("eventRepo.DeviceSummary: %w", err)
	}

	return summary, nil
}

func prefixedEventColumns(alias string) string {
	cols := strings.Split(eventColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func encodeSignals(s domain.SignalBundle) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode signals: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.ServerEvent, error) {
	var (
		ev      domain.ServerEvent
		signals []byte
	)

	if err := row.Scan(
		&ev.ID, &ev.Seq, &ev.IdempotencyKey, &ev.DeviceID, &ev.Kind,
		&ev.DeviceTime, &ev.ReceivedAt,
		&ev.Location.Lat, &ev.Location.Lng, &ev.Location.AccuracyM,
		&ev.Location.Altitude, &ev.Location.Speed, &ev.Location.Heading,
		&signals, &ev.Note, &ev.ContentHash, &ev.QualityFlags, &ev.Corrects,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(signals, &ev.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}

	return &ev, nil
}

func scanEvents(rows pgx.Rows, caller string) ([]*domain.ServerEvent, error) {
	var events []*domain.ServerEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return events, nil
}
