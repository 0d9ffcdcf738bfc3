package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations run in order on startup. Statements are idempotent so repeated
// startups are safe. Immutability of server_events, audit_entries, and
// review_artifacts is structural: row triggers reject UPDATE and DELETE at
// the database, not just at the repository surface.
var migrations = []string{ //nolint:gochecknoglobals // ordered DDL
	`CREATE TABLE IF NOT EXISTS reviewers (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'reviewer',
		credential_state TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		registered_by UUID NOT NULL REFERENCES reviewers(id),
		key_prefix TEXT NOT NULL UNIQUE,
		key_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS server_events (
		id UUID PRIMARY KEY,
		seq BIGINT GENERATED ALWAYS AS IDENTITY UNIQUE,
		idempotency_key UUID NOT NULL UNIQUE,
		device_id UUID NOT NULL REFERENCES devices(id),
		kind TEXT NOT NULL,
		device_time TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		accuracy_m DOUBLE PRECISION NOT NULL,
		altitude DOUBLE PRECISION,
		speed DOUBLE PRECISION,
		heading DOUBLE PRECISION,
		signals JSONB NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		quality_flags TEXT[] NOT NULL DEFAULT '{}',
		corrects UUID REFERENCES server_events(id),
		tombstoned_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_server_events_device_received
		ON server_events (device_id, received_at)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		seq BIGINT PRIMARY KEY,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		target TEXT NOT NULL,
		payload_digest TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		prev_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS verification_proofs (
		id UUID PRIMARY KEY,
		provider TEXT NOT NULL,
		subject_kind TEXT NOT NULL,
		subject_id UUID NOT NULL,
		payload_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		blob BYTEA,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		verified_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_verification_proofs_subject
		ON verification_proofs (subject_kind, subject_id)`,

	`CREATE TABLE IF NOT EXISTS review_artifacts (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL REFERENCES server_events(id),
		decision TEXT NOT NULL,
		reviewer_id UUID NOT NULL REFERENCES reviewers(id),
		credential_state TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_review_artifacts_event
		ON review_artifacts (event_id, created_at)`,

	`CREATE OR REPLACE FUNCTION forbid_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'record is immutable' USING ERRCODE = 'raise_exception';
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS server_events_immutable ON server_events`,
	`CREATE TRIGGER server_events_immutable
		BEFORE UPDATE OR DELETE ON server_events
		FOR EACH ROW EXECUTE FUNCTION forbid_mutation()`,

	`DROP TRIGGER IF EXISTS audit_entries_immutable ON audit_entries`,
	`CREATE TRIGGER audit_entries_immutable
		BEFORE UPDATE OR DELETE ON audit_entries
		FOR EACH ROW EXECUTE FUNCTION forbid_mutation()`,

	`DROP TRIGGER IF EXISTS review_artifacts_immutable ON review_artifacts`,
	`CREATE TRIGGER review_artifacts_immutable
		BEFORE UPDATE OR DELETE ON review_artifacts
		FOR EACH ROW EXECUTE FUNCTION forbid_mutation()`,
}

// Migrate applies the schema. Each statement runs in its own Exec so pgx's
// extended protocol is happy with the mixed DDL.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres.Migrate: statement %d: %w", i, err)
		}
	}
	return nil
}
