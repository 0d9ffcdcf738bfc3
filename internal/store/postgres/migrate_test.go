package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

// openTestStore connects to the database named by FIELDPROOF_TEST_DATABASE_URL
// and skips the test when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("FIELDPROOF_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FIELDPROOF_TEST_DATABASE_URL not set")
	}

	store, err := New(context.Background(), dsn, 4)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func TestImmutabilityTriggers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	led := ledger.New(store.Ledger())
	now := time.Now().UTC()

	reviewer := &domain.Reviewer{
		ID:              uuid.New(),
		Email:           uuid.NewString() + "@example.org",
		Name:            "Trigger Test Reviewer",
		PasswordHash:    "salt$hash",
		Role:            "reviewer",
		CredentialState: domain.CredentialActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.Reviewers().Create(ctx, reviewer))

	device := &domain.Device{
		ID:           uuid.New(),
		Name:         "trigger test tablet",
		RegisteredBy: reviewer.ID,
		KeyPrefix:    "fp_" + uuid.NewString()[:5],
		KeyHash:      uuid.NewString(),
		CreatedAt:    now,
	}
	require.NoError(t, store.Devices().Create(ctx, device))

	ev := &domain.ServerEvent{
		ID:             uuid.New(),
		IdempotencyKey: uuid.New(),
		DeviceID:       device.ID,
		Kind:           domain.EventKindArrival,
		DeviceTime:     now,
		ReceivedAt:     now,
		Location:       domain.Geolocation{Lat: 37.566, Lng: 126.978, AccuracyM: 12},
		Signals: domain.SignalBundle{
			Version:      domain.SignalBundleVersion,
			LocationFlag: domain.LocationGranted,
		},
		ContentHash: domain.HashBytes([]byte("trigger test payload")),
	}
	_, err := led.AppendWith(ctx, ledger.Input{
		Action: domain.AuditActionEventIngested,
		Actor:  "device:" + device.ID.String(),
		Target: ev.ID.String(),
	}, func(tx ledger.Tx) error {
		return tx.AppendEvent(ctx, ev)
	})
	require.NoError(t, err)

	artifact := &domain.ReviewArtifact{
		ID:              uuid.New(),
		EventID:         ev.ID,
		Decision:        domain.DecisionApprove,
		ReviewerID:      reviewer.ID,
		CredentialState: domain.CredentialActive,
		CreatedAt:       now,
	}
	_, err = led.AppendWith(ctx, ledger.Input{
		Action: domain.AuditActionReviewRecorded,
		Actor:  "reviewer:" + reviewer.ID.String(),
		Target: artifact.ID.String(),
	}, func(tx ledger.Tx) error {
		return tx.AppendReview(ctx, artifact)
	})
	require.NoError(t, err)

	mutations := []struct {
		name string
		sql  string
		args []any
	}{
		{"update server_event note", `UPDATE server_events SET note = 'rewritten' WHERE id = $1`, []any{ev.ID}},
		{"update server_event location", `UPDATE server_events SET lat = 0, lng = 0 WHERE id = $1`, []any{ev.ID}},
		{"delete server_event", `DELETE FROM server_events WHERE id = $1`, []any{ev.ID}},
		{"update audit_entry hash", `UPDATE audit_entries SET entry_hash = 'forged' WHERE target = $1`, []any{ev.ID.String()}},
		{"delete audit_entry", `DELETE FROM audit_entries WHERE target = $1`, []any{ev.ID.String()}},
		{"update review_artifact decision", `UPDATE review_artifacts SET decision = 'reject' WHERE id = $1`, []any{artifact.ID}},
		{"delete review_artifact", `DELETE FROM review_artifacts WHERE id = $1`, []any{artifact.ID}},
	}

	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			_, execErr := store.pool.Exec(ctx, m.sql, m.args...)
			require.Error(t, execErr)
			assert.Contains(t, execErr.Error(), "immutable")
		})
	}

	// The rows survive the rejected mutations unchanged.
	stored, err := store.Events().GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ContentHash, stored.ContentHash)
	assert.Equal(t, ev.Location, stored.Location)

	reviews, err := store.Reviews().ListByEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, domain.DecisionApprove, reviews[0].Decision)
}
