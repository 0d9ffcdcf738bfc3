package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
	"github.com/fieldproof/fieldproof/internal/store/memory"
	"github.com/fieldproof/fieldproof/internal/verify"
)

type captureNotifier struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (n *captureNotifier) NotifyIngested(_ context.Context, ev *domain.ServerEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, ev.ID)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	ledger   *ledger.Ledger
	notifier *captureNotifier
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	st := memory.New()
	led := ledger.New(st)

	local, err := verify.NewLocalProvider(strings.Repeat("5c", 32))
	require.NoError(t, err)
	reg := verify.NewRegistry()
	reg.Register(local)
	require.NoError(t, reg.SetActive("local"))
	proofs := verify.NewService(reg, st.Proofs(), led, nil, time.Minute)

	notifier := &captureNotifier{}
	return &fixture{
		svc:      NewService(st.Events(), led, proofs, notifier, opts),
		store:    st,
		ledger:   led,
		notifier: notifier,
	}
}

func validCapture(t *testing.T, deviceTime time.Time) *domain.CaptureEvent {
	t.Helper()

	capture := &domain.CaptureEvent{
		LocalID:    uuid.New(),
		Kind:       domain.EventKindArrival,
		DeviceTime: deviceTime,
		Location:   domain.Geolocation{Lat: 37.566, Lng: 126.978, AccuracyM: 12},
		Signals: domain.SignalBundle{
			Version:      domain.SignalBundleVersion,
			LocationFlag: domain.LocationGranted,
		},
		Note: "gate A",
	}

	hash, err := capture.ComputeContentHash()
	require.NoError(t, err)
	capture.ContentHash = hash

	return capture
}

func TestIngestStoresEventWithAuditEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	deviceID := uuid.New()
	capture := validCapture(t, time.Now().UTC())

	res, err := f.svc.Ingest(context.Background(), deviceID, capture)
	require.NoError(t, err)
	assert.False(t, res.AlreadyExisted)
	assert.Equal(t, capture.LocalID, res.Event.IdempotencyKey)
	assert.Equal(t, deviceID, res.Event.DeviceID)
	assert.Empty(t, res.Event.QualityFlags)
	assert.False(t, res.Event.ReceivedAt.IsZero())

	stored, err := f.store.Events().GetByID(context.Background(), res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, capture.ContentHash, stored.ContentHash)

	// One entry for the ingestion, one for the proof request.
	entries, err := f.ledger.Entries(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditActionEventIngested, entries[0].Action)
	assert.Equal(t, res.Event.ID.String(), entries[0].Target)
	assert.Equal(t, domain.AuditActionProofRequested, entries[1].Action)

	ok, err := f.ledger.VerifyChain(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []uuid.UUID{res.Event.ID}, f.notifier.ids)
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	deviceID := uuid.New()
	capture := validCapture(t, time.Now().UTC())

	first, err := f.svc.Ingest(context.Background(), deviceID, capture)
	require.NoError(t, err)

	second, err := f.svc.Ingest(context.Background(), deviceID, capture)
	require.NoError(t, err)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Equal(t, first.Event.Seq, second.Event.Seq)

	// The duplicate delivery adds no ledger entries and no notifications.
	maxSeq, err := f.ledger.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxSeq)
	assert.Len(t, f.notifier.ids, 1)
}

func TestIngestRejectsInvalidCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	deviceID := uuid.New()

	t.Run("tampered content hash", func(t *testing.T) {
		capture := validCapture(t, time.Now().UTC())
		capture.Note = "edited after hashing"

		_, err := f.svc.Ingest(context.Background(), deviceID, capture)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown kind", func(t *testing.T) {
		capture := validCapture(t, time.Now().UTC())
		capture.Kind = "teleport"

		_, err := f.svc.Ingest(context.Background(), deviceID, capture)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("beyond hard clock bound", func(t *testing.T) {
		capture := validCapture(t, time.Now().UTC().Add(-48*time.Hour))

		_, err := f.svc.Ingest(context.Background(), deviceID, capture)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestIngestLateRedeliveryResolvesToStoredEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HardSkew: time.Hour})
	deviceID := uuid.New()
	base := time.Now().UTC()
	capture := validCapture(t, base)

	first, err := f.svc.Ingest(context.Background(), deviceID, capture)
	require.NoError(t, err)

	// The device comes back online well past the hard skew bound. The
	// redelivery must still resolve to the stored identity, not a rejection.
	f.svc.now = func() time.Time { return base.Add(2 * time.Hour) }

	second, err := f.svc.Ingest(context.Background(), deviceID, capture)
	require.NoError(t, err)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Equal(t, first.Event.Seq, second.Event.Seq)

	// A fresh capture with the same stale device time is still rejected.
	stale := validCapture(t, base)
	_, err = f.svc.Ingest(context.Background(), deviceID, stale)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) CreateProof(context.Context, verify.Request) (*domain.VerificationProof, error) {
	return nil, errors.New("notary unreachable")
}

func (failingProvider) VerifyProof(context.Context, *domain.VerificationProof) (verify.Result, error) {
	return verify.Result{}, errors.New("notary unreachable")
}

func TestIngestSucceedsWhenProofCreationFails(t *testing.T) {
	t.Parallel()

	st := memory.New()
	led := ledger.New(st)
	reg := verify.NewRegistry()
	reg.Register(failingProvider{})
	require.NoError(t, reg.SetActive("failing"))
	proofs := verify.NewService(reg, st.Proofs(), led, nil, time.Minute)
	svc := NewService(st.Events(), led, proofs, nil, Options{})

	deviceID := uuid.New()
	res, err := svc.Ingest(context.Background(), deviceID, validCapture(t, time.Now().UTC()))
	require.NoError(t, err)

	// The event committed and is queryable despite the provider failure.
	stored, err := st.Events().GetByID(context.Background(), res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Event.ContentHash, stored.ContentHash)

	// No proof was recorded for it, and the ledger holds only the
	// ingestion entry.
	attached, err := st.Proofs().ListBySubject(context.Background(), domain.ProofSubjectEvent, res.Event.ID)
	require.NoError(t, err)
	assert.Empty(t, attached)

	maxSeq, err := led.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxSeq)
}

func TestIngestFlagsQualitySignals(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{SoftSkew: time.Minute})
	deviceID := uuid.New()

	capture := validCapture(t, time.Now().UTC().Add(-10*time.Minute))
	capture.Location.AccuracyM = 250
	capture.Signals.LocationFlag = domain.LocationTimeout
	hash, err := capture.ComputeContentHash()
	require.NoError(t, err)
	capture.ContentHash = hash

	res, err := f.svc.Ingest(context.Background(), deviceID, capture)
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{QualityFlagClockSkew, QualityFlagGPSCoarse, "location_timeout"},
		res.Event.QualityFlags)
}

func TestIngestConcurrentDeliveriesShareIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	deviceID := uuid.New()
	capture := validCapture(t, time.Now().UTC())

	const attempts = 16
	results := make([]*Result, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Ingest(context.Background(), deviceID, capture)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, res := range results {
		assert.Equal(t, results[0].Event.ID, res.Event.ID)
		if !res.AlreadyExisted {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	// Exactly one ingestion entry plus its proof entry.
	maxSeq, err := f.ledger.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxSeq)
}

func TestSyncStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	deviceID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Ingest(context.Background(), deviceID, validCapture(t, time.Now().UTC()))
		require.NoError(t, err)
	}
	_, err := f.svc.Ingest(context.Background(), uuid.New(), validCapture(t, time.Now().UTC()))
	require.NoError(t, err)

	summary, err := f.svc.SyncStatus(context.Background(), deviceID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.IngestedCount)
	require.NotNil(t, summary.LastReceivedAt)
	assert.Positive(t, summary.LastSeq)
}
