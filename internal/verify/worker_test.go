package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
	"github.com/fieldproof/fieldproof/internal/store/memory"
)

type recordingAlerter struct {
	subjects []string
}

func (a *recordingAlerter) Alert(_ context.Context, subject, _ string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}

func newTestService(t *testing.T, reg *Registry, alerter Alerter) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewService(reg, st.Proofs(), ledger.New(st), alerter, time.Minute), st
}

func TestRequestProofPersistsAndAudits(t *testing.T) {
	t.Parallel()

	local, err := NewLocalProvider(testSeed)
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(local)
	require.NoError(t, reg.SetActive("local"))

	svc, st := newTestService(t, reg, nil)

	req := testRequest()
	proof := svc.RequestProof(context.Background(), req.SubjectKind, req.SubjectID, req.PayloadHash, req.OccurredAt)
	require.NotNil(t, proof)
	assert.Equal(t, domain.ProofStatusVerified, proof.Status)

	stored, err := st.Proofs().GetByID(context.Background(), proof.ID)
	require.NoError(t, err)
	assert.Equal(t, proof.PayloadHash, stored.PayloadHash)

	entries, err := ledger.New(st).Entries(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionProofRequested, entries[0].Action)
}

func TestRequestProofWithoutActiveProviderReturnsNil(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, NewRegistry(), nil)

	req := testRequest()
	assert.Nil(t, svc.RequestProof(context.Background(), req.SubjectKind, req.SubjectID, req.PayloadHash, req.OccurredAt))
}

func TestSweepResolvesPendingAnchorProofs(t *testing.T) {
	t.Parallel()

	anchor := NewAnchorProvider(&countingAnchorer{}, 10)
	reg := NewRegistry()
	reg.Register(anchor)
	require.NoError(t, reg.SetActive("anchor"))

	svc, st := newTestService(t, reg, nil)

	req := testRequest()
	proof := svc.RequestProof(context.Background(), req.SubjectKind, req.SubjectID, req.PayloadHash, req.OccurredAt)
	require.NotNil(t, proof)
	require.Equal(t, domain.ProofStatusPending, proof.Status)

	// Still pending before the batch anchors.
	require.NoError(t, svc.Sweep(context.Background()))
	stored, err := st.Proofs().GetByID(context.Background(), proof.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusPending, stored.Status)

	require.NoError(t, anchor.Flush(context.Background()))
	require.NoError(t, svc.Sweep(context.Background()))

	stored, err = st.Proofs().GetByID(context.Background(), proof.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusVerified, stored.Status)
	assert.NotNil(t, stored.VerifiedAt)

	unresolved, err := st.Proofs().ListUnresolved(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestSweepFailsProofOfUnregisteredProvider(t *testing.T) {
	t.Parallel()

	local, err := NewLocalProvider(testSeed)
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(local)
	require.NoError(t, reg.SetActive("local"))

	alerter := &recordingAlerter{}
	svc, st := newTestService(t, reg, alerter)

	// A proof issued by a provider that has since been removed.
	req := testRequest()
	orphan := newProof("timestamp", req, domain.ProofStatusPending)
	require.NoError(t, st.Proofs().Create(context.Background(), orphan))

	require.NoError(t, svc.Sweep(context.Background()))

	stored, err := st.Proofs().GetByID(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "no longer registered")
	assert.Len(t, alerter.subjects, 1)
}
