package verify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldproof/fieldproof/internal/domain"
)

const testSeed = "4f2d1a0b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7"

func testRequest() Request {
	return Request{
		SubjectKind: domain.ProofSubjectEvent,
		SubjectID:   uuid.New(),
		PayloadHash: domain.HashBytes([]byte("payload")),
		OccurredAt:  time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestLocalProviderRoundTrip(t *testing.T) {
	t.Parallel()

	provider, err := NewLocalProvider(testSeed)
	require.NoError(t, err)

	proof, err := provider.CreateProof(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusVerified, proof.Status)
	require.NotNil(t, proof.VerifiedAt)

	result, err := provider.VerifyProof(context.Background(), proof)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusVerified, result.Status)
}

func TestLocalProviderRejectsTamperedSubject(t *testing.T) {
	t.Parallel()

	provider, err := NewLocalProvider(testSeed)
	require.NoError(t, err)

	proof, err := provider.CreateProof(context.Background(), testRequest())
	require.NoError(t, err)

	proof.PayloadHash = domain.HashBytes([]byte("something else"))

	result, err := provider.VerifyProof(context.Background(), proof)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusFailed, result.Status)
	assert.Contains(t, result.Detail, "signature mismatch")
}

func TestLocalProviderRejectsForeignKey(t *testing.T) {
	t.Parallel()

	signer, err := NewLocalProvider(testSeed)
	require.NoError(t, err)
	other, err := NewLocalProvider(strings.Repeat("ab", 32))
	require.NoError(t, err)

	proof, err := signer.CreateProof(context.Background(), testRequest())
	require.NoError(t, err)

	result, err := other.VerifyProof(context.Background(), proof)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusFailed, result.Status)
	assert.Contains(t, result.Detail, "unknown key")
}

func TestNewLocalProviderRejectsBadSeed(t *testing.T) {
	t.Parallel()

	for _, seed := range []string{"", "abcd", "zz" + strings.Repeat("00", 31)} {
		_, err := NewLocalProvider(seed)
		assert.ErrorIs(t, err, ErrInvalidSeed, "seed %q", seed)
	}
}

func TestRegistrySwitchKeepsOldProofsVerifiable(t *testing.T) {
	t.Parallel()

	local, err := NewLocalProvider(testSeed)
	require.NoError(t, err)
	anchor := NewAnchorProvider(stubAnchorer{}, 1)

	reg := NewRegistry()
	reg.Register(local)
	reg.Register(anchor)
	require.NoError(t, reg.SetActive("local"))

	active, err := reg.Active()
	require.NoError(t, err)
	proof, err := active.CreateProof(context.Background(), testRequest())
	require.NoError(t, err)

	require.NoError(t, reg.SetActive("anchor"))

	// The old proof still resolves through the provider that issued it.
	issuer, err := reg.Get(proof.Provider)
	require.NoError(t, err)
	result, err := issuer.VerifyProof(context.Background(), proof)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofStatusVerified, result.Status)
}

func TestRegistryUnknownProvider(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	assert.ErrorIs(t, reg.SetActive("nope"), ErrUnknownProvider)

	_, err := reg.Active()
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
