package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// ErrInvalidSeed is returned when the local signing seed is malformed.
var ErrInvalidSeed = errors.New("verify: local seed must be 32 hex-encoded bytes")

// LocalProvider signs payload hashes with a server-held ed25519 key. It is
// synchronous and always available: proofs are verified the moment they are
// created.
type LocalProvider struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

type localBlob struct {
	KeyID      string    `json:"key_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Signature  string    `json:"signature"` // base64
}

// NewLocalProvider derives the signing key from a 32-byte hex seed.
func NewLocalProvider(seedHex string) (*LocalProvider, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidSeed
	}

	// Key ID is the digest of the public key, so proofs can name the key
	// that signed them without exposing it.
	keyID := domain.HashBytes(pub)[:16]

	return &LocalProvider{keyID: keyID, priv: priv, pub: pub}, nil
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) CreateProof(_ context.Context, req Request) (*domain.VerificationProof, error) {
	sig := ed25519.Sign(p.priv, signingMessage(req))

	blob, err := json.Marshal(localBlob{
		KeyID:      p.keyID,
		OccurredAt: req.OccurredAt.UTC(),
		Signature:  base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return nil, fmt.Errorf("verify.local.CreateProof: %w", err)
	}

	proof := newProof(p.Name(), req, domain.ProofStatusVerified)
	proof.Blob = blob
	now := proof.CreatedAt
	proof.VerifiedAt = &now

	return proof, nil
}

func (p *LocalProvider) VerifyProof(_ context.Context, proof *domain.VerificationProof) (Result, error) {
	var blob localBlob
	if err := json.Unmarshal(proof.Blob, &blob); err != nil {
		return Result{Status: domain.ProofStatusFailed, Detail: "malformed proof blob"}, nil
	}
	if blob.KeyID != p.keyID {
		return Result{Status: domain.ProofStatusFailed, Detail: "signed by unknown key " + blob.KeyID}, nil
	}

	sig, err := base64.StdEncoding.DecodeString(blob.Signature)
	if err != nil {
		return Result{Status: domain.ProofStatusFailed, Detail: "malformed signature"}, nil
	}

	if !ed25519.Verify(p.pub, messageFromProof(proof, blob.OccurredAt), sig) {
		return Result{Status: domain.ProofStatusFailed, Detail: "signature mismatch"}, nil
	}

	return Result{Status: domain.ProofStatusVerified, Blob: proof.Blob}, nil
}
