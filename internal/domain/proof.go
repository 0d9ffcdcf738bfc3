package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ProofStatus string

const (
	ProofStatusCreated  ProofStatus = "created"
	ProofStatusPending  ProofStatus = "pending"
	ProofStatusVerified ProofStatus = "verified"
	ProofStatusFailed   ProofStatus = "failed"
)

// ProofSubject names what a proof attests to.
type ProofSubject string

const (
	ProofSubjectEvent  ProofSubject = "event"
	ProofSubjectExport ProofSubject = "export"
)

// VerificationProof is a provider-issued attestation that PayloadHash existed
// at a point in time. Proof production is asynchronous and must never block
// the operation that requested it; Status is the only mutable surface.
type VerificationProof struct {
	ID          uuid.UUID    `json:"id"`
	Provider    string       `json:"provider"`
	SubjectKind ProofSubject `json:"subject_kind"`
	SubjectID   uuid.UUID    `json:"subject_id"`
	PayloadHash string       `json:"payload_hash"`
	Status      ProofStatus  `json:"status"`
	Blob        []byte       `json:"blob,omitempty"` // provider-specific opaque proof
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	VerifiedAt  *time.Time   `json:"verified_at,omitempty"`
}

type ProofRepository interface {
	Create(ctx context.Context, p *VerificationProof) error
	// UpdateStatus advances a proof's lifecycle. Payload hash, subject, and
	// provider are fixed at creation and cannot be rewritten.
	UpdateStatus(ctx context.Context, id uuid.UUID, status ProofStatus, blob []byte, lastError string, verifiedAt *time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*VerificationProof, error)
	ListBySubject(ctx context.Context, kind ProofSubject, subjectID uuid.UUID) ([]*VerificationProof, error)
	// ListUnresolved returns proofs not yet in a terminal status (verified or
	// failed), oldest first, for the retry worker.
	ListUnresolved(ctx context.Context, limit int) ([]*VerificationProof, error)
}
