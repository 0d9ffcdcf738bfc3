// Package verify produces and checks cryptographic proofs of existence for
// payload hashes. Providers are pluggable behind a two-method interface;
// which one is active is a configuration choice, invisible to callers.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// ErrUnknownProvider is returned when a proof references a provider that is
// not registered.
var ErrUnknownProvider = errors.New("verify: unknown provider")

// Request identifies the payload a proof should attest to.
type Request struct {
	SubjectKind domain.ProofSubject
	SubjectID   uuid.UUID
	PayloadHash string
	OccurredAt  time.Time
}

// Result is the outcome of checking a proof.
type Result struct {
	Status domain.ProofStatus
	Blob   []byte
	Detail string
}

// Provider issues and later verifies proofs. Implementations must treat both
// operations as idempotent: re-verifying a proof never changes what it
// attests to, only what we know about it.
type Provider interface {
	Name() string
	CreateProof(ctx context.Context, req Request) (*domain.VerificationProof, error)
	VerifyProof(ctx context.Context, proof *domain.VerificationProof) (Result, error)
}

// Registry maps provider names to implementations. The active provider is
// chosen by configuration; proofs remember which provider issued them so
// old proofs stay verifiable after a switch.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// SetActive selects the provider used for new proofs.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("verify.SetActive: %q: %w", name, ErrUnknownProvider)
	}
	r.active = name

	return nil
}

func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[r.active]
	if !ok {
		return nil, fmt.Errorf("verify.Active: %q: %w", r.active, ErrUnknownProvider)
	}

	return p, nil
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("verify.Get: %q: %w", name, ErrUnknownProvider)
	}

	return p, nil
}

// newProof builds the common proof envelope for a request.
func newProof(provider string, req Request, status domain.ProofStatus) *domain.VerificationProof {
	return &domain.VerificationProof{
		ID:          uuid.New(),
		Provider:    provider,
		SubjectKind: req.SubjectKind,
		SubjectID:   req.SubjectID,
		PayloadHash: req.PayloadHash,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
}

// signingMessage is the canonical byte string providers sign or anchor.
func signingMessage(req Request) []byte {
	return []byte(req.PayloadHash + "|" + string(req.SubjectKind) + "|" +
		req.SubjectID.String() + "|" + req.OccurredAt.UTC().Format(time.RFC3339Nano))
}

// messageFromProof rebuilds the signed message from a stored proof and its
// recorded occurrence time.
func messageFromProof(p *domain.VerificationProof, occurredAt time.Time) []byte {
	return signingMessage(Request{
		SubjectKind: p.SubjectKind,
		SubjectID:   p.SubjectID,
		PayloadHash: p.PayloadHash,
		OccurredAt:  occurredAt,
	})
}
