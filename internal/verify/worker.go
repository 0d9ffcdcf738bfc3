package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

// Alerter receives human-facing notifications for proofs that will never
// verify without intervention.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string) error
}

const (
	maxProofAttempts = 10
	sweepBatchSize   = 100
)

// Service requests proofs at checkpoints and drives pending proofs to a
// terminal status in the background. Checkpoint callers never block on a
// provider and never fail because of one.
type Service struct {
	registry *Registry
	proofs   domain.ProofRepository
	ledger   *ledger.Ledger
	alerter  Alerter
	interval time.Duration
}

func NewService(registry *Registry, proofs domain.ProofRepository, led *ledger.Ledger, alerter Alerter, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		registry: registry,
		proofs:   proofs,
		ledger:   led,
		alerter:  alerter,
		interval: interval,
	}
}

// RequestProof asks the active provider for a proof over the given subject.
// Failures are logged and audited, never propagated: a checkpoint must
// succeed even when its proof cannot be created.
func (s *Service) RequestProof(ctx context.Context, kind domain.ProofSubject, subjectID uuid.UUID, payloadHash string, occurredAt time.Time) *domain.VerificationProof {
	provider, err := s.registry.Active()
	if err != nil {
		log.Warn().Err(err).Str("subject", subjectID.String()).Msg("verify: no active proof provider")
		return nil
	}

	proof, err := provider.CreateProof(ctx, Request{
		SubjectKind: kind,
		SubjectID:   subjectID,
		PayloadHash: payloadHash,
		OccurredAt:  occurredAt,
	})
	if err != nil {
		log.Error().Err(err).
			Str("provider", provider.Name()).
			Str("subject", subjectID.String()).
			Msg("verify: proof creation failed")
		return nil
	}

	if err := s.proofs.Create(ctx, proof); err != nil {
		log.Error().Err(err).Str("subject", subjectID.String()).Msg("verify: proof persist failed")
		return nil
	}

	s.audit(ctx, domain.AuditActionProofRequested, provider.Name(), proof)
	return proof
}

// Run polls unresolved proofs until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("verify: sweep failed")
			}
		}
	}
}

// Sweep re-checks a batch of unresolved proofs, oldest first.
func (s *Service) Sweep(ctx context.Context) error {
	pending, err := s.proofs.ListUnresolved(ctx, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("verify.Service.Sweep: %w", err)
	}

	for _, proof := range pending {
		if err := s.check(ctx, proof); err != nil {
			log.Error().Err(err).Str("proof_id", proof.ID.String()).Msg("verify: proof check failed")
		}
	}
	return nil
}

func (s *Service) check(ctx context.Context, proof *domain.VerificationProof) error {
	provider, err := s.registry.Get(proof.Provider)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			return s.fail(ctx, proof, "provider no longer registered")
		}
		return err
	}

	result, err := provider.VerifyProof(ctx, proof)
	if err != nil {
		if proof.Attempts+1 >= maxProofAttempts {
			return s.fail(ctx, proof, fmt.Sprintf("gave up after %d attempts: %v", proof.Attempts+1, err))
		}
		// Record the attempt, keep the proof pending.
		return s.proofs.UpdateStatus(ctx, proof.ID, proof.Status, proof.Blob, err.Error(), nil)
	}

	switch result.Status {
	case domain.ProofStatusVerified:
		now := time.Now().UTC()
		if err := s.proofs.UpdateStatus(ctx, proof.ID, domain.ProofStatusVerified, result.Blob, "", &now); err != nil {
			return err
		}
		proof.Status = domain.ProofStatusVerified
		s.audit(ctx, domain.AuditActionProofUpdated, provider.Name(), proof)
		return nil
	case domain.ProofStatusFailed:
		return s.fail(ctx, proof, result.Detail)
	default:
		if proof.Attempts+1 >= maxProofAttempts {
			return s.fail(ctx, proof, fmt.Sprintf("still pending after %d attempts", proof.Attempts+1))
		}
		blob := result.Blob
		if blob == nil {
			blob = proof.Blob
		}
		return s.proofs.UpdateStatus(ctx, proof.ID, domain.ProofStatusPending, blob, "", nil)
	}
}

func (s *Service) fail(ctx context.Context, proof *domain.VerificationProof, detail string) error {
	if err := s.proofs.UpdateStatus(ctx, proof.ID, domain.ProofStatusFailed, proof.Blob, detail, nil); err != nil {
		return err
	}
	proof.Status = domain.ProofStatusFailed

	s.audit(ctx, domain.AuditActionProofUpdated, proof.Provider, proof)

	if s.alerter != nil {
		subject := fmt.Sprintf("verification proof %s failed terminally", proof.ID)
		if err := s.alerter.Alert(ctx, subject, detail); err != nil {
			log.Error().Err(err).Str("proof_id", proof.ID.String()).Msg("verify: alert delivery failed")
		}
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action domain.AuditAction, actor string, proof *domain.VerificationProof) {
	if s.ledger == nil {
		return
	}
	_, err := s.ledger.Append(ctx, ledger.Input{
		Action: action,
		Actor:  "provider:" + actor,
		Target: proof.ID.String(),
		Payload: map[string]any{
			"proof_id":     proof.ID.String(),
			"provider":     proof.Provider,
			"subject_kind": string(proof.SubjectKind),
			"subject_id":   proof.SubjectID.String(),
			"status":       string(proof.Status),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("proof_id", proof.ID.String()).Msg("verify: audit append failed")
	}
}
