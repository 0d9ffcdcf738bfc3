// Package export assembles reporting bundles from the event store. An export
// is a read plus two side effects: one proof covering the bundle digest, and
// one audit entry recording that the export happened.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
	"github.com/fieldproof/fieldproof/internal/verify"
)

// Request selects the events to bundle. A date range and an explicit id set
// may be combined; both empty means "everything", capped by the repository.
type Request struct {
	From time.Time
	To   time.Time
	IDs  []uuid.UUID
}

// Item pairs one event with its review history and proof statuses.
type Item struct {
	Event   *domain.ServerEvent         `json:"event"`
	Reviews []*domain.ReviewArtifact    `json:"reviews,omitempty"`
	Proofs  []*domain.VerificationProof `json:"proofs,omitempty"`
}

// Bundle is the finalized export payload. Digest covers Items in order, so
// any later change to the underlying data is detectable against the bundle's
// own verification proof.
type Bundle struct {
	ID          uuid.UUID `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Items       []*Item   `json:"items"`
	Digest      string    `json:"digest"`
}

// AuditBundle is a raw slice of the ledger plus its integrity verdict.
type AuditBundle struct {
	FromSeq    int64                `json:"from_seq"`
	ToSeq      int64                `json:"to_seq"`
	Entries    []*domain.AuditEntry `json:"entries"`
	ChainValid bool                 `json:"chain_valid"`
}

type Service struct {
	events  domain.EventRepository
	reviews domain.ReviewRepository
	proofs  domain.ProofRepository
	ledger  *ledger.Ledger
	prover  *verify.Service
	now     func() time.Time
}

func NewService(events domain.EventRepository, reviews domain.ReviewRepository, proofs domain.ProofRepository, led *ledger.Ledger, prover *verify.Service) *Service {
	return &Service{
		events:  events,
		reviews: reviews,
		proofs:  proofs,
		ledger:  led,
		prover:  prover,
		now:     time.Now,
	}
}

// Build assembles an export bundle for the actor. The bundle digest is
// audited and handed to the active proof provider; proof trouble never
// fails the export.
func (s *Service) Build(ctx context.Context, actor string, req Request) (*Bundle, error) {
	events, err := s.events.List(ctx, domain.EventFilter{
		From: req.From,
		To:   req.To,
		IDs:  req.IDs,
	})
	if err != nil {
		return nil, fmt.Errorf("export.Build: %w", err)
	}

	bundle := &Bundle{
		ID:          uuid.New(),
		GeneratedAt: s.now().UTC(),
		Items:       make([]*Item, 0, len(events)),
	}

	for _, ev := range events {
		reviews, err := s.reviews.ListByEvent(ctx, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("export.Build: reviews for %s: %w", ev.ID, err)
		}
		proofs, err := s.proofs.ListBySubject(ctx, domain.ProofSubjectEvent, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("export.Build: proofs for %s: %w", ev.ID, err)
		}
		bundle.Items = append(bundle.Items, &Item{Event: ev, Reviews: reviews, Proofs: proofs})
	}

	digest, err := domain.Digest(bundle.Items)
	if err != nil {
		return nil, fmt.Errorf("export.Build: digest: %w", err)
	}
	bundle.Digest = digest

	_, err = s.ledger.Append(ctx, ledger.Input{
		Action: domain.AuditActionExportFinalized,
		Actor:  actor,
		Target: bundle.ID.String(),
		Payload: map[string]any{
			"export_id":   bundle.ID.String(),
			"digest":      bundle.Digest,
			"event_count": len(bundle.Items),
			"from":        req.From,
			"to":          req.To,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("export.Build: %w", err)
	}

	if s.prover != nil {
		s.prover.RequestProof(ctx, domain.ProofSubjectExport, bundle.ID, bundle.Digest, bundle.GeneratedAt)
	}

	return bundle, nil
}

// Audit returns the raw ledger slice [fromSeq, toSeq] with its chain verdict,
// and records the access itself on the ledger.
func (s *Service) Audit(ctx context.Context, actor string, fromSeq, toSeq int64) (*AuditBundle, error) {
	if toSeq == 0 {
		head, err := s.ledger.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("export.Audit: %w", err)
		}
		toSeq = head
	}
	if fromSeq < 1 || toSeq < fromSeq {
		return nil, fmt.Errorf("export.Audit: %w: bad sequence range [%d, %d]", domain.ErrValidation, fromSeq, toSeq)
	}

	entries, err := s.ledger.Entries(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("export.Audit: %w", err)
	}

	valid, err := s.ledger.VerifyChain(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("export.Audit: %w", err)
	}

	_, err = s.ledger.Append(ctx, ledger.Input{
		Action: domain.AuditActionAuditExported,
		Actor:  actor,
		Target: fmt.Sprintf("audit[%d,%d]", fromSeq, toSeq),
		Payload: map[string]any{
			"from_seq":    fromSeq,
			"to_seq":      toSeq,
			"chain_valid": valid,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("export.Audit: %w", err)
	}

	return &AuditBundle{FromSeq: fromSeq, ToSeq: toSeq, Entries: entries, ChainValid: valid}, nil
}
