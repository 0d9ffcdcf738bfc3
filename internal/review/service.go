// Package review records professional decisions about ingested events.
// Decisions form an append-only history alongside the event; the layer
// stores what was decided and by whom, and deliberately never computes a
// single "current" verdict.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

// Decision is one reviewer judgment to record.
type Decision struct {
	EventID uuid.UUID
	Kind    domain.DecisionKind
	Reason  string
}

type Service struct {
	events    domain.EventRepository
	reviews   domain.ReviewRepository
	reviewers domain.ReviewerRepository
	ledger    *ledger.Ledger
	now       func() time.Time
}

func NewService(events domain.EventRepository, reviews domain.ReviewRepository, reviewers domain.ReviewerRepository, led *ledger.Ledger) *Service {
	return &Service{
		events:    events,
		reviews:   reviews,
		reviewers: reviewers,
		ledger:    led,
		now:       time.Now,
	}
}

// SubmitDecision appends one review artifact and its audit entry in a single
// transaction. The reviewer's credential state is captured as it stood at
// decision time; later credential changes never rewrite past artifacts.
func (s *Service) SubmitDecision(ctx context.Context, reviewerID uuid.UUID, dec Decision) (*domain.ReviewArtifact, error) {
	if !domain.ValidateDecisionKind(dec.Kind) {
		return nil, fmt.Errorf("review.SubmitDecision: %w: unknown decision %q", domain.ErrValidation, dec.Kind)
	}
	if dec.Kind == domain.DecisionReject && dec.Reason == "" {
		return nil, fmt.Errorf("review.SubmitDecision: %w: reject requires a reason", domain.ErrValidation)
	}

	reviewer, err := s.reviewers.GetByID(ctx, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("review.SubmitDecision: %w", err)
	}

	if _, err := s.events.GetByID(ctx, dec.EventID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("review.SubmitDecision: event %s: %w", dec.EventID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("review.SubmitDecision: %w", err)
	}

	artifact := &domain.ReviewArtifact{
		ID:              uuid.New(),
		EventID:         dec.EventID,
		Decision:        dec.Kind,
		ReviewerID:      reviewerID,
		CredentialState: reviewer.CredentialState,
		Reason:          dec.Reason,
		CreatedAt:       s.now().UTC(),
	}

	_, err = s.ledger.AppendWith(ctx, ledger.Input{
		Action: domain.AuditActionReviewRecorded,
		Actor:  "reviewer:" + reviewerID.String(),
		Target: artifact.ID.String(),
		Payload: map[string]any{
			"review_id":        artifact.ID.String(),
			"event_id":         dec.EventID.String(),
			"decision":         string(dec.Kind),
			"reviewer_id":      reviewerID.String(),
			"credential_state": reviewer.CredentialState,
		},
	}, func(tx ledger.Tx) error {
		return tx.AppendReview(ctx, artifact)
	})
	if err != nil {
		return nil, fmt.Errorf("review.SubmitDecision: %w", err)
	}

	return artifact, nil
}

// History returns every decision ever recorded for the event, oldest first.
func (s *Service) History(ctx context.Context, eventID uuid.UUID) ([]*domain.ReviewArtifact, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, fmt.Errorf("review.History: %w", err)
	}

	artifacts, err := s.reviews.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("review.History: %w", err)
	}
	return artifacts, nil
}
