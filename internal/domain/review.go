package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

type DecisionKind string

const (
	DecisionApprove  DecisionKind = "approve"
	DecisionReject   DecisionKind = "reject"
	DecisionFlag     DecisionKind = "flag"
	DecisionAnnotate DecisionKind = "annotate"
)

// ValidDecisionKinds is the canonical set of review decisions.
var ValidDecisionKinds = []DecisionKind{ //nolint:gochecknoglobals // canonical enum list
	DecisionApprove,
	DecisionReject,
	DecisionFlag,
	DecisionAnnotate,
}

func ValidateDecisionKind(k DecisionKind) bool {
	return slices.Contains(ValidDecisionKinds, k)
}

// ReviewArtifact is an immutable record of one professional decision about a
// ServerEvent. It references the event, never alters it; corrections are new
// artifacts. The layer records history and makes no "current" determination.
type ReviewArtifact struct {
	ID              uuid.UUID    `json:"id"`
	EventID         uuid.UUID    `json:"event_id"`
	Decision        DecisionKind `json:"decision"`
	ReviewerID      uuid.UUID    `json:"reviewer_id"`
	CredentialState string       `json:"credential_state"`
	Reason          string       `json:"reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ReviewRepository reads review artifacts. Writes happen only inside a ledger
// transaction, paired with the decision's audit entry; no update or delete
// path exists.
type ReviewRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ReviewArtifact, error)
	// ListByEvent returns the full append-only history, most recent last.
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*ReviewArtifact, error)
}
