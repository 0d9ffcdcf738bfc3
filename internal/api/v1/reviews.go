package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/review"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
)

type SubmitReviewInput struct {
	Body struct {
		EventID uuid.UUID `json:"event_id" doc:"Event under review"`
		Kind    string    `json:"kind" minLength:"1" doc:"Decision kind: approve, reject, flag, or annotate"`
		Reason  string    `json:"reason,omitempty" maxLength:"2000" doc:"Rationale; required for reject"`
	}
}

type SubmitReviewOutput struct {
	Body *domain.ReviewArtifact
}

type ReviewHistoryInput struct {
	ID uuid.UUID `path:"id" doc:"Event ID"`
}

type ReviewHistoryOutput struct {
	Body []*domain.ReviewArtifact
}

func RegisterReviewRoutes(api huma.API, reviewSvc ReviewService) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-review",
		Method:        http.MethodPost,
		Path:          "/reviews",
		Summary:       "Record a review decision",
		Description:   "Decisions are append-only; corrections are new decisions, never edits.",
		Tags:          []string{"Reviews"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *SubmitReviewInput) (*SubmitReviewOutput, error) {
		reviewerID, ok := middleware.ReviewerIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing reviewer identity")
		}

		artifact, err := reviewSvc.SubmitDecision(ctx, reviewerID, review.Decision{
			EventID: input.Body.EventID,
			Kind:    domain.DecisionKind(input.Body.Kind),
			Reason:  input.Body.Reason,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrValidation):
				return nil, huma.Error422UnprocessableEntity(err.Error())
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("event not found")
			default:
				return nil, huma.Error500InternalServerError("failed to record decision", err)
			}
		}

		return &SubmitReviewOutput{Body: artifact}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-history",
		Method:      http.MethodGet,
		Path:        "/events/{id}/reviews",
		Summary:     "Review history for an event",
		Description: "Full append-only history, most recent last. The caller decides which artifact is authoritative.",
		Tags:        []string{"Reviews"},
	}, func(ctx context.Context, input *ReviewHistoryInput) (*ReviewHistoryOutput, error) {
		artifacts, err := reviewSvc.History(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("event not found")
			}
			return nil, huma.Error500InternalServerError("failed to load review history", err)
		}

		return &ReviewHistoryOutput{Body: artifacts}, nil
	})
}
