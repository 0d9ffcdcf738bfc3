package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
)

type IngestEventInput struct {
	Body domain.CaptureEvent
}

type IngestEventOutput struct {
	Status int
	Body   struct {
		EventID        uuid.UUID `json:"event_id"`
		Seq            int64     `json:"seq"`
		ReceivedAt     time.Time `json:"received_at"`
		QualityFlags   []string  `json:"quality_flags,omitempty"`
		AlreadyExisted bool      `json:"already_existed"`
	}
}

type ListEventsInput struct {
	DeviceID uuid.UUID `query:"device_id" doc:"Filter by device"`
	Kind     string    `query:"kind" doc:"Filter by event kind"`
	From     time.Time `query:"from" doc:"Server-receipt time lower bound, inclusive"`
	To       time.Time `query:"to" doc:"Server-receipt time upper bound, exclusive"`
	Limit    int       `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum results"`
}

type ListEventsOutput struct {
	Body []*domain.ServerEvent
}

type GetEventInput struct {
	ID uuid.UUID `path:"id" doc:"Event ID"`
}

type GetEventOutput struct {
	Body *domain.ServerEvent
}

type EventHistoryInput struct {
	ID uuid.UUID `path:"id" doc:"Event ID"`
}

type EventHistoryOutput struct {
	Body []*domain.ServerEvent
}

type EventProofsInput struct {
	ID uuid.UUID `path:"id" doc:"Event ID"`
}

type EventProofsOutput struct {
	Body []*domain.VerificationProof
}

type SyncStatusOutput struct {
	Body *domain.DeviceSyncSummary
}

// RegisterDeviceEventRoutes registers the device-facing ingestion surface.
// These routes sit behind device-key authentication.
func RegisterDeviceEventRoutes(api huma.API, ingestSvc IngestService) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Ingest a capture event",
		Description:   "Idempotent: redelivering the same local_id acks the already-ingested event.",
		Tags:          []string{"Events"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *IngestEventInput) (*IngestEventOutput, error) {
		deviceID, ok := middleware.DeviceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing device identity")
		}

		capture := input.Body
		result, err := ingestSvc.Ingest(ctx, deviceID, &capture)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			return nil, huma.Error500InternalServerError("ingestion failed", err)
		}

		out := &IngestEventOutput{Status: http.StatusCreated}
		if result.AlreadyExisted {
			out.Status = http.StatusOK
		}
		out.Body.EventID = result.Event.ID
		out.Body.Seq = result.Event.Seq
		out.Body.ReceivedAt = result.Event.ReceivedAt
		out.Body.QualityFlags = result.Event.QualityFlags
		out.Body.AlreadyExisted = result.AlreadyExisted
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-status",
		Method:      http.MethodGet,
		Path:        "/sync/status",
		Summary:     "Per-device ingestion summary",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, _ *struct{}) (*SyncStatusOutput, error) {
		deviceID, ok := middleware.DeviceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing device identity")
		}

		summary, err := ingestSvc.SyncStatus(ctx, deviceID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load sync status", err)
		}

		return &SyncStatusOutput{Body: summary}, nil
	})
}

// RegisterEventRoutes registers the reviewer-facing read surface over the
// immutable event store.
func RegisterEventRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List ingested events",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
		events, err := store.Events().List(ctx, domain.EventFilter{
			DeviceID: input.DeviceID,
			Kind:     domain.EventKind(input.Kind),
			From:     input.From,
			To:       input.To,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list events", err)
		}

		return &ListEventsOutput{Body: events}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get one event",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *GetEventInput) (*GetEventOutput, error) {
		event, err := store.Events().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("event not found")
			}
			return nil, huma.Error500InternalServerError("failed to load event", err)
		}

		return &GetEventOutput{Body: event}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-history",
		Method:      http.MethodGet,
		Path:        "/events/{id}/history",
		Summary:     "Correction chain for an event",
		Description: "Walks the forward-only corrects chain, oldest ancestor first.",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *EventHistoryInput) (*EventHistoryOutput, error) {
		chain, err := store.Events().History(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("event not found")
			}
			return nil, huma.Error500InternalServerError("failed to load history", err)
		}

		return &EventHistoryOutput{Body: chain}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-proofs",
		Method:      http.MethodGet,
		Path:        "/events/{id}/proofs",
		Summary:     "Verification proofs for an event",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *EventProofsInput) (*EventProofsOutput, error) {
		if _, err := store.Events().GetByID(ctx, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("event not found")
			}
			return nil, huma.Error500InternalServerError("failed to load event", err)
		}

		proofs, err := store.Proofs().ListBySubject(ctx, domain.ProofSubjectEvent, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load proofs", err)
		}

		return &EventProofsOutput{Body: proofs}, nil
	})
}
