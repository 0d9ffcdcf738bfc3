package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/export"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
)

type BuildExportInput struct {
	Body struct {
		From time.Time   `json:"from,omitempty" doc:"Server-receipt time lower bound, inclusive"`
		To   time.Time   `json:"to,omitempty" doc:"Server-receipt time upper bound, exclusive"`
		IDs  []uuid.UUID `json:"ids,omitempty" maxItems:"1000" doc:"Explicit event IDs to export"`
	}
}

type BuildExportOutput struct {
	Body *export.Bundle
}

type AuditRangeInput struct {
	FromSeq int64 `query:"from_seq" minimum:"1" doc:"First ledger sequence number, inclusive"`
	ToSeq   int64 `query:"to_seq" minimum:"0" doc:"Last ledger sequence number, inclusive; 0 means the chain head"`
}

type AuditRangeOutput struct {
	Body *export.AuditBundle
}

type AuditVerifyOutput struct {
	Body struct {
		ChainValid bool  `json:"chain_valid"`
		HeadSeq    int64 `json:"head_seq"`
	}
}

func RegisterExportRoutes(api huma.API, exportSvc ExportService) {
	huma.Register(api, huma.Operation{
		OperationID:   "build-export",
		Method:        http.MethodPost,
		Path:          "/exports",
		Summary:       "Build an evidentiary export bundle",
		Description:   "Bundles events with their review history and proofs, digests the result, and requests a proof over the bundle.",
		Tags:          []string{"Exports"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *BuildExportInput) (*BuildExportOutput, error) {
		reviewerID, ok := middleware.ReviewerIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing reviewer identity")
		}

		bundle, err := exportSvc.Build(ctx, "reviewer:"+reviewerID.String(), export.Request{
			From: input.Body.From,
			To:   input.Body.To,
			IDs:  input.Body.IDs,
		})
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			return nil, huma.Error500InternalServerError("failed to build export", err)
		}

		return &BuildExportOutput{Body: bundle}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-range",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Read a range of the audit ledger",
		Description: "Returns raw ledger entries plus the chain verdict for the range. Reading the ledger is itself audited.",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *AuditRangeInput) (*AuditRangeOutput, error) {
		reviewerID, ok := middleware.ReviewerIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing reviewer identity")
		}

		bundle, err := exportSvc.Audit(ctx, "reviewer:"+reviewerID.String(), input.FromSeq, input.ToSeq)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			return nil, huma.Error500InternalServerError("failed to read audit ledger", err)
		}

		return &AuditRangeOutput{Body: bundle}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-verify",
		Method:      http.MethodGet,
		Path:        "/audit/verify",
		Summary:     "Verify the full audit chain",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, _ *struct{}) (*AuditVerifyOutput, error) {
		reviewerID, ok := middleware.ReviewerIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing reviewer identity")
		}

		bundle, err := exportSvc.Audit(ctx, "reviewer:"+reviewerID.String(), 1, 0)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				// An empty ledger has nothing to verify.
				out := &AuditVerifyOutput{}
				out.Body.ChainValid = true
				return out, nil
			}
			return nil, huma.Error500InternalServerError("failed to verify audit chain", err)
		}

		out := &AuditVerifyOutput{}
		out.Body.ChainValid = bundle.ChainValid
		out.Body.HeadSeq = bundle.ToSeq
		if !bundle.ChainValid {
			// A broken chain is an operator emergency, not a routine error.
			log.Error().Int64("head_seq", bundle.ToSeq).Msg("audit chain verification failed")
		}
		return out, nil
	})
}
