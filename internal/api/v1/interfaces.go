package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/export"
	"github.com/fieldproof/fieldproof/internal/ingest"
	"github.com/fieldproof/fieldproof/internal/review"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Events() domain.EventRepository
	Reviews() domain.ReviewRepository
	Proofs() domain.ProofRepository
	Devices() domain.DeviceRepository
	Reviewers() domain.ReviewerRepository
}

// AuthService abstracts authentication operations for handler testing.
// *auth.Service satisfies this interface.
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*domain.Reviewer, error)
	Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	RegisterDevice(ctx context.Context, registeredBy uuid.UUID, name string) (rawKey string, device *domain.Device, err error)
}

// IngestService abstracts the ingestion pipeline for handler testing.
// *ingest.Service satisfies this interface.
type IngestService interface {
	Ingest(ctx context.Context, deviceID uuid.UUID, capture *domain.CaptureEvent) (*ingest.Result, error)
	SyncStatus(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error)
}

// ReviewService abstracts the review layer for handler testing.
// *review.Service satisfies this interface.
type ReviewService interface {
	SubmitDecision(ctx context.Context, reviewerID uuid.UUID, dec review.Decision) (*domain.ReviewArtifact, error)
	History(ctx context.Context, eventID uuid.UUID) ([]*domain.ReviewArtifact, error)
}

// ExportService abstracts export and audit access for handler testing.
// *export.Service satisfies this interface.
type ExportService interface {
	Build(ctx context.Context, actor string, req export.Request) (*export.Bundle, error)
	Audit(ctx context.Context, actor string, fromSeq, toSeq int64) (*export.AuditBundle, error)
}
