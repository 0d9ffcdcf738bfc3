package v1_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/export"
	"github.com/fieldproof/fieldproof/internal/ingest"
	"github.com/fieldproof/fieldproof/internal/review"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers — inject device/reviewer identity into context for DoCtx
// ---------------------------------------------------------------------------

func deviceCtx(deviceID uuid.UUID) context.Context {
	return context.WithValue(context.Background(), middleware.ContextKeyDeviceID, deviceID)
}

func reviewerCtx(reviewerID uuid.UUID) context.Context {
	ctx := context.WithValue(context.Background(), middleware.ContextKeyReviewerID, reviewerID)
	return context.WithValue(ctx, middleware.ContextKeyReviewerRole, middleware.RoleReviewer)
}

func adminCtx(reviewerID uuid.UUID) context.Context {
	ctx := context.WithValue(context.Background(), middleware.ContextKeyReviewerID, reviewerID)
	return context.WithValue(ctx, middleware.ContextKeyReviewerRole, middleware.RoleAdmin)
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	events    domain.EventRepository
	reviews   domain.ReviewRepository
	proofs    domain.ProofRepository
	devices   domain.DeviceRepository
	reviewers domain.ReviewerRepository
}

func (m *mockDataStore) Events() domain.EventRepository       { return m.events }
func (m *mockDataStore) Reviews() domain.ReviewRepository     { return m.reviews }
func (m *mockDataStore) Proofs() domain.ProofRepository       { return m.proofs }
func (m *mockDataStore) Devices() domain.DeviceRepository     { return m.devices }
func (m *mockDataStore) Reviewers() domain.ReviewerRepository { return m.reviewers }

// ---------------------------------------------------------------------------
// Mock EventRepository
// ---------------------------------------------------------------------------

type mockEventRepo struct {
	getByIDFunc       func(ctx context.Context, id uuid.UUID) (*domain.ServerEvent, error)
	getByIdemKeyFunc  func(ctx context.Context, key uuid.UUID) (*domain.ServerEvent, error)
	listFunc          func(ctx context.Context, filter domain.EventFilter) ([]*domain.ServerEvent, error)
	historyFunc       func(ctx context.Context, id uuid.UUID) ([]*domain.ServerEvent, error)
	deviceSummaryFunc func(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error)
}

func (m *mockEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ServerEvent, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockEventRepo) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.ServerEvent, error) {
	return m.getByIdemKeyFunc(ctx, key)
}

func (m *mockEventRepo) List(ctx context.Context, filter domain.EventFilter) ([]*domain.ServerEvent, error) {
	return m.listFunc(ctx, filter)
}

func (m *mockEventRepo) History(ctx context.Context, id uuid.UUID) ([]*domain.ServerEvent, error) {
	return m.historyFunc(ctx, id)
}

func (m *mockEventRepo) DeviceSummary(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error) {
	return m.deviceSummaryFunc(ctx, deviceID)
}

// ---------------------------------------------------------------------------
// Mock ProofRepository
// ---------------------------------------------------------------------------

type mockProofRepo struct {
	createFunc         func(ctx context.Context, p *domain.VerificationProof) error
	updateStatusFunc   func(ctx context.Context, id uuid.UUID, status domain.ProofStatus, blob []byte, lastError string, verifiedAt *time.Time) error
	getByIDFunc        func(ctx context.Context, id uuid.UUID) (*domain.VerificationProof, error)
	listBySubjectFunc  func(ctx context.Context, kind domain.ProofSubject, subjectID uuid.UUID) ([]*domain.VerificationProof, error)
	listUnresolvedFunc func(ctx context.Context, limit int) ([]*domain.VerificationProof, error)
}

func (m *mockProofRepo) Create(ctx context.Context, p *domain.VerificationProof) error {
	return m.createFunc(ctx, p)
}

func (m *mockProofRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProofStatus, blob []byte, lastError string, verifiedAt *time.Time) error {
	return m.updateStatusFunc(ctx, id, status, blob, lastError, verifiedAt)
}

func (m *mockProofRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationProof, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockProofRepo) ListBySubject(ctx context.Context, kind domain.ProofSubject, subjectID uuid.UUID) ([]*domain.VerificationProof, error) {
	return m.listBySubjectFunc(ctx, kind, subjectID)
}

func (m *mockProofRepo) ListUnresolved(ctx context.Context, limit int) ([]*domain.VerificationProof, error) {
	return m.listUnresolvedFunc(ctx, limit)
}

// ---------------------------------------------------------------------------
// Mock DeviceRepository
// ---------------------------------------------------------------------------

type mockDeviceRepo struct {
	createFunc         func(ctx context.Context, d *domain.Device) error
	getByIDFunc        func(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	getByKeyPrefixFunc func(ctx context.Context, prefix string) (*domain.Device, error)
	updateLastSeenFunc func(ctx context.Context, id uuid.UUID) error
	listFunc           func(ctx context.Context) ([]*domain.Device, error)
}

func (m *mockDeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	return m.createFunc(ctx, d)
}

func (m *mockDeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockDeviceRepo) GetByKeyPrefix(ctx context.Context, prefix string) (*domain.Device, error) {
	return m.getByKeyPrefixFunc(ctx, prefix)
}

func (m *mockDeviceRepo) UpdateLastSeen(ctx context.Context, id uuid.UUID) error {
	return m.updateLastSeenFunc(ctx, id)
}

func (m *mockDeviceRepo) List(ctx context.Context) ([]*domain.Device, error) {
	return m.listFunc(ctx)
}

// ---------------------------------------------------------------------------
// Mock services
// ---------------------------------------------------------------------------

type mockAuthService struct {
	registerFunc       func(ctx context.Context, email, password, name string) (*domain.Reviewer, error)
	loginFunc          func(ctx context.Context, email, password string) (string, string, error)
	refreshTokenFunc   func(ctx context.Context, refreshToken string) (string, error)
	registerDeviceFunc func(ctx context.Context, registeredBy uuid.UUID, name string) (string, *domain.Device, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name string) (*domain.Reviewer, error) {
	return m.registerFunc(ctx, email, password, name)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (string, string, error) {
	return m.loginFunc(ctx, email, password)
}

func (m *mockAuthService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	return m.refreshTokenFunc(ctx, refreshToken)
}

func (m *mockAuthService) RegisterDevice(ctx context.Context, registeredBy uuid.UUID, name string) (string, *domain.Device, error) {
	return m.registerDeviceFunc(ctx, registeredBy, name)
}

type mockIngestService struct {
	ingestFunc     func(ctx context.Context, deviceID uuid.UUID, capture *domain.CaptureEvent) (*ingest.Result, error)
	syncStatusFunc func(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error)
}

func (m *mockIngestService) Ingest(ctx context.Context, deviceID uuid.UUID, capture *domain.CaptureEvent) (*ingest.Result, error) {
	return m.ingestFunc(ctx, deviceID, capture)
}

func (m *mockIngestService) SyncStatus(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error) {
	return m.syncStatusFunc(ctx, deviceID)
}

type mockReviewService struct {
	submitDecisionFunc func(ctx context.Context, reviewerID uuid.UUID, dec review.Decision) (*domain.ReviewArtifact, error)
	historyFunc        func(ctx context.Context, eventID uuid.UUID) ([]*domain.ReviewArtifact, error)
}

func (m *mockReviewService) SubmitDecision(ctx context.Context, reviewerID uuid.UUID, dec review.Decision) (*domain.ReviewArtifact, error) {
	return m.submitDecisionFunc(ctx, reviewerID, dec)
}

func (m *mockReviewService) History(ctx context.Context, eventID uuid.UUID) ([]*domain.ReviewArtifact, error) {
	return m.historyFunc(ctx, eventID)
}

type mockExportService struct {
	buildFunc func(ctx context.Context, actor string, req export.Request) (*export.Bundle, error)
	auditFunc func(ctx context.Context, actor string, fromSeq, toSeq int64) (*export.AuditBundle, error)
}

func (m *mockExportService) Build(ctx context.Context, actor string, req export.Request) (*export.Bundle, error) {
	return m.buildFunc(ctx, actor, req)
}

func (m *mockExportService) Audit(ctx context.Context, actor string, fromSeq, toSeq int64) (*export.AuditBundle, error) {
	return m.auditFunc(ctx, actor, fromSeq, toSeq)
}
