package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Device is a registered capture device. Authentication uses an API key held
// by the device; only the SHA-256 hash and a lookup prefix are stored.
type Device struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	RegisteredBy uuid.UUID  `json:"registered_by"`
	KeyPrefix    string     `json:"-"`
	KeyHash      string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

type DeviceRepository interface {
	Create(ctx context.Context, d *Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*Device, error)
	GetByKeyPrefix(ctx context.Context, prefix string) (*Device, error)
	UpdateLastSeen(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Device, error)
}

// CredentialState of a reviewer, captured onto each ReviewArtifact at
// decision time.
const (
	CredentialActive    = "active"
	CredentialSuspended = "suspended"
	CredentialExpired   = "expired"
)

// Reviewer is a professional user who records decisions about events.
type Reviewer struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	Role            string    `json:"role"` // "reviewer" or "admin"
	CredentialState string    `json:"credential_state"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ReviewerRepository interface {
	Create(ctx context.Context, r *Reviewer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reviewer, error)
	GetByEmail(ctx context.Context, email string) (*Reviewer, error)
	// UpdateCredentialState changes the reviewer's standing. Past review
	// artifacts keep the state they captured; only future decisions see it.
	UpdateCredentialState(ctx context.Context, id uuid.UUID, state string) error
}
