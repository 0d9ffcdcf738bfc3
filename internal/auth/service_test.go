package auth_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldproof/fieldproof/internal/auth"
	"github.com/fieldproof/fieldproof/internal/domain"
)

const testSecret = "test-secret-for-auth-tests-only"

type mockReviewerRepo struct {
	createFn          func(ctx context.Context, r *domain.Reviewer) error
	getByIDFn         func(ctx context.Context, id uuid.UUID) (*domain.Reviewer, error)
	getByEmailFn      func(ctx context.Context, email string) (*domain.Reviewer, error)
	updateCredStateFn func(ctx context.Context, id uuid.UUID, state string) error
}

func (m *mockReviewerRepo) Create(ctx context.Context, r *domain.Reviewer) error {
	if m.createFn != nil {
		return m.createFn(ctx, r)
	}
	return nil
}

func (m *mockReviewerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reviewer, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockReviewerRepo) GetByEmail(ctx context.Context, email string) (*domain.Reviewer, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, domain.ErrNotFound
}

func (m *mockReviewerRepo) UpdateCredentialState(ctx context.Context, id uuid.UUID, state string) error {
	if m.updateCredStateFn != nil {
		return m.updateCredStateFn(ctx, id, state)
	}
	return nil
}

type mockDeviceRepo struct {
	createFn         func(ctx context.Context, d *domain.Device) error
	getByKeyPrefixFn func(ctx context.Context, prefix string) (*domain.Device, error)
	updateLastSeenFn func(ctx context.Context, id uuid.UUID) error
	listFn           func(ctx context.Context) ([]*domain.Device, error)
}

func (m *mockDeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	return nil
}

func (m *mockDeviceRepo) GetByID(context.Context, uuid.UUID) (*domain.Device, error) {
	return nil, domain.ErrNotFound
}

func (m *mockDeviceRepo) GetByKeyPrefix(ctx context.Context, prefix string) (*domain.Device, error) {
	if m.getByKeyPrefixFn != nil {
		return m.getByKeyPrefixFn(ctx, prefix)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDeviceRepo) UpdateLastSeen(ctx context.Context, id uuid.UUID) error {
	if m.updateLastSeenFn != nil {
		return m.updateLastSeenFn(ctx, id)
	}
	return nil
}

func (m *mockDeviceRepo) List(ctx context.Context) ([]*domain.Device, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func newService(reviewers *mockReviewerRepo, devices *mockDeviceRepo) *auth.Service {
	return auth.NewService(reviewers, devices, testSecret, 15*time.Minute, 24*time.Hour)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("creates active reviewer with hashed password", func(t *testing.T) {
		t.Parallel()

		var created *domain.Reviewer
		repo := &mockReviewerRepo{
			createFn: func(_ context.Context, r *domain.Reviewer) error {
				created = r
				return nil
			},
		}
		svc := newService(repo, &mockDeviceRepo{})

		reviewer, err := svc.Register(context.Background(), "nurse@example.org", "hunter2hunter2", "On-call Nurse")
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Equal(t, "reviewer", reviewer.Role)
		assert.Equal(t, domain.CredentialActive, reviewer.CredentialState)
		assert.NotEqual(t, "hunter2hunter2", created.PasswordHash)
		assert.Contains(t, created.PasswordHash, "$")
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		t.Parallel()

		repo := &mockReviewerRepo{
			getByEmailFn: func(context.Context, string) (*domain.Reviewer, error) {
				return &domain.Reviewer{ID: uuid.New()}, nil
			},
		}
		svc := newService(repo, &mockDeviceRepo{})

		_, err := svc.Register(context.Background(), "nurse@example.org", "pw", "Nurse")
		assert.ErrorIs(t, err, auth.ErrReviewerAlreadyExists)
	})
}

func TestLoginAndRefresh(t *testing.T) {
	t.Parallel()

	stored := make(map[string]*domain.Reviewer)
	repo := &mockReviewerRepo{
		createFn: func(_ context.Context, r *domain.Reviewer) error {
			stored[r.Email] = r
			return nil
		},
		getByEmailFn: func(_ context.Context, email string) (*domain.Reviewer, error) {
			if r, ok := stored[email]; ok {
				return r, nil
			}
			return nil, domain.ErrNotFound
		},
		getByIDFn: func(_ context.Context, id uuid.UUID) (*domain.Reviewer, error) {
			for _, r := range stored {
				if r.ID == id {
					return r, nil
				}
			}
			return nil, domain.ErrNotFound
		},
	}
	svc := newService(repo, &mockDeviceRepo{})

	_, err := svc.Register(context.Background(), "nurse@example.org", "correct horse battery", "Nurse")
	require.NoError(t, err)

	t.Run("valid credentials yield both tokens", func(t *testing.T) {
		access, refresh, err := svc.Login(context.Background(), "nurse@example.org", "correct horse battery")
		require.NoError(t, err)
		assert.NotEmpty(t, access)
		assert.NotEmpty(t, refresh)

		claims, err := auth.ValidateToken(testSecret, access)
		require.NoError(t, err)
		assert.Equal(t, stored["nurse@example.org"].ID.String(), claims.ReviewerID)
		assert.Equal(t, "reviewer", claims.Role)
		assert.Equal(t, "fieldproof", claims.Issuer)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		_, _, err := svc.Login(context.Background(), "nurse@example.org", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown email rejected", func(t *testing.T) {
		_, _, err := svc.Login(context.Background(), "ghost@example.org", "whatever")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("refresh token yields new access token", func(t *testing.T) {
		_, refresh, err := svc.Login(context.Background(), "nurse@example.org", "correct horse battery")
		require.NoError(t, err)

		access, err := svc.RefreshToken(context.Background(), refresh)
		require.NoError(t, err)
		assert.NotEmpty(t, access)
	})

	t.Run("access token cannot be used as refresh token", func(t *testing.T) {
		access, _, err := svc.Login(context.Background(), "nurse@example.org", "correct horse battery")
		require.NoError(t, err)

		_, err = svc.RefreshToken(context.Background(), access)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	t.Run("expired token rejected", func(t *testing.T) {
		t.Parallel()

		tok, err := auth.IssueAccessToken(testSecret, uuid.New(), "reviewer", -time.Minute)
		require.NoError(t, err)

		_, err = auth.ValidateToken(testSecret, tok)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		t.Parallel()

		tok, err := auth.IssueAccessToken(testSecret, uuid.New(), "reviewer", time.Minute)
		require.NoError(t, err)

		_, err = auth.ValidateToken("other-secret", tok)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		t.Parallel()

		_, err := auth.ValidateToken(testSecret, "not.a.jwt")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestDeviceKeys(t *testing.T) {
	t.Parallel()

	t.Run("register returns raw key once and stores only the hash", func(t *testing.T) {
		t.Parallel()

		var created *domain.Device
		devices := &mockDeviceRepo{
			createFn: func(_ context.Context, d *domain.Device) error {
				created = d
				return nil
			},
		}
		svc := newService(&mockReviewerRepo{}, devices)

		rawKey, device, err := svc.RegisterDevice(context.Background(), uuid.New(), "ward-3 tablet")
		require.NoError(t, err)
		require.NotNil(t, created)

		assert.True(t, strings.HasPrefix(rawKey, "fp_"))
		assert.Equal(t, rawKey[:8], device.KeyPrefix)
		assert.NotContains(t, device.KeyHash, rawKey)
		assert.Len(t, device.KeyHash, 64) // hex sha256
	})

	t.Run("validate accepts the issued key and bumps last seen", func(t *testing.T) {
		t.Parallel()

		var created *domain.Device
		lastSeenBumped := false
		devices := &mockDeviceRepo{
			createFn: func(_ context.Context, d *domain.Device) error {
				created = d
				return nil
			},
			getByKeyPrefixFn: func(_ context.Context, prefix string) (*domain.Device, error) {
				if created != nil && created.KeyPrefix == prefix {
					return created, nil
				}
				return nil, domain.ErrNotFound
			},
			updateLastSeenFn: func(context.Context, uuid.UUID) error {
				lastSeenBumped = true
				return nil
			},
		}
		svc := newService(&mockReviewerRepo{}, devices)

		rawKey, device, err := svc.RegisterDevice(context.Background(), uuid.New(), "ward-3 tablet")
		require.NoError(t, err)

		got, err := svc.ValidateDeviceKey(context.Background(), rawKey)
		require.NoError(t, err)
		assert.Equal(t, device.ID, got.ID)
		assert.True(t, lastSeenBumped)
	})

	t.Run("licensed device cap blocks registration", func(t *testing.T) {
		t.Parallel()

		devices := &mockDeviceRepo{
			listFn: func(context.Context) ([]*domain.Device, error) {
				return []*domain.Device{{ID: uuid.New()}, {ID: uuid.New()}}, nil
			},
		}
		svc := newService(&mockReviewerRepo{}, devices)
		svc.SetDeviceLimit(2)

		_, _, err := svc.RegisterDevice(context.Background(), uuid.New(), "one too many")
		assert.ErrorIs(t, err, auth.ErrDeviceLimitReached)

		svc.SetDeviceLimit(3)
		_, _, err = svc.RegisterDevice(context.Background(), uuid.New(), "still under cap")
		require.NoError(t, err)
	})

	t.Run("validate rejects tampered or unknown keys", func(t *testing.T) {
		t.Parallel()

		var created *domain.Device
		devices := &mockDeviceRepo{
			createFn: func(_ context.Context, d *domain.Device) error {
				created = d
				return nil
			},
			getByKeyPrefixFn: func(_ context.Context, prefix string) (*domain.Device, error) {
				if created != nil && created.KeyPrefix == prefix {
					return created, nil
				}
				return nil, domain.ErrNotFound
			},
		}
		svc := newService(&mockReviewerRepo{}, devices)

		rawKey, _, err := svc.RegisterDevice(context.Background(), uuid.New(), "tablet")
		require.NoError(t, err)

		// Same prefix, different tail: prefix lookup succeeds, hash check fails.
		tampered := rawKey[:len(rawKey)-4] + "0000"
		if tampered == rawKey {
			tampered = rawKey[:len(rawKey)-4] + "1111"
		}
		_, err = svc.ValidateDeviceKey(context.Background(), tampered)
		assert.ErrorIs(t, err, auth.ErrInvalidDeviceKey)

		_, err = svc.ValidateDeviceKey(context.Background(), "fp_unknownkey00000000000000000000000")
		assert.ErrorIs(t, err, auth.ErrInvalidDeviceKey)

		_, err = svc.ValidateDeviceKey(context.Background(), "short")
		assert.ErrorIs(t, err, auth.ErrInvalidDeviceKey)
	})
}

func TestPasswordHashIsSalted(t *testing.T) {
	t.Parallel()

	hashes := make(map[string]bool)
	repo := &mockReviewerRepo{
		createFn: func(_ context.Context, r *domain.Reviewer) error {
			hashes[r.PasswordHash] = true
			return nil
		},
	}
	svc := newService(repo, &mockDeviceRepo{})

	for i := 0; i < 3; i++ {
		_, err := svc.Register(context.Background(), fmt.Sprintf("r%d@example.org", i), "same password", "R")
		require.NoError(t, err)
	}

	// Same password, three different salts, three different hashes.
	assert.Len(t, hashes, 3)
}
