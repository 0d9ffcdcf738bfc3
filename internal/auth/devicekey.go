package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// ErrInvalidDeviceKey is returned when a device key is not found or the hash
// does not match.
var ErrInvalidDeviceKey = errors.New("auth: invalid device key")

// ErrDeviceLimitReached is returned when the licensed device cap is exhausted.
var ErrDeviceLimitReached = errors.New("auth: device limit reached")

const (
	deviceKeyPrefix    = "fp_"
	deviceKeyRandLen   = 16 // 16 bytes = 32 hex chars
	deviceKeyPrefixLen = 8  // first 8 chars of the full key used for lookup
)

// RegisterDevice creates a device record and returns the raw API key, shown
// exactly once. Only the SHA-256 hash and a lookup prefix persist.
// Key format: "fp_" + 32 random hex chars.
func (s *Service) RegisterDevice(ctx context.Context, registeredBy uuid.UUID, name string) (string, *domain.Device, error) {
	if s.maxDevices > 0 {
		existing, err := s.devices.List(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("auth.RegisterDevice: %w", err)
		}
		if len(existing) >= s.maxDevices {
			return "", nil, fmt.Errorf("auth.RegisterDevice: %w", ErrDeviceLimitReached)
		}
	}

	raw := make([]byte, deviceKeyRandLen)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("auth.RegisterDevice: %w", err)
	}

	rawKey := deviceKeyPrefix + hex.EncodeToString(raw)

	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	device := &domain.Device{
		ID:           uuid.New(),
		Name:         name,
		RegisteredBy: registeredBy,
		KeyPrefix:    rawKey[:deviceKeyPrefixLen],
		KeyHash:      keyHash,
		CreatedAt:    time.Now(),
	}

	if err := s.devices.Create(ctx, device); err != nil {
		return "", nil, fmt.Errorf("auth.RegisterDevice: %w", err)
	}

	return rawKey, device, nil
}

// ValidateDeviceKey checks a device key by looking up the prefix (first 8
// chars) and comparing the SHA-256 hash. Returns the device record.
func (s *Service) ValidateDeviceKey(ctx context.Context, rawKey string) (*domain.Device, error) {
	if len(rawKey) < deviceKeyPrefixLen {
		return nil, fmt.Errorf("auth.ValidateDeviceKey: %w", ErrInvalidDeviceKey)
	}

	prefix := rawKey[:deviceKeyPrefixLen]

	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	device, err := s.devices.GetByKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateDeviceKey: %w", ErrInvalidDeviceKey)
	}

	if device.KeyHash != keyHash {
		return nil, fmt.Errorf("auth.ValidateDeviceKey: %w", ErrInvalidDeviceKey)
	}

	// Update last seen timestamp (fire and forget).
	if updateErr := s.devices.UpdateLastSeen(ctx, device.ID); updateErr != nil {
		log.Warn().Err(updateErr).Str("device_id", device.ID.String()).Msg("auth.ValidateDeviceKey: failed to update last_seen_at")
	}

	return device, nil
}
