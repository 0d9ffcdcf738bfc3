package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// Sentinel errors for the auth package.
var (
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrReviewerAlreadyExists = errors.New("auth: reviewer already exists")
	ErrReviewerNotFound      = errors.New("auth: reviewer not found")
)

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Service provides reviewer authentication and device key issuance.
type Service struct {
	reviewers  domain.ReviewerRepository
	devices    domain.DeviceRepository
	jwtSecret  string
	accessTTL  time.Duration
	refreshTTL time.Duration
	maxDevices int // 0 = unlimited
}

// SetDeviceLimit caps the number of registered devices. Zero means unlimited.
// Self-hosted deployments derive the cap from their license.
func (s *Service) SetDeviceLimit(n int) {
	s.maxDevices = n
}

// NewService creates a new auth service.
func NewService(reviewers domain.ReviewerRepository, devices domain.DeviceRepository, jwtSecret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		reviewers:  reviewers,
		devices:    devices,
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Register creates a new reviewer with email/password. The password is hashed
// with argon2id before storage; new reviewers start as active "reviewer".
func (s *Service) Register(ctx context.Context, email, password, name string) (*domain.Reviewer, error) {
	existing, err := s.reviewers.GetByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("auth.Register: %w", ErrReviewerAlreadyExists)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("auth.Register: %w", err)
	}

	now := time.Now()
	reviewer := &domain.Reviewer{
		ID:              uuid.New(),
		Email:           email,
		Name:            name,
		PasswordHash:    hash,
		Role:            "reviewer",
		CredentialState: domain.CredentialActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.reviewers.Create(ctx, reviewer); err != nil {
		return nil, fmt.Errorf("auth.Register: %w", err)
	}

	return reviewer, nil
}

// Login validates email/password and returns access + refresh JWT tokens.
func (s *Service) Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error) {
	reviewer, err := s.reviewers.GetByEmail(ctx, email)
	if err != nil {
		return "", "", fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	if !verifyPassword(password, reviewer.PasswordHash) {
		return "", "", fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	accessToken, err = IssueAccessToken(s.jwtSecret, reviewer.ID, reviewer.Role, s.accessTTL)
	if err != nil {
		return "", "", fmt.Errorf("auth.Login: %w", err)
	}

	refreshToken, err = IssueRefreshToken(s.jwtSecret, reviewer.ID, reviewer.Role, s.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("auth.Login: %w", err)
	}

	return accessToken, refreshToken, nil
}

// RefreshToken validates a refresh token and issues a new access token.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := ValidateToken(s.jwtSecret, refreshToken)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	if claims.TokenType != tokenTypeRefresh {
		return "", fmt.Errorf("auth.RefreshToken: %w", ErrInvalidToken)
	}

	reviewerID, err := uuid.Parse(claims.ReviewerID)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: invalid reviewer id: %w", err)
	}

	// Verify the reviewer still exists and fetch current role.
	reviewer, err := s.reviewers.GetByID(ctx, reviewerID)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", ErrReviewerNotFound)
	}

	newAccess, err := IssueAccessToken(s.jwtSecret, reviewer.ID, reviewer.Role, s.accessTTL)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	return newAccess, nil
}

// GetReviewer returns a reviewer by ID (for middleware use).
func (s *Service) GetReviewer(ctx context.Context, reviewerID uuid.UUID) (*domain.Reviewer, error) {
	reviewer, err := s.reviewers.GetByID(ctx, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("auth.GetReviewer: %w", err)
	}

	return reviewer, nil
}

// hashPassword generates an argon2id hash with a random salt.
// Format: hex(salt) + "$" + hex(hash)
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

// verifyPassword checks a password against an argon2id hash.
func verifyPassword(password, encoded string) bool {
	// Split salt$hash
	var saltHex, hashHex string
	for i := range len(encoded) {
		if encoded[i] == '$' {
			saltHex = encoded[:i]
			hashHex = encoded[i+1:]
			break
		}
	}

	if saltHex == "" || hashHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expectedHash, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Constant-time comparison to prevent timing attacks.
	if len(computed) != len(expectedHash) {
		return false
	}

	var diff byte
	for i := range computed {
		diff |= computed[i] ^ expectedHash[i]
	}

	return diff == 0
}
