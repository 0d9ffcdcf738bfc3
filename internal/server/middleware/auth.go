package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/auth"
)

type jwtClaims struct {
	jwt.RegisteredClaims
	ReviewerID string `json:"uid"`
	Role       string `json:"role"`
	TokenType  string `json:"typ"`
}

// DeviceValidator authenticates a raw device API key.
type DeviceValidator interface {
	ValidateDeviceKey(ctx context.Context, rawKey string) (deviceID uuid.UUID, err error)
}

// ReviewerAuth authenticates reviewers via Bearer JWT and stores reviewer
// identity and role in the request context.
func ReviewerAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := extractBearer(r); tok != "" {
				ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret)
				if ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

// DeviceAuth authenticates devices via the X-API-Key header and stores the
// device id in the request context.
func DeviceAuth(validator DeviceValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); key != "" {
				deviceID, err := validator.ValidateDeviceKey(r.Context(), key)
				if err == nil {
					ctx := context.WithValue(r.Context(), ContextKeyDeviceID, deviceID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid device key"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return ctx, false
	}

	// Refresh tokens never grant API access.
	if claims.TokenType != "" && claims.TokenType != "access" {
		return ctx, false
	}

	reviewerID, err := uuid.Parse(claims.ReviewerID)
	if err != nil {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyReviewerID, reviewerID)
	ctx = context.WithValue(ctx, ContextKeyReviewerRole, claims.Role)
	return ctx, true
}

var _ DeviceValidator = (*deviceValidatorAdapter)(nil)

// deviceValidatorAdapter bridges the auth service into the narrow middleware
// interface.
type deviceValidatorAdapter struct {
	svc *auth.Service
}

func NewDeviceValidator(svc *auth.Service) DeviceValidator {
	return &deviceValidatorAdapter{svc: svc}
}

func (a *deviceValidatorAdapter) ValidateDeviceKey(ctx context.Context, rawKey string) (uuid.UUID, error) {
	device, err := a.svc.ValidateDeviceKey(ctx, rawKey)
	if err != nil {
		return uuid.Nil, err
	}
	return device.ID, nil
}
