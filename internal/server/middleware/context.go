package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ContextKeyDeviceID     contextKey = "device_id"
	ContextKeyReviewerID   contextKey = "reviewer_id"
	ContextKeyReviewerRole contextKey = "role"
)

func DeviceIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyDeviceID).(uuid.UUID)
	return v, ok
}

func ReviewerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyReviewerID).(uuid.UUID)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyReviewerRole).(string)
	return v, ok
}
