package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fieldproof/fieldproof/internal/auth"
	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
)

type RegisterDeviceInput struct {
	Body struct {
		Name string `json:"name" minLength:"1" maxLength:"255" doc:"Device display name"`
	}
}

type RegisterDeviceOutput struct {
	Body struct {
		Device *domain.Device `json:"device"`
		// Key is shown exactly once; only its hash is stored.
		Key string `json:"key"` //nolint:gosec // G117: key issuance DTO
	}
}

type ListDevicesOutput struct {
	Body []*domain.Device
}

// RegisterDeviceRoutes registers admin-only device management.
func RegisterDeviceRoutes(api huma.API, store DataStore, authSvc AuthService) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-device",
		Method:        http.MethodPost,
		Path:          "/devices",
		Summary:       "Register a capture device",
		Description:   "Issues the device key once in the response; it cannot be retrieved again.",
		Tags:          []string{"Devices"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *RegisterDeviceInput) (*RegisterDeviceOutput, error) {
		reviewerID, ok := middleware.ReviewerIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing reviewer identity")
		}
		if role, _ := middleware.RoleFromContext(ctx); role != middleware.RoleAdmin {
			return nil, huma.Error403Forbidden("device registration requires the admin role")
		}

		rawKey, device, err := authSvc.RegisterDevice(ctx, reviewerID, input.Body.Name)
		if err != nil {
			if errors.Is(err, auth.ErrDeviceLimitReached) {
				return nil, huma.Error403Forbidden("licensed device limit reached")
			}
			return nil, huma.Error500InternalServerError("failed to register device", err)
		}

		out := &RegisterDeviceOutput{}
		out.Body.Device = device
		out.Body.Key = rawKey
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/devices",
		Summary:     "List registered devices",
		Tags:        []string{"Devices"},
	}, func(ctx context.Context, _ *struct{}) (*ListDevicesOutput, error) {
		if role, _ := middleware.RoleFromContext(ctx); role != middleware.RoleAdmin {
			return nil, huma.Error403Forbidden("device listing requires the admin role")
		}

		devices, err := store.Devices().List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list devices", err)
		}

		return &ListDevicesOutput{Body: devices}, nil
	})
}
