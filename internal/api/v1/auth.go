package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fieldproof/fieldproof/internal/auth"
	"github.com/fieldproof/fieldproof/internal/domain"
)

type RegisterInput struct {
	Body struct {
		Email    string `json:"email" minLength:"3" maxLength:"255" doc:"Reviewer email"`
		Password string `json:"password" minLength:"8" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
		Name     string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
	}
}

type RegisterOutput struct {
	Body struct {
		Reviewer     *domain.Reviewer `json:"reviewer"`
		AccessToken  string           `json:"access_token"`  //nolint:gosec // G117: auth response DTO
		RefreshToken string           `json:"refresh_token"` //nolint:gosec // G117: auth response DTO
	}
}

type LoginInput struct {
	Body struct {
		Email    string `json:"email" minLength:"3" maxLength:"255" doc:"Reviewer email"`
		Password string `json:"password" minLength:"1" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
	}
}

type LoginOutput struct {
	Body struct {
		AccessToken  string `json:"access_token"`  //nolint:gosec // G117: auth response DTO
		RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: auth response DTO
	}
}

type RefreshInput struct {
	Body struct {
		RefreshToken string `json:"refresh_token" minLength:"1" doc:"Refresh token"` //nolint:gosec // G117: token refresh DTO
	}
}

type RefreshOutput struct {
	Body struct {
		AccessToken string `json:"access_token"` //nolint:gosec // G117: auth response DTO
	}
}

func RegisterAuthRoutes(api huma.API, authSvc AuthService) {
	huma.Register(api, huma.Operation{
		OperationID: "register",
		Method:      http.MethodPost,
		Path:        "/auth/register",
		Summary:     "Register a new reviewer",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
		reviewer, err := authSvc.Register(ctx, input.Body.Email, input.Body.Password, input.Body.Name)
		if err != nil {
			if errors.Is(err, auth.ErrReviewerAlreadyExists) {
				return nil, huma.Error409Conflict("reviewer already exists")
			}
			return nil, huma.Error500InternalServerError("failed to register reviewer", err)
		}

		accessToken, refreshToken, err := authSvc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, huma.Error500InternalServerError("registered but failed to issue tokens", err)
		}

		reviewer.PasswordHash = ""

		out := &RegisterOutput{}
		out.Body.Reviewer = reviewer
		out.Body.AccessToken = accessToken
		out.Body.RefreshToken = refreshToken
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Login with email and password",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *LoginInput) (*LoginOutput, error) {
		accessToken, refreshToken, err := authSvc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				return nil, huma.Error401Unauthorized("invalid email or password")
			}
			return nil, huma.Error500InternalServerError("login failed", err)
		}

		out := &LoginOutput{}
		out.Body.AccessToken = accessToken
		out.Body.RefreshToken = refreshToken
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-token",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Exchange a refresh token for a new access token",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *RefreshInput) (*RefreshOutput, error) {
		accessToken, err := authSvc.RefreshToken(ctx, input.Body.RefreshToken)
		if err != nil {
			return nil, huma.Error401Unauthorized("invalid refresh token")
		}

		out := &RefreshOutput{}
		out.Body.AccessToken = accessToken
		return out, nil
	})
}
