package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/fieldproof/fieldproof/internal/api/v1"
	"github.com/fieldproof/fieldproof/internal/api/ws"
	"github.com/fieldproof/fieldproof/internal/auth"
	"github.com/fieldproof/fieldproof/internal/store/postgres"
)

func registerAuthRoutes(api huma.API, authSvc *auth.Service) {
	v1.RegisterAuthRoutes(api, authSvc)
}

func registerDeviceAPIRoutes(api huma.API, svcs Services) {
	v1.RegisterDeviceEventRoutes(api, svcs.Ingest)
}

func registerReviewerRoutes(api huma.API, store *postgres.Store, authSvc *auth.Service, svcs Services) {
	v1.RegisterEventRoutes(api, store)
	v1.RegisterReviewRoutes(api, svcs.Review)
	v1.RegisterExportRoutes(api, svcs.Export)
	v1.RegisterDeviceRoutes(api, store, authSvc)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/devices/{deviceID}", hub.ServeDevice)
}
