package http

import (
	"net/http"

	"github.com/claraverse/pairing-api/internal/application/device"
	"github.com/claraverse/pairing-api/internal/application/pairing"
	"github.com/claraverse/pairing-api/internal/config"
	"github.com/claraverse/pairing-api/internal/transport/http/handler"
	appmiddleware "github.com/claraverse/pairing-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10 — applied to public pairing endpoints.
	pairingRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	pairingSvc := pairing.NewService(deps.PairingStore, deps.AuditLog, deps.Events, cfg)
	deviceSvc := device.NewService(deps.DeviceRepo, deps.JWTProvider, deps.AuditLog, cfg.AuditRetention)

	healthH := handler.NewHealthHandler()
	pairingH := handler.NewPairingHandler(pairingSvc, deviceSvc)
	deviceH := handler.NewDeviceHandler(deviceSvc)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(pairingRL.Limit).Post("/pair/device", pairingH.Start)
		r.With(pairingRL.Limit).Post("/pair/token", pairingH.Token)
		r.With(pairingRL.Limit).Post("/devices/refresh", deviceH.Refresh)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/pair/approve", pairingH.Approve)
			r.Post("/pair/deny", pairingH.Deny)
			r.Get("/devices", deviceH.List)
			r.Put("/devices/{id}", deviceH.Rename)
			r.Delete("/devices/{id}", deviceH.Revoke)
		})
	})

	return r
}
