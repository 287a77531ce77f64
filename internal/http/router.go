package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vanakhel/server/internal/auth"
	"github.com/vanakhel/server/internal/http/handlers"
	"github.com/vanakhel/server/internal/middleware"
	"github.com/vanakhel/server/internal/session"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(loginHandler *handlers.LoginHandler, jwtService *auth.JWTService, sessions session.Repo) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/login", func(r chi.Router) {
		r.Post("/start", loginHandler.HandleStart)
		r.Route("/{flowID}", func(r chi.Router) {
			r.Get("/", loginHandler.HandleState)
			r.Post("/method", loginHandler.HandleSelectMethod)
			r.Post("/identifier", loginHandler.HandleSubmitIdentifier)
			r.Post("/channel", loginHandler.HandleSubmitChannel)
			r.Post("/otp", loginHandler.HandleSubmitOTP)
			r.Post("/otp/resend", loginHandler.HandleResendOTP)
			r.Post("/back", loginHandler.HandleBack)
		})
	})

	// Protected routes (require a valid gateway access token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, sessions))
		r.Get("/me", loginHandler.HandleMe)
	})

	return r
}
