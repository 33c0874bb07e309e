package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/auth"
	"github.com/devicehub/server/internal/http/handlers"
	"github.com/devicehub/server/internal/middleware"
	"github.com/devicehub/server/internal/repo"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Actions *handlers.ActionHandler

	// ActionLimiter throttles action creation per user. Optional.
	ActionLimiter *middleware.RateLimiter
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, jwtService *auth.JWTService, userRepo repo.UserRepo, logger *logrus.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Auth.HandleLogin)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))
		r.Get("/me", h.Auth.HandleMe)

		r.Route("/actions", func(r chi.Router) {
			if h.ActionLimiter != nil {
				r.With(middleware.RateLimitMiddleware(h.ActionLimiter, middleware.GetUserKey)).Post("/", h.Actions.HandleCreate)
			} else {
				r.Post("/", h.Actions.HandleCreate)
			}
			r.Get("/", h.Actions.HandleList)
			r.Get("/{id}", h.Actions.HandleGet)
		})
	})

	return r
}
