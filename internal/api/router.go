package api

import (
	"net/http"
	"time"

	"github.com/ashureev/dotcheck/internal/identity"
	"github.com/ashureev/dotcheck/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Repository is the storage the HTTP layer reads directly.
type Repository interface {
	Pinger
	EmployeeLookup
}

// Deps wires the router.
type Deps struct {
	Repo           Repository
	Engine         Conversations
	Scheduler      Scheduling
	Limiter        *RateLimiter
	LiveCheckins   http.Handler
	CronSecret     string
	AllowedOrigins []string
	HealthTimeout  time.Duration
}

// NewRouter builds the full HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))

	NewHealthHandler(d.Repo, d.HealthTimeout).RegisterRoutes(r)
	NewCronHandler(d.Scheduler, d.Repo, d.CronSecret).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(d.Repo))
		NewCheckinHandler(d.Engine, d.Limiter).RegisterRoutes(r)
		if d.LiveCheckins != nil {
			r.Get("/ws/checkins/{id}", d.LiveCheckins.ServeHTTP)
		}
	})

	return r
}
