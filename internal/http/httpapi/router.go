package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"renderstudio/internal/http/handlers"
	"renderstudio/internal/middleware"
)

// PlannerRoutes collects what the planner router serves. Events may be nil.
type PlannerRoutes struct {
	API            *handlers.Planner
	Events         http.Handler
	AllowedOrigins []string
	// SubmitLimit caps job submissions per client per minute; 0 disables it.
	SubmitLimit int
}

// NewPlannerRouter builds the planner HTTP surface.
func NewPlannerRouter(routes PlannerRoutes, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(routes.AllowedOrigins),
	)

	r.Get("/v1/healthz", handlers.Health)
	r.Get("/v1/openapi.json", handlers.OpenAPIJSON)
	r.Get("/v1/docs", handlers.OpenAPIDocs)

	api := routes.API
	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(routes.SubmitLimit, time.Minute)).Post("/", api.CreateJob)
			r.Post("/redispatch", api.Redispatch)
			r.Get("/{date}", api.ListJobs)
			r.Get("/{date}/archive", api.DayArchive)
			r.Get("/{date}/{job_id}", api.GetJob)
			r.Get("/{date}/{job_id}/image", api.JobImage)
			r.Get("/{date}/{job_id}/attempts", api.JobAttempts)
		})
		r.Get("/stats/dispatch", api.DispatchStats)
		r.Get("/presets", api.PresetKinds)
		r.Get("/presets/{kind}", api.Presets)
		if routes.Events != nil {
			r.Get("/events", routes.Events.ServeHTTP)
		}
	})

	return r
}

// NewRendererRouter builds the renderer HTTP surface. events may be nil.
func NewRendererRouter(api *handlers.Renderer, events http.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/", api.Root)
	r.Get("/v1/healthz", handlers.Health)
	r.Route("/api/render", func(r chi.Router) {
		r.Post("/dispatch", api.Dispatch)
		r.Post("/complete-skeleton", api.CompleteSkeleton)
	})
	if events != nil {
		r.Get("/api/events", events.ServeHTTP)
	}

	return r
}
