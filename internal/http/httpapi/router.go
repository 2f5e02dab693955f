package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"clipgen/internal/http/handlers"
	"clipgen/internal/metrics"
	"clipgen/internal/middleware"
)

type Options struct {
	App            *handlers.App
	Logger         zerolog.Logger
	Metrics        *metrics.Collector
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	JWTSecret      string
	// RateLimitPerMin applies per client IP to generation routes. Zero
	// disables limiting.
	RateLimitPerMin int
	MaxBodyBytes    int64
	// Geo tags access logs with the client country. Optional.
	Geo middleware.CountryLookup
}

// NewRouter wires every route. ctx bounds background work owned by the
// middleware stack.
func NewRouter(ctx context.Context, opts Options) http.Handler {
	app := opts.App
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Geo(opts.Geo),
		middleware.Logger(opts.Logger, opts.Metrics),
		middleware.Recover(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", handlers.Metrics(opts.Gatherer))

	limited := middleware.RateLimit(ctx, opts.RateLimitPerMin, time.Minute)
	body := middleware.MaxBody(opts.MaxBodyBytes)

	r.Route("/v1", func(r chi.Router) {
		r.With(limited, body).Post("/generate", app.Generate)
		r.Route("/jobs", func(r chi.Router) {
			r.With(limited, body).Post("/", app.StartJob)
			r.Get("/{id}", app.JobStatus)
			r.Get("/{id}/video", app.JobVideo)
			r.Get("/{id}/events", app.JobEvents)
		})
		r.Get("/stats", app.Stats)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AuthJWT(opts.JWTSecret), middleware.MaxBody(64<<10))
			r.Put("/credentials/{provider}", app.SetCredential)
			r.Delete("/credentials/{provider}", app.DeleteCredential)
		})
	})

	return r
}
