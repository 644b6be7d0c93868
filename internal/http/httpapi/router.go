// Package httpapi assembles the chi router for the video generation API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// Options configures the router.
type Options struct {
	App             *handlers.App
	Logger          infra.Logger
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	// StaticDir serves locally cached assets under /static when set.
	StaticDir string
}

// NewRouter wires middlewares and routes. All /v1/videos routes require a
// bearer token; health, metrics and static files are public.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	app := opts.App

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", infra.MetricsHandler())
	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Route("/v1/videos", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Post("/generate", app.VideosGenerate)
		// Provider job ids contain slashes, so id-bearing routes bind a
		// trailing wildcard instead of a single segment.
		r.Get("/status/*", app.VideoStatus)
		r.Get("/download/*", app.VideoDownload)
		r.Get("/history", app.VideoHistory)
		r.Delete("/job/*", app.VideoDelete)
		r.Post("/jobs/clear-completed", app.VideosClearCompleted)
		r.Get("/config", app.VideoConfig)
	})

	return r
}
