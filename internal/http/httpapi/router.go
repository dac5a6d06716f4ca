package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"caricature/internal/http/handlers"
	"caricature/internal/middleware"
)

type Options struct {
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitPerMin    int
	DefaultLocale      string
	CountryLookup      middleware.CountryLookup
	// StaticDir is served under /static when set.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSAllowedOrigins),
		middleware.I18N(defaultLocale(opts.DefaultLocale), opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	if dir := strings.TrimSpace(opts.StaticDir); dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Get("/v1/credits", app.Credits)
		r.Get("/v1/styles", app.ListStyles)
		r.Route("/v1/generations", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin)).Post("/", app.CreateGeneration)
			r.Get("/active", app.ActiveGeneration)
			r.Get("/{id}", app.GetGeneration)
		})
	})

	return r
}

func defaultLocale(l string) string {
	if l == "" {
		return "en"
	}
	return l
}
