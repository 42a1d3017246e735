package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"maskstudio/internal/http/handlers"
	"maskstudio/internal/middleware"
)

// Options carries the middleware settings of the router.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	JWTSecret       string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/healthz", app.Health)
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	// Provider calls are billed upstream; pointer traffic is not limited.
	limited := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Get("/providers", app.ProvidersList)
		r.Get("/usage", app.UsageSummary)

		r.With(limited).Post("/images/generations", app.ImagesGenerate)
		r.With(limited).Post("/images/edits", app.ImagesEdit)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", app.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.SessionState)
				r.Delete("/", app.DeleteSession)
				r.Put("/image", app.SessionImage)
				r.Post("/resize", app.SessionResize)
				r.Get("/strokes", app.SessionStrokes)
				r.Post("/strokes", app.BeginStroke)
				r.Post("/strokes/points", app.ExtendStroke)
				r.Post("/strokes/end", app.EndStroke)
				r.Post("/undo", app.SessionUndo)
				r.Post("/clear", app.SessionClear)
				r.Post("/invert", app.SessionInvert)
				r.Get("/mask", app.SessionMask)
				r.Get("/preview", app.SessionPreview)
				r.Get("/bundle", app.SessionBundle)
				r.With(limited).Post("/edit", app.SessionEdit)
				r.Get("/ws", app.SessionSocket)
			})
		})
	})

	return r
}
