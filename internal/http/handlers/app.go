package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"maskstudio/internal/domain"
	"maskstudio/internal/editor"
	"maskstudio/internal/imageio"
	"maskstudio/internal/mask"
	"maskstudio/internal/middleware"
	"maskstudio/internal/providers/catalog"
	"maskstudio/internal/providers/image"
	"maskstudio/internal/usage"
)

// UsageSummarizer reports aggregated provider usage.
type UsageSummarizer interface {
	Summarize(ctx context.Context, hours int) ([]usage.Summary, error)
}

// App carries the dependencies shared by every handler.
type App struct {
	Providers      *image.Registry
	Catalog        *catalog.Catalog
	Sessions       *editor.Registry
	Usage          UsageSummarizer
	Logger         zerolog.Logger
	MaxUploadBytes int64
	MaxImagePixels int64
	Upgrader       websocket.Upgrader
	Started        time.Time
}

// NewApp wires the handler container.
func NewApp(providers *image.Registry, cat *catalog.Catalog, sessions *editor.Registry, logger zerolog.Logger) *App {
	return &App{
		Providers:      providers,
		Catalog:        cat,
		Sessions:       sessions,
		Logger:         logger.With().Str("component", "http").Logger(),
		MaxUploadBytes: imageio.DefaultMaxBytes,
		MaxImagePixels: imageio.DefaultMaxPixels,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		Started: time.Now(),
	}
}

// AllowOrigins restricts WebSocket upgrades to the given origins. "*"
// accepts any origin; an empty list keeps the same-origin check.
func (a *App) AllowOrigins(origins []string) {
	if len(origins) == 0 {
		return
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	a.Upgrader.CheckOrigin = func(r *http.Request) bool {
		if _, ok := allowed["*"]; ok {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes the error envelope with a message localized for the request.
func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code string, args ...any) {
	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   localize(locale, code, args...),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}})
}

// fail maps a domain error onto a status code and error code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var dim *mask.DimensionError
	switch {
	case errors.As(err, &dim):
		a.error(w, r, http.StatusUnprocessableEntity, codeDimensionMismatch, dim.Mask.Width, dim.Mask.Height, dim.Source.Width, dim.Source.Height)
	case errors.Is(err, imageio.ErrTooLarge):
		a.error(w, r, http.StatusRequestEntityTooLarge, codeTooLarge)
	case errors.Is(err, editor.ErrNoImage):
		a.error(w, r, http.StatusConflict, codeNoImage)
	case errors.Is(err, domain.ErrInvalidImage), errors.Is(err, mask.ErrInvalidSize):
		a.error(w, r, http.StatusBadRequest, codeInvalidImage)
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, r, http.StatusBadRequest, codeInvalidPrompt)
	case errors.Is(err, domain.ErrUnsupportedProvider):
		a.error(w, r, http.StatusBadRequest, codeUnsupportedProvider)
	case errors.Is(err, editor.ErrSessionNotFound), errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, codeNotFound)
	case errors.Is(err, domain.ErrMissingAPIKey):
		a.error(w, r, http.StatusServiceUnavailable, codeProviderUnavailable)
	case errors.Is(err, domain.ErrProviderFailure):
		a.Logger.Warn().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("provider call failed")
		a.error(w, r, http.StatusBadGateway, codeProviderFailure)
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("request failed")
		a.error(w, r, http.StatusInternalServerError, codeInternal)
	}
}

func (a *App) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody()))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, r, http.StatusRequestEntityTooLarge, codeTooLarge)
			return false
		}
		a.error(w, r, http.StatusBadRequest, codeBadRequest)
		return false
	}
	return true
}

func (a *App) decodeImage(data []byte) (*imageio.Upload, error) {
	return imageio.DecodeLimited(data, a.MaxImagePixels)
}

func (a *App) maxBody() int64 {
	if a.MaxUploadBytes <= 0 {
		return imageio.DefaultMaxBytes
	}
	// base64 and multipart framing inflate uploads by roughly a third.
	return a.MaxUploadBytes*2 + 1<<20
}
