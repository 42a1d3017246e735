package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"maskstudio/internal/domain"
	"maskstudio/internal/editor"
	"maskstudio/internal/imageio"
	"maskstudio/internal/mask"
	"maskstudio/internal/providers/image"
	"maskstudio/internal/usage"
	"maskstudio/pkg/zip"
)

type resizeRequest struct {
	Width          float64 `json:"width"`
	ViewportHeight float64 `json:"viewport_height"`
}

type strokeRequest struct {
	Tool   mask.Tool `json:"tool"`
	Radius float64   `json:"radius"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
}

// pointsRequest extends the active stroke. Points lets a client batch the
// moves it coalesced since the last request.
type pointsRequest struct {
	X      float64             `json:"x"`
	Y      float64             `json:"y"`
	Points []mask.DisplayPoint `json:"points"`
}

type invertRequest struct {
	Inverted *bool `json:"inverted"`
}

type actionResponse struct {
	Applied bool         `json:"applied"`
	State   editor.State `json:"state"`
}

// CreateSession opens a session, loading the image in the body when one is
// sent.
func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	var upload *imageio.Upload
	if r.ContentLength > 0 || strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		u, err := a.readUpload(w, r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		upload = u
	}
	s := a.Sessions.Create()
	if upload != nil {
		if err := s.LoadImage(upload.Image); err != nil {
			_ = a.Sessions.Delete(s.ID)
			a.fail(w, r, err)
			return
		}
	}
	a.Logger.Info().Str("session_id", s.ID).Bool("image", upload != nil).Msg("session created")
	a.json(w, http.StatusCreated, s.State())
}

// SessionState returns the session snapshot.
func (a *App) SessionState(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, s.State())
}

// DeleteSession closes and forgets a session.
func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionImage switches the source image. Strokes and history are dropped.
func (a *App) SessionImage(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	upload, err := a.readUpload(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := s.LoadImage(upload.Image); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, s.State())
}

// SessionResize reports a new container width and viewport height.
func (a *App) SessionResize(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req resizeRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	display := s.Resize(req.Width, req.ViewportHeight)
	a.json(w, http.StatusOK, map[string]any{"display": display, "state": s.State()})
}

// BeginStroke handles a pointer press.
func (a *App) BeginStroke(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req strokeRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	applied, err := s.BeginStroke(req.Tool, req.Radius, mask.DisplayPoint{X: req.X, Y: req.Y})
	if err != nil {
		a.error(w, r, http.StatusBadRequest, codeBadRequest)
		return
	}
	a.json(w, http.StatusOK, actionResponse{Applied: applied, State: s.State()})
}

// ExtendStroke handles pointer moves while pressed.
func (a *App) ExtendStroke(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req pointsRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	points := req.Points
	if len(points) == 0 {
		points = []mask.DisplayPoint{{X: req.X, Y: req.Y}}
	}
	applied := false
	for _, p := range points {
		if s.ExtendStroke(p) {
			applied = true
		}
	}
	a.json(w, http.StatusOK, actionResponse{Applied: applied, State: s.State()})
}

// EndStroke handles a pointer release.
func (a *App) EndStroke(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	applied := s.EndStroke()
	a.json(w, http.StatusOK, actionResponse{Applied: applied, State: s.State()})
}

// SessionUndo reverts the last stroke or clear.
func (a *App) SessionUndo(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	applied, err := s.Undo()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, actionResponse{Applied: applied, State: s.State()})
}

// SessionClear empties the stroke model.
func (a *App) SessionClear(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := s.Clear(); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, actionResponse{Applied: true, State: s.State()})
}

// SessionInvert toggles inversion, or sets it when the body names a value.
func (a *App) SessionInvert(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req invertRequest
	if r.ContentLength > 0 {
		if !a.decodeJSON(w, r, &req) {
			return
		}
	}
	if req.Inverted != nil {
		s.SetInverted(*req.Inverted)
	} else {
		s.ToggleInvert()
	}
	a.json(w, http.StatusOK, actionResponse{Applied: true, State: s.State()})
}

// SessionStrokes returns the stroke log.
func (a *App) SessionStrokes(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, map[string]any{"strokes": s.Strokes()})
}

// SessionMask returns the mask PNG, or 204 when there is no mask. With
// ?provider= the mask is shaped the way that provider expects; encoding and
// edit_region override it.
func (a *App) SessionMask(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	enc, region := mask.EncodingBinary, mask.EditOn
	if name := strings.TrimSpace(q.Get("provider")); name != "" && a.Catalog != nil {
		if _, err := a.Catalog.Provider(name); err != nil {
			a.fail(w, r, err)
			return
		}
		enc, region = a.Catalog.MaskFormat(name)
	}
	var err error
	if raw := q.Get("encoding"); raw != "" {
		if enc, err = mask.ParseEncoding(raw); err != nil {
			a.error(w, r, http.StatusBadRequest, codeBadRequest)
			return
		}
	}
	if raw := q.Get("edit_region"); raw != "" {
		if region, err = mask.ParseEditRegion(raw); err != nil {
			a.error(w, r, http.StatusBadRequest, codeBadRequest)
			return
		}
	}
	data, ev, err := s.MaskFor(enc, region)
	w.Header().Set("X-Mask-Version", strconv.FormatUint(ev.Version, 10))
	w.Header().Set("X-Mask-Encoding", enc.String())
	w.Header().Set("X-Mask-Edit-Region", region.String())
	if errors.Is(err, mask.ErrNoMask) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writePNG(w, data)
}

// SessionPreview returns the display-size composite of image and strokes.
func (a *App) SessionPreview(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	data, err := s.Preview()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writePNG(w, data)
}

// SessionBundle returns a zip holding the source image, the mask (when one
// exists) and the stroke log.
func (a *App) SessionBundle(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	enc, err := mask.ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, codeBadRequest)
		return
	}
	src := s.Source()
	if src == nil {
		a.fail(w, r, editor.ErrNoImage)
		return
	}
	source, err := mask.EncodePNG(src)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	assets := []zip.Asset{{Filename: "image.png", MIME: "image/png", Data: source}}
	maskData, _, err := s.Mask(enc)
	switch {
	case err == nil:
		assets = append(assets, zip.Asset{Filename: "mask.png", MIME: "image/png", Data: maskData})
	case !errors.Is(err, mask.ErrNoMask):
		a.fail(w, r, err)
		return
	}
	strokes, err := zip.JSONAsset("strokes.json", s.Strokes())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	assets = append(assets, strokes)
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.zip"`, s.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// SessionEdit submits the session image and mask to a provider, encoding
// the mask the way that provider expects.
func (a *App) SessionEdit(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req editRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.fail(w, r, domain.ErrInvalidPrompt)
		return
	}
	provider, err := a.provider(req.Provider)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	src := s.Source()
	if src == nil {
		a.fail(w, r, editor.ErrNoImage)
		return
	}
	size := mask.SizeOf(src)
	source, err := mask.EncodePNG(src)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var maskImage *image.SourceImage
	enc, region := mask.EncodingBinary, mask.EditOn
	if a.Catalog != nil {
		enc, region = a.Catalog.MaskFormat(provider.Name())
	}
	maskData, _, err := s.MaskFor(enc, region)
	switch {
	case err == nil:
		maskImage = &image.SourceImage{Data: maskData, MIME: "image/png", Filename: "mask.png", Width: size.Width, Height: size.Height}
	case !errors.Is(err, mask.ErrNoMask):
		a.fail(w, r, err)
		return
	}
	model := a.defaultModel(provider.Name(), image.OperationEdit, req.Model)
	r = r.WithContext(usage.WithSession(r.Context(), s.ID))
	assets, err := a.edit(r, provider, req, model, image.SourceImage{
		Data:     source,
		MIME:     "image/png",
		Filename: "image.png",
		Width:    size.Width,
		Height:   size.Height,
	}, maskImage)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.imagesResponse(r, provider.Name(), model, assets))
}

// ProvidersList returns the provider catalog together with which providers are
// configured on this server.
func (a *App) ProvidersList(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"configured": a.Providers.Names(), "default": a.Providers.Default()}
	if a.Catalog != nil {
		resp["providers"] = a.Catalog.Providers
	}
	a.json(w, http.StatusOK, resp)
}

// UsageSummary aggregates provider usage over the last hours (default 24).
func (a *App) UsageSummary(w http.ResponseWriter, r *http.Request) {
	if a.Usage == nil {
		a.json(w, http.StatusOK, map[string]any{"enabled": false, "summary": []usage.Summary{}})
		return
	}
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	summary, err := a.Usage.Summarize(r.Context(), hours)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if summary == nil {
		summary = []usage.Summary{}
	}
	a.json(w, http.StatusOK, map[string]any{"enabled": true, "summary": summary})
}

func (a *App) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return s, true
}

// readUpload accepts either a multipart "image" file or a raw image body.
func (a *App) readUpload(w http.ResponseWriter, r *http.Request) (*imageio.Upload, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBody())
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, imageio.ErrTooLarge
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidImage, err)
		}
		data, err := a.formFile(r, "image")
		if err != nil {
			return nil, err
		}
		return a.decodeImage(data)
	}
	return imageio.Read(r.Body, a.MaxUploadBytes, a.MaxImagePixels)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
