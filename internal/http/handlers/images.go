package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"maskstudio/internal/domain"
	"maskstudio/internal/imageio"
	"maskstudio/internal/mask"
	"maskstudio/internal/middleware"
	"maskstudio/internal/providers/image"
)

type generateRequest struct {
	Provider       string `json:"provider"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Quantity       int    `json:"n"`
	Size           string `json:"size"`
	AspectRatio    string `json:"aspect_ratio"`
	Quality        string `json:"quality"`
	Background     string `json:"background"`
}

// editRequest is the JSON form of an edit; Image and Mask are base64 and may
// carry a data URL prefix.
type editRequest struct {
	Provider       string `json:"provider"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Quantity       int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality"`
	Image          string `json:"image"`
	Mask           string `json:"mask"`
}

type assetResponse struct {
	Format        string `json:"format"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Data          []byte `json:"data"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type imagesResponse struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	RequestID string          `json:"request_id,omitempty"`
	Images    []assetResponse `json:"images"`
}

// ImagesGenerate proxies a text-to-image request to a provider.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
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
	model := a.defaultModel(provider.Name(), image.OperationGenerate, req.Model)
	size := req.Size
	if size == "" && req.AspectRatio != "" {
		size = image.AspectRatioSize(req.AspectRatio)
	}
	assets, err := provider.Generate(r.Context(), image.GenerateRequest{
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: req.NegativePrompt,
		Model:          model,
		Quantity:       image.NormalizeQuantity(req.Quantity),
		Size:           size,
		AspectRatio:    req.AspectRatio,
		Quality:        req.Quality,
		Background:     req.Background,
		RequestID:      middleware.RequestIDFromContext(r.Context()),
		Locale:         middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.imagesResponse(r, provider.Name(), model, assets))
}

// ImagesEdit proxies an inpainting request. The body is either multipart
// (image and mask files) or JSON with base64 fields. A mask whose size
// differs from the image is rejected before any provider is called.
func (a *App) ImagesEdit(w http.ResponseWriter, r *http.Request) {
	var (
		req       editRequest
		imageData []byte
		maskData  []byte
		err       error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		req, imageData, maskData, err = a.readMultipartEdit(w, r)
	} else {
		if !a.decodeJSON(w, r, &req) {
			return
		}
		imageData, err = decodeBase64(req.Image)
		if err == nil && req.Mask != "" {
			maskData, err = decodeBase64(req.Mask)
		}
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.fail(w, r, domain.ErrInvalidPrompt)
		return
	}
	src, err := a.decodeImage(imageData)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var maskImage *image.SourceImage
	if len(maskData) > 0 {
		m, err := a.decodeImage(maskData)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if err := mask.ValidateDimensions(mask.SizeOf(m.Image), mask.SizeOf(src.Image)); err != nil {
			a.fail(w, r, fmt.Errorf("%w: %w", domain.ErrDimensionMismatch, err))
			return
		}
		maskImage = &image.SourceImage{Data: m.Data, MIME: m.MIME, Filename: "mask.png", Width: m.Width(), Height: m.Height()}
	}
	provider, err := a.provider(req.Provider)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	model := a.defaultModel(provider.Name(), image.OperationEdit, req.Model)
	assets, err := a.edit(r, provider, req, model, image.SourceImage{
		Data:     src.Data,
		MIME:     src.MIME,
		Filename: "image" + extension(src.MIME),
		Width:    src.Width(),
		Height:   src.Height(),
	}, maskImage)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.imagesResponse(r, provider.Name(), model, assets))
}

func (a *App) edit(r *http.Request, provider image.Provider, req editRequest, model string, src image.SourceImage, m *image.SourceImage) ([]image.Asset, error) {
	return provider.Edit(r.Context(), image.EditRequest{
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: req.NegativePrompt,
		Model:          model,
		Quantity:       image.NormalizeQuantity(req.Quantity),
		Size:           req.Size,
		Quality:        req.Quality,
		RequestID:      middleware.RequestIDFromContext(r.Context()),
		Locale:         middleware.LocaleFromContext(r.Context()),
		Image:          src,
		Mask:           m,
	})
}

func (a *App) readMultipartEdit(w http.ResponseWriter, r *http.Request) (editRequest, []byte, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return editRequest{}, nil, nil, imageio.ErrTooLarge
		}
		return editRequest{}, nil, nil, fmt.Errorf("%w: %w", domain.ErrInvalidImage, err)
	}
	n, _ := strconv.Atoi(r.FormValue("n"))
	req := editRequest{
		Provider:       r.FormValue("provider"),
		Prompt:         r.FormValue("prompt"),
		NegativePrompt: r.FormValue("negative_prompt"),
		Model:          r.FormValue("model"),
		Quantity:       n,
		Size:           r.FormValue("size"),
		Quality:        r.FormValue("quality"),
	}
	imageData, err := a.formFile(r, "image")
	if err != nil {
		return req, nil, nil, err
	}
	maskData, err := a.formFile(r, "mask")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil, err
	}
	return req, imageData, maskData, nil
}

func (a *App) formFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) && field == "image" {
			return nil, fmt.Errorf("%w: missing image", domain.ErrInvalidImage)
		}
		return nil, err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = imageio.DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidImage, err)
	}
	if int64(len(data)) > limit {
		return nil, imageio.ErrTooLarge
	}
	return data, nil
}

func (a *App) provider(name string) (image.Provider, error) {
	if strings.TrimSpace(name) == "" {
		name = a.Providers.Default()
	}
	return a.Providers.Get(name)
}

// defaultModel fills in the catalog default when the client names no model.
func (a *App) defaultModel(provider string, op image.Operation, requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	if a.Catalog == nil {
		return ""
	}
	p, err := a.Catalog.Provider(provider)
	if err != nil {
		return ""
	}
	if m, ok := p.DefaultModel(op); ok {
		return m.ID
	}
	return ""
}

func (a *App) imagesResponse(r *http.Request, provider, model string, assets []image.Asset) imagesResponse {
	out := imagesResponse{
		Provider:  provider,
		Model:     model,
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Images:    make([]assetResponse, 0, len(assets)),
	}
	for _, asset := range assets {
		out.Images = append(out.Images, assetResponse{
			Format:        asset.Format,
			Width:         asset.Width,
			Height:        asset.Height,
			Data:          asset.Data,
			RevisedPrompt: asset.RevisedPrompt,
		})
	}
	return out
}

func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidImage)
	}
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %w", domain.ErrInvalidImage, err)
	}
	return data, nil
}

func extension(mime string) string {
	switch image.NormalizeFormat(mime) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
