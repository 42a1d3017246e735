package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"maskstudio/internal/domain"
	"maskstudio/internal/editor"
	"maskstudio/internal/middleware"
	"maskstudio/internal/providers/catalog"
	provider "maskstudio/internal/providers/image"
)

type stubProvider struct {
	name string
	err  error

	mu    sync.Mutex
	gens  []provider.GenerateRequest
	edits []provider.EditRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(_ context.Context, req provider.GenerateRequest) ([]provider.Asset, error) {
	s.mu.Lock()
	s.gens = append(s.gens, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []provider.Asset{{Format: "image/png", Width: 8, Height: 8, Data: []byte("generated")}}, nil
}

func (s *stubProvider) Edit(_ context.Context, req provider.EditRequest) ([]provider.Asset, error) {
	s.mu.Lock()
	s.edits = append(s.edits, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []provider.Asset{{Format: "image/png", Width: req.Image.Width, Height: req.Image.Height, Data: []byte("edited")}}, nil
}

func (s *stubProvider) lastEdit(t *testing.T) provider.EditRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.edits, "provider was not called")
	return s.edits[len(s.edits)-1]
}

func newTestApp(t *testing.T, p *stubProvider) *App {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	sessions := editor.NewRegistry(editor.Options{Logger: zerolog.Nop()}, 0)
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = sessions.Run(ctx, 0)
	})
	return NewApp(provider.NewRegistry(p), cat, sessions, zerolog.Nop())
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func withLocale(r *http.Request, locale string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.LocaleKey, locale))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestImagesGenerateFillsCatalogDefaults(t *testing.T) {
	p := &stubProvider{name: "openai"}
	app := newTestApp(t, p)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewBufferString(`{"prompt":" a red bicycle ","n":9,"aspect_ratio":"16:9"}`))
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp imagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "openai", resp.Provider)
	require.Equal(t, "gpt-image-1", resp.Model)
	require.Len(t, resp.Images, 1)
	require.Equal(t, []byte("generated"), resp.Images[0].Data)

	got := p.gens[0]
	require.Equal(t, "a red bicycle", got.Prompt)
	require.Equal(t, 4, got.Quantity)
	require.Equal(t, "1536x1024", got.Size)
}

func TestImagesGenerateRequiresPrompt(t *testing.T) {
	app := newTestApp(t, &stubProvider{name: "openai"})
	req := withLocale(httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewBufferString(`{"prompt":"  "}`)), "de")
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	detail := decodeError(t, rec)
	require.Equal(t, codeInvalidPrompt, detail.Code)
	require.Equal(t, "Ein Prompt ist erforderlich.", detail.Message)
}

func TestImagesGenerateUnknownProvider(t *testing.T) {
	app := newTestApp(t, &stubProvider{name: "openai"})
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewBufferString(`{"prompt":"x","provider":"nope"}`))
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	require.Equal(t, codeUnsupportedProvider, decodeError(t, rec).Code)
}

func TestImagesGenerateProviderFailureIsBadGateway(t *testing.T) {
	p := &stubProvider{name: "openai", err: errors.Join(domain.ErrProviderFailure, errors.New("upstream 500"))}
	app := newTestApp(t, p)
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewBufferString(`{"prompt":"x"}`))
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestImagesEditRejectsMismatchedMask(t *testing.T) {
	p := &stubProvider{name: "openai"}
	app := newTestApp(t, p)

	body, _ := json.Marshal(map[string]string{
		"prompt": "replace the sky",
		"image":  base64.StdEncoding.EncodeToString(pngBytes(t, 40, 30, color.Gray{Y: 90})),
		"mask":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 20, 15, color.White)),
	})
	req := withLocale(httptest.NewRequest(http.MethodPost, "/v1/images/edits", bytes.NewReader(body)), "en")
	rec := httptest.NewRecorder()
	app.ImagesEdit(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	detail := decodeError(t, rec)
	require.Equal(t, codeDimensionMismatch, detail.Code)
	require.Equal(t, "The mask is 20x15 but the image is 40x30. Redraw the mask on this image.", detail.Message)
	require.Empty(t, p.edits)
}

func TestImagesEditMultipart(t *testing.T) {
	p := &stubProvider{name: "openai"}
	app := newTestApp(t, p)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("prompt", "add a hat"))
	require.NoError(t, mw.WriteField("n", "2"))
	for field, data := range map[string][]byte{
		"image": pngBytes(t, 16, 12, color.Gray{Y: 10}),
		"mask":  pngBytes(t, 16, 12, color.White),
	} {
		fw, err := mw.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = io.Copy(fw, bytes.NewReader(data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/images/edits", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	app.ImagesEdit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got := p.lastEdit(t)
	require.Equal(t, "add a hat", got.Prompt)
	require.Equal(t, 2, got.Quantity)
	require.Equal(t, "gpt-image-1", got.Model)
	require.Equal(t, 16, got.Image.Width)
	require.NotNil(t, got.Mask)
	require.Equal(t, 12, got.Mask.Height)
}

func TestImagesEditRejectsNonImage(t *testing.T) {
	app := newTestApp(t, &stubProvider{name: "openai"})
	body, _ := json.Marshal(map[string]string{
		"prompt": "x",
		"image":  base64.StdEncoding.EncodeToString([]byte("definitely not an image")),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/images/edits", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.ImagesEdit(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	require.Equal(t, codeInvalidImage, decodeError(t, rec).Code)
}

func TestImagesEditRejectsOversizedCanvas(t *testing.T) {
	p := &stubProvider{name: "openai"}
	app := newTestApp(t, p)
	app.MaxImagePixels = 40*30 - 1
	body, _ := json.Marshal(map[string]string{
		"prompt": "x",
		"image":  base64.StdEncoding.EncodeToString(pngBytes(t, 40, 30, color.Black)),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/images/edits", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.ImagesEdit(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", rec.Code, rec.Body.String())
	}
	require.Equal(t, codeTooLarge, decodeError(t, rec).Code)
	require.Empty(t, p.edits)
}

func TestLocalizeFallsBackToEnglish(t *testing.T) {
	require.Equal(t, "Not found.", localize("ja", codeNotFound))
	require.Equal(t, "Not found.", localize("not a tag", codeNotFound))
	require.Equal(t, "Tidak ditemukan.", localize("id", codeNotFound))
}
