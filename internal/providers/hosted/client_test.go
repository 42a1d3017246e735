package hosted

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	stdimage "image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"maskstudio/internal/providers/image"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type capturedRequest struct {
	Path string
	Auth string
	Body map[string]any
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		captured = append(captured, capturedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestGenerateReturnsBinaryBody(t *testing.T) {
	img := pngBytes(t, 64, 32)
	srv, captured := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
	client, err := NewClient(Options{APIKey: "hf_test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	assets, err := client.Generate(context.Background(), image.GenerateRequest{Prompt: "a lighthouse", Quantity: 2, Size: "1024x768", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}
	if assets[0].Width != 64 || assets[0].Height != 32 || assets[0].Format != "image/png" {
		t.Fatalf("asset = %dx%d %s", assets[0].Width, assets[0].Height, assets[0].Format)
	}
	reqs := *captured
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].Path != "/models/stabilityai/stable-diffusion-xl-base-1.0" {
		t.Fatalf("path = %q", reqs[0].Path)
	}
	if reqs[0].Auth != "Bearer hf_test" {
		t.Fatalf("auth = %q", reqs[0].Auth)
	}
	if reqs[0].Body["inputs"] == reqs[1].Body["inputs"] {
		t.Fatalf("variations share the same prompt")
	}
	params := reqs[0].Body["parameters"].(map[string]any)
	if params["width"] != float64(1024) || params["height"] != float64(768) {
		t.Fatalf("parameters = %v", params)
	}
	if params["seed"] == nil {
		t.Fatalf("seed missing")
	}
}

func TestEditInlinesImageAndMask(t *testing.T) {
	srv, captured := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 8, 8))
	})
	client, err := NewClient(Options{APIKey: "hf_test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	source := pngBytes(t, 8, 8)
	maskPNG := []byte("mask-bytes")
	_, err = client.Edit(context.Background(), image.EditRequest{
		Prompt: "replace the sky",
		Image:  image.SourceImage{Data: source},
		Mask:   &image.SourceImage{Data: maskPNG},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	req := (*captured)[0]
	if !strings.HasSuffix(req.Path, defaultInpaintModel) {
		t.Fatalf("path = %q, want inpaint model", req.Path)
	}
	if req.Body["image"] != base64.StdEncoding.EncodeToString(source) {
		t.Fatalf("image not base64 inlined")
	}
	if req.Body["mask_image"] != base64.StdEncoding.EncodeToString(maskPNG) {
		t.Fatalf("mask not base64 inlined")
	}
}

func TestLoadingModelIsTransient(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20}`))
	})
	client, err := NewClient(Options{APIKey: "hf_test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Generate(context.Background(), image.GenerateRequest{Prompt: "x"})
	var statusErr *image.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503 StatusError", err)
	}
	if !strings.Contains(statusErr.Message, "currently loading") {
		t.Fatalf("message = %q", statusErr.Message)
	}
	if !image.IsTransient(err) {
		t.Fatalf("503 should be transient")
	}
}
