package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	stdimage "image"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"maskstudio/internal/domain"
	"maskstudio/internal/providers/image"
)

type captureTransport struct {
	responses   map[string]responseStub
	lastBody    []byte
	lastHeader  http.Header
	lastPath    string
	postedCount int
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		c.lastHeader = req.Header.Clone()
		c.lastPath = req.URL.Path
		c.postedCount++
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) set(path string, status int, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: status,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	return &http.Response{
		StatusCode: s.status,
		Header:     s.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, transport *captureTransport, model string) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:       "sk-test",
		Organization: "org-1",
		Model:        model,
		HTTPClient:   &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateDecodesBase64(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport, "")
	img := pngBytes(t, 32, 16)
	transport.set("/v1/images/generations", http.StatusOK, map[string]any{
		"created": 1,
		"data":    []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString(img), "revised_prompt": "a cat, watercolor"}},
	})

	assets, err := client.Generate(context.Background(), image.GenerateRequest{Prompt: "a cat", Quantity: 1, AspectRatio: "16:9"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("assets = %d, want 1", len(assets))
	}
	if !bytes.Equal(assets[0].Data, img) {
		t.Fatalf("asset bytes were not decoded from b64_json")
	}
	if assets[0].Width != 32 || assets[0].Height != 16 {
		t.Fatalf("size = %dx%d, want 32x16", assets[0].Width, assets[0].Height)
	}
	if assets[0].Format != "image/png" {
		t.Fatalf("format = %q, want image/png", assets[0].Format)
	}
	if assets[0].RevisedPrompt != "a cat, watercolor" {
		t.Fatalf("revised prompt = %q", assets[0].RevisedPrompt)
	}

	if got := transport.lastHeader.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := transport.lastHeader.Get("OpenAI-Organization"); got != "org-1" {
		t.Fatalf("OpenAI-Organization = %q", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != "gpt-image-1" {
		t.Fatalf("model = %v, want gpt-image-1", payload["model"])
	}
	if payload["size"] != "1536x1024" {
		t.Fatalf("size = %v, want 1536x1024", payload["size"])
	}
	if _, ok := payload["response_format"]; ok {
		t.Fatalf("response_format must be omitted for gpt-image models")
	}
}

func TestGenerateLegacyModelRequestsBase64(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport, "dall-e-3")
	transport.set("/v1/images/generations", http.StatusOK, map[string]any{
		"data": []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString(pngBytes(t, 4, 4))}},
	})
	if _, err := client.Generate(context.Background(), image.GenerateRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var payload map[string]any
	_ = json.Unmarshal(transport.lastBody, &payload)
	if payload["response_format"] != "b64_json" {
		t.Fatalf("response_format = %v, want b64_json", payload["response_format"])
	}
}

func TestEditSendsMultipartWithMask(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport, "")
	source := pngBytes(t, 8, 8)
	maskPNG := pngBytes(t, 8, 8)
	transport.set("/v1/images/edits", http.StatusOK, map[string]any{
		"data": []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString(source)}},
	})

	_, err := client.Edit(context.Background(), image.EditRequest{
		Prompt:   "add a hat",
		Quantity: 2,
		Size:     "1024x1024",
		Image:    image.SourceImage{Data: source, MIME: "image/png"},
		Mask:     &image.SourceImage{Data: maskPNG},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}

	mediaType, params, err := mime.ParseMediaType(transport.lastHeader.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("content type = %q (%v)", mediaType, err)
	}
	reader := multipart.NewReader(bytes.NewReader(transport.lastBody), params["boundary"])
	fields := map[string]string{}
	files := map[string]string{}
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		data, _ := io.ReadAll(part)
		if part.FileName() != "" {
			files[part.FormName()] = part.Header.Get("Content-Type")
			continue
		}
		fields[part.FormName()] = string(data)
	}
	if fields["prompt"] != "add a hat" || fields["n"] != "2" || fields["model"] != "gpt-image-1" {
		t.Fatalf("fields = %v", fields)
	}
	if files["image"] != "image/png" || files["mask"] != "image/png" {
		t.Fatalf("file parts = %v, want image and mask as image/png", files)
	}
}

func TestErrorsSurfaceStatus(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport, "")
	transport.set("/v1/images/generations", http.StatusBadRequest, map[string]any{
		"error": map[string]any{"message": "Your request was rejected", "type": "invalid_request_error", "code": "content_policy_violation"},
	})
	_, err := client.Generate(context.Background(), image.GenerateRequest{Prompt: "x"})
	var statusErr *image.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Status != http.StatusBadRequest || statusErr.Code != "content_policy_violation" {
		t.Fatalf("status error = %+v", statusErr)
	}
	if image.IsTransient(err) {
		t.Fatalf("400 must not be transient")
	}
}

func TestMissingCredentials(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Generate(context.Background(), image.GenerateRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	_, err = client.Edit(context.Background(), image.EditRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestResponseBodyIsCapped(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{
		APIKey:           "sk-test",
		HTTPClient:       &http.Client{Transport: transport},
		MaxResponseBytes: 64,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport.set("/v1/images/generations", http.StatusOK, map[string]any{
		"data": []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString(pngBytes(t, 64, 64))}},
	})

	_, err = client.Generate(context.Background(), image.GenerateRequest{Prompt: "a cat"})
	if !errors.Is(err, image.ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
}
