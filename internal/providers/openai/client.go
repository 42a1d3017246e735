package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"maskstudio/internal/domain"
	"maskstudio/internal/infra"
	"maskstudio/internal/providers/image"
)

// ProviderName identifies this backend in the catalog and usage events.
const ProviderName = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-image-1"
	defaultTimeout = 120 * time.Second
)

// Options configures the OpenAI images client.
type Options struct {
	APIKey         string
	BaseURL        string
	Organization   string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// MaxResponseBytes caps upstream reply bodies; zero selects
	// image.DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// Client proxies the OpenAI images API: JSON generations and multipart
// edits. Base64 payloads are always decoded before they leave the client.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	model        string
	httpClient   *http.Client
	logger       *infra.Logger
	maxResponse  int64
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Background     string `json:"background,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imagesResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("openai: invalid base url: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		model:        model,
		httpClient:   httpClient,
		logger:       logger,
		maxResponse:  opts.MaxResponseBytes,
	}, nil
}

func (c *Client) Name() string {
	return ProviderName
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate calls POST /images/generations.
func (c *Client) Generate(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("openai: %w", domain.ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("openai: %w", domain.ErrInvalidPrompt)
	}
	model := c.resolveModel(req.Model)
	size := strings.TrimSpace(req.Size)
	if size == "" && req.AspectRatio != "" {
		size = image.AspectRatioSize(req.AspectRatio)
	}
	payload := generationRequest{
		Model:      model,
		Prompt:     prompt,
		N:          image.NormalizeQuantity(req.Quantity),
		Size:       size,
		Quality:    strings.TrimSpace(req.Quality),
		Background: strings.TrimSpace(req.Background),
	}
	if legacyModel(model) {
		payload.ResponseFormat = "b64_json"
		payload.Background = ""
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.send(ctx, httpReq, model, "generate")
}

// Edit calls POST /images/edits with a multipart form carrying the image and
// the optional mask as PNG parts.
func (c *Client) Edit(ctx context.Context, req image.EditRequest) ([]image.Asset, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("openai: %w", domain.ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("openai: %w", domain.ErrInvalidPrompt)
	}
	if len(req.Image.Data) == 0 {
		return nil, fmt.Errorf("openai: %w", domain.ErrInvalidImage)
	}
	model := c.resolveModel(req.Model)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":  model,
		"prompt": prompt,
		"n":      strconv.Itoa(image.NormalizeQuantity(req.Quantity)),
	}
	if size := strings.TrimSpace(req.Size); size != "" {
		fields["size"] = size
	}
	if q := strings.TrimSpace(req.Quality); q != "" && !legacyModel(model) {
		fields["quality"] = q
	}
	if legacyModel(model) {
		fields["response_format"] = "b64_json"
	}
	for _, key := range []string{"model", "prompt", "n", "size", "quality", "response_format"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := form.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("openai: write field %s: %w", key, err)
		}
	}
	if err := writeImagePart(form, "image", req.Image, "image.png"); err != nil {
		return nil, err
	}
	if req.Mask != nil && len(req.Mask.Data) > 0 {
		if err := writeImagePart(form, "mask", *req.Mask, "mask.png"); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("openai: close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", &buf)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	return c.send(ctx, httpReq, model, "edit")
}

var _ image.Provider = (*Client)(nil)

func (c *Client) send(ctx context.Context, httpReq *http.Request, model, op string) ([]image.Asset, error) {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}
	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := image.ReadResponse(resp.Body, c.maxResponse)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		statusErr := &image.StatusError{Provider: ProviderName, Status: resp.StatusCode}
		var envelope errorEnvelope
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
			statusErr.Message = envelope.Error.Message
			statusErr.Code = codeString(envelope.Error.Code, envelope.Error.Type)
		} else {
			statusErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, statusErr
	}

	var decoded imagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, fmt.Errorf("openai: %s", decoded.Error.Message)
	}
	if len(decoded.Data) == 0 {
		return nil, errors.New("openai: empty image list")
	}
	assets := make([]image.Asset, 0, len(decoded.Data))
	for i, item := range decoded.Data {
		var data []byte
		switch {
		case item.B64JSON != "":
			data, err = base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("openai: decode image %d: %w", i, err)
			}
		case item.URL != "":
			data, err = c.download(ctx, item.URL)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("openai: image %d has no payload", i)
		}
		asset := image.Asset{
			Format:        image.DetectFormat(data, "image/png"),
			Data:          data,
			RevisedPrompt: item.RevisedPrompt,
		}
		if cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
		assets = append(assets, asset)
	}
	c.logger.Debug().
		Str("model", model).
		Str("operation", op).
		Int("images", len(assets)).
		Dur("latency", time.Since(started)).
		Msg("openai: image response")
	return assets, nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("openai: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("openai: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: download image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, &image.StatusError{Provider: ProviderName, Status: resp.StatusCode, Message: "download failed"}
	}
	data, err := image.ReadResponse(resp.Body, c.maxResponse)
	if err != nil {
		return nil, fmt.Errorf("openai: read image: %w", err)
	}
	return data, nil
}

func (c *Client) resolveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func writeImagePart(form *multipart.Writer, field string, src image.SourceImage, fallbackName string) error {
	name := strings.TrimSpace(src.Filename)
	if name == "" {
		name = fallbackName
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	header.Set("Content-Type", image.DetectFormat(src.Data, src.MIME))
	part, err := form.CreatePart(header)
	if err != nil {
		return fmt.Errorf("openai: create %s part: %w", field, err)
	}
	if _, err := part.Write(src.Data); err != nil {
		return fmt.Errorf("openai: write %s part: %w", field, err)
	}
	return nil
}

// legacyModel reports the DALL·E models, which need response_format and
// reject the newer quality/background values.
func legacyModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "dall-e")
}

func codeString(code any, fallback string) string {
	switch v := code.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.Itoa(int(v))
	}
	return fallback
}
