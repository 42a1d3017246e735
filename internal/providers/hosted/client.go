package hosted

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
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"maskstudio/internal/domain"
	"maskstudio/internal/infra"
	"maskstudio/internal/providers/image"
)

// ProviderName identifies this backend in the catalog and usage events.
const ProviderName = "hosted"

const (
	defaultBaseURL      = "https://api-inference.huggingface.co"
	defaultModel        = "stabilityai/stable-diffusion-xl-base-1.0"
	defaultInpaintModel = "diffusers/stable-diffusion-xl-1.0-inpainting-0.1"
	defaultTimeout      = 120 * time.Second
)

// Options configures the hosted inference client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	InpaintModel   string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// MaxResponseBytes caps upstream reply bodies; zero selects
	// image.DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// Client calls hosted inference models at POST {base}/models/{model}. The
// reply body is the image itself.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	inpaintModel string
	httpClient   *http.Client
	logger       *infra.Logger
	maxResponse  int64
}

type inferenceRequest struct {
	Inputs     string           `json:"inputs"`
	Image      string           `json:"image,omitempty"`
	MaskImage  string           `json:"mask_image,omitempty"`
	Parameters inferenceParams  `json:"parameters"`
	Options    inferenceOptions `json:"options"`
}

type inferenceParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Seed           int    `json:"seed,omitempty"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type errorResponse struct {
	Error         any     `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
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
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	inpaint := strings.TrimSpace(opts.InpaintModel)
	if inpaint == "" {
		inpaint = defaultInpaintModel
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
		model:        model,
		inpaintModel: inpaint,
		httpClient:   httpClient,
		logger:       logger,
		maxResponse:  opts.MaxResponseBytes,
	}, nil
}

func (c *Client) Name() string {
	return ProviderName
}

// Model returns the default text-to-image model.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate runs the text-to-image model once per requested image, varying
// the prompt and seed.
func (c *Client) Generate(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("hosted: %w", domain.ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("hosted: %w", domain.ErrInvalidPrompt)
	}
	model := resolve(req.Model, c.model)
	width, height := image.ParseSize(req.Size)
	if width == 0 && req.AspectRatio != "" {
		width, height = image.ParseSize(image.AspectRatioSize(req.AspectRatio))
	}
	quantity := image.NormalizeQuantity(req.Quantity)
	assets := make([]image.Asset, 0, quantity)
	for i := 0; i < quantity; i++ {
		variant := image.VariationPrompt(prompt, quantity, i)
		payload := inferenceRequest{
			Inputs: variant,
			Parameters: inferenceParams{
				NegativePrompt: strings.TrimSpace(req.NegativePrompt),
				Width:          width,
				Height:         height,
				Seed:           image.DeterministicSeed(req.RequestID, model, variant, i),
			},
			Options: inferenceOptions{WaitForModel: true},
		}
		asset, err := c.infer(ctx, model, payload)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, nil
}

// Edit runs the inpainting model with the source image and binary mask
// inlined as base64.
func (c *Client) Edit(ctx context.Context, req image.EditRequest) ([]image.Asset, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("hosted: %w", domain.ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("hosted: %w", domain.ErrInvalidPrompt)
	}
	if len(req.Image.Data) == 0 {
		return nil, fmt.Errorf("hosted: %w", domain.ErrInvalidImage)
	}
	model := resolve(req.Model, c.inpaintModel)
	quantity := image.NormalizeQuantity(req.Quantity)
	assets := make([]image.Asset, 0, quantity)
	for i := 0; i < quantity; i++ {
		variant := image.VariationPrompt(prompt, quantity, i)
		payload := inferenceRequest{
			Inputs: variant,
			Image:  base64.StdEncoding.EncodeToString(req.Image.Data),
			Parameters: inferenceParams{
				NegativePrompt: strings.TrimSpace(req.NegativePrompt),
				Seed:           image.DeterministicSeed(req.RequestID, model, variant, i),
			},
			Options: inferenceOptions{WaitForModel: true},
		}
		if req.Mask != nil && len(req.Mask.Data) > 0 {
			payload.MaskImage = base64.StdEncoding.EncodeToString(req.Mask.Data)
		}
		asset, err := c.infer(ctx, model, payload)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, nil
}

var _ image.Provider = (*Client)(nil)

func (c *Client) infer(ctx context.Context, model string, payload inferenceRequest) (*image.Asset, error) {
	endpoint := c.baseURL + "/models/" + strings.Trim(model, "/")
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("hosted: invalid model endpoint: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("hosted: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hosted: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("hosted: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := image.ReadResponse(resp.Body, c.maxResponse)
	if err != nil {
		return nil, fmt.Errorf("hosted: read response: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 300 {
		return nil, &image.StatusError{Provider: ProviderName, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if strings.HasPrefix(contentType, "application/json") {
		return nil, fmt.Errorf("hosted: %s", errorMessage(raw))
	}
	if len(raw) == 0 {
		return nil, errors.New("hosted: empty image body")
	}
	asset := &image.Asset{Format: image.DetectFormat(raw, contentType), Data: raw}
	if cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(raw)); err == nil {
		asset.Width, asset.Height = cfg.Width, cfg.Height
	}
	c.logger.Debug().
		Str("model", model).
		Int("bytes", len(raw)).
		Msg("hosted: generated image asset")
	return asset, nil
}

func errorMessage(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error != nil {
		switch v := detail.Error.(type) {
		case string:
			return v
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		default:
			return fmt.Sprint(v)
		}
	}
	return strings.TrimSpace(string(raw))
}

func resolve(requested, fallback string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return fallback
}
