package image

import (
	"context"
	"strconv"
	"strings"
)

// Operation names a provider capability.
type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationEdit     Operation = "edit"
)

// SourceImage describes an uploaded image or mask forwarded to a provider.
type SourceImage struct {
	Data     []byte
	MIME     string
	Filename string
	Width    int
	Height   int
}

// GenerateRequest describes a normalized text-to-image request.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Quantity       int
	Size           string
	AspectRatio    string
	Quality        string
	Background     string
	RequestID      string
	Locale         string
}

// EditRequest describes a normalized inpainting request. Mask is optional
// for providers that can edit without one.
type EditRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Quantity       int
	Size           string
	Quality        string
	RequestID      string
	Locale         string
	Image          SourceImage
	Mask           *SourceImage
}

// Asset represents a generated or edited image, always as raw bytes.
type Asset struct {
	Format        string
	Width         int
	Height        int
	Data          []byte
	RevisedPrompt string
}

// Generator is implemented by providers that create images from a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Asset, error)
}

// Editor is implemented by providers that edit an image under a mask.
type Editor interface {
	Edit(ctx context.Context, req EditRequest) ([]Asset, error)
}

// Provider is a named backend offering both operations.
type Provider interface {
	Generator
	Editor
	Name() string
}

// AspectRatioSize maps an aspect ratio to a size token understood by the
// OpenAI images API.
func AspectRatioSize(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9", "3:2", "4:3":
		return "1536x1024"
	case "9:16", "2:3", "3:4":
		return "1024x1536"
	default:
		return "1024x1024"
	}
}

// ParseSize splits a "WxH" or "W*H" token. It returns zeros when the token
// is malformed.
func ParseSize(size string) (int, int) {
	size = strings.ToLower(strings.TrimSpace(size))
	sep := "x"
	if strings.Contains(size, "*") {
		sep = "*"
	}
	w, h, ok := strings.Cut(size, sep)
	if !ok {
		return 0, 0
	}
	width, height := atoi(w), atoi(h)
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	return width, height
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// NormalizeQuantity clamps the requested number of images.
func NormalizeQuantity(n int) int {
	switch {
	case n <= 0:
		return 1
	case n > 4:
		return 4
	default:
		return n
	}
}
