// Package imageio decodes uploaded images after sniffing their real type.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/h2non/filetype"
	"golang.org/x/image/webp"

	"maskstudio/internal/domain"
)

// DefaultMaxBytes bounds an upload when the caller passes no limit.
const DefaultMaxBytes = 20 << 20

// DefaultMaxPixels bounds the decoded area of an upload. Compressed formats
// can describe huge canvases in a few kilobytes, and every rasterization
// allocates at native size.
const DefaultMaxPixels = 40_000_000

// ErrTooLarge is returned when an upload exceeds the byte or pixel limit.
var ErrTooLarge = errors.New("imageio: upload too large")

// Upload is a decoded image together with its original bytes.
type Upload struct {
	Image image.Image
	Data  []byte
	MIME  string
}

// Width of the decoded image.
func (u *Upload) Width() int { return u.Image.Bounds().Dx() }

// Height of the decoded image.
func (u *Upload) Height() int { return u.Image.Bounds().Dy() }

// Read consumes at most maxBytes from r and decodes it, rejecting images
// larger than maxPixels. Zero limits select the defaults.
func Read(r io.Reader, maxBytes, maxPixels int64) (*Upload, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("imageio: read: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return DecodeLimited(data, maxPixels)
}

// Decode sniffs data and decodes PNG, JPEG or WebP up to DefaultMaxPixels.
// The declared content type of the upload is never trusted.
func Decode(data []byte) (*Upload, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited reads only the header first and refuses images above
// maxPixels before any pixel buffer is allocated.
func DecodeLimited(data []byte, maxPixels int64) (*Upload, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidImage)
	}
	cfg, mime, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty bounds", domain.ErrInvalidImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	var img image.Image
	switch mime {
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/webp":
		img, err = webp.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidImage, mime, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bounds", domain.ErrInvalidImage)
	}
	return &Upload{Image: img, Data: data, MIME: mime}, nil
}

// DecodeConfig returns only the dimensions and type of data.
func DecodeConfig(data []byte) (image.Config, string, error) {
	kind, err := filetype.Match(data)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	var cfg image.Config
	switch kind.MIME.Value {
	case "image/png":
		cfg, err = png.DecodeConfig(bytes.NewReader(data))
	case "image/jpeg":
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(data))
	case "image/webp":
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	default:
		return image.Config{}, "", fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidImage, kind.MIME.Value)
	}
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	return cfg, kind.MIME.Value, nil
}
