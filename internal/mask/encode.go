package mask

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/anthonynsimon/bild/effect"
)

// Encoding selects how a raster becomes the mask handed to a provider.
type Encoding uint8

const (
	// EncodingBinary forces every pixel to opaque black or opaque white.
	EncodingBinary Encoding = iota
	// EncodingAlpha turns luminance into alpha over black RGB, for providers
	// that read transparency as the mask.
	EncodingAlpha
)

func (e Encoding) String() string {
	if e == EncodingAlpha {
		return "alpha"
	}
	return "binary"
}

// ParseEncoding accepts "binary" (also "bw") and "alpha".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary", "bw":
		return EncodingBinary, nil
	case "alpha":
		return EncodingAlpha, nil
	default:
		return EncodingBinary, fmt.Errorf("mask: unknown encoding %q", s)
	}
}

func (e Encoding) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Encoding) UnmarshalText(b []byte) error {
	parsed, err := ParseEncoding(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// EditRegion names which mask pixels a provider rewrites.
type EditRegion uint8

const (
	// EditOn means white (binary) or opaque (alpha) pixels are edited.
	EditOn EditRegion = iota
	// EditOff means black or transparent pixels are edited, as OpenAI's
	// /images/edits does.
	EditOff
)

func (e EditRegion) String() string {
	if e == EditOff {
		return "transparent"
	}
	return "opaque"
}

// ParseEditRegion accepts "opaque" (also "white", "on") and "transparent"
// (also "black", "off").
func ParseEditRegion(s string) (EditRegion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "opaque", "white", "on":
		return EditOn, nil
	case "transparent", "black", "off":
		return EditOff, nil
	default:
		return EditOn, fmt.Errorf("mask: unknown edit region %q", s)
	}
}

func (e EditRegion) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Flipped returns a copy of r drawn in the opposite convention.
func (r *Raster) Flipped() *Raster {
	img := image.NewRGBA(r.img.Bounds())
	copy(img.Pix, r.img.Pix)
	complement(img)
	return &Raster{img: img, inverted: !r.inverted}
}

// EncodeFor encodes r so the pixels a user painted as "edit" land in the
// region the provider rewrites.
func (r *Raster) EncodeFor(enc Encoding, region EditRegion, threshold uint8) image.Image {
	if region == EditOff {
		return r.Flipped().Encode(enc, threshold)
	}
	return r.Encode(enc, threshold)
}

// Encode applies the final encoding step to a raster. Both encodings read
// the same composited pixels.
func (r *Raster) Encode(enc Encoding, threshold uint8) image.Image {
	if enc == EncodingAlpha {
		return Alpha(r.img)
	}
	return Binarize(r.img, threshold)
}

// Binarize returns a copy of img where a pixel with any color channel above
// threshold is opaque white and every other pixel is opaque black.
func Binarize(img *image.RGBA, threshold uint8) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		for i := 0; i < len(src); i += 4 {
			v := uint8(0)
			if src[i] > threshold || src[i+1] > threshold || src[i+2] > threshold {
				v = 0xff
			}
			dst[i], dst[i+1], dst[i+2], dst[i+3] = v, v, v, 0xff
		}
	}
	return out
}

// Alpha returns an image whose alpha is the luminance of img and whose color
// channels are black.
func Alpha(img *image.RGBA) *image.NRGBA {
	gray := effect.Grayscale(img)
	b := gray.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			// grayscale output carries the luminance in every channel
			l := gray.RGBAAt(b.Min.X+x, b.Min.Y+y).R
			out.SetNRGBA(x, y, color.NRGBA{A: l})
		}
	}
	return out
}

// EncodePNG serializes a mask image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mask: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
