// Command maskrender renders a mask PNG offline from a source image and a
// stroke log, using the same rasterizer as the API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"maskstudio/internal/imageio"
	"maskstudio/internal/infra"
	"maskstudio/internal/mask"
)

type options struct {
	imagePath   string
	strokesPath string
	outPath     string
	encoding    string
	width       float64
	viewport    float64
	invert      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.imagePath, "image", "", "source image (PNG, JPEG or WebP)")
	flag.StringVar(&opts.strokesPath, "strokes", "", "stroke log JSON, as served by /strokes or a session bundle")
	flag.StringVar(&opts.outPath, "out", "mask.png", "output path, - for stdout")
	flag.StringVar(&opts.encoding, "encoding", "binary", "mask encoding (binary or alpha)")
	flag.Float64Var(&opts.width, "width", 0, "container width the strokes were drawn in when they carry no display size (default: native pixels)")
	flag.Float64Var(&opts.viewport, "viewport", 0, "viewport height used to bound the display size")
	flag.BoolVar(&opts.invert, "invert", false, "invert the mask")
	flag.Parse()

	logger := infra.NewLogger("cli").With().Str("cmd", "maskrender").Logger()
	if opts.imagePath == "" || opts.strokesPath == "" {
		fmt.Fprintln(os.Stderr, "-image and -strokes are required")
		flag.Usage()
		os.Exit(2)
	}

	data, err := render(opts)
	if err != nil {
		logger.Error().Err(err).Msg("render failed")
		os.Exit(1)
	}
	if opts.outPath == "-" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(opts.outPath, data, 0o644); err != nil {
		logger.Error().Err(err).Str("path", opts.outPath).Msg("write failed")
		os.Exit(1)
	}
	logger.Info().Str("path", opts.outPath).Int("bytes", len(data)).Msg("mask written")
}

func render(opts options) ([]byte, error) {
	enc, err := mask.ParseEncoding(opts.encoding)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(opts.imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	upload, err := imageio.Read(f, 0, 0)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(opts.strokesPath)
	if err != nil {
		return nil, err
	}
	strokes, err := parseStrokes(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	native := mask.SizeOf(upload.Image)
	scale := mask.Scale{X: 1, Y: 1}
	if opts.width > 0 {
		mapper := mask.NewMapper(mask.MapperOptions{})
		if err := mapper.SetNative(native); err != nil {
			return nil, err
		}
		mapper.Resize(opts.width, opts.viewport)
		var ok bool
		if scale, ok = mapper.Scale(); !ok {
			return nil, fmt.Errorf("no usable display size for %dx%d", native.Width, native.Height)
		}
	}

	rasterizer := mask.NewRasterizer()
	raster, err := rasterizer.Rasterize(mask.Input{
		Strokes:  strokes,
		Native:   native,
		Scale:    scale,
		Inverted: opts.invert,
	})
	if err != nil {
		return nil, err
	}
	return mask.EncodePNG(raster.Encode(enc, rasterizer.Threshold))
}

// parseStrokes accepts a bare array or an object with a "strokes" field.
func parseStrokes(r io.Reader) ([]mask.Stroke, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var strokes []mask.Stroke
		if err := json.Unmarshal(raw, &strokes); err != nil {
			return nil, fmt.Errorf("decode strokes: %w", err)
		}
		return strokes, nil
	}
	var wrapped struct {
		Strokes []mask.Stroke `json:"strokes"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode strokes: %w", err)
	}
	return wrapped.Strokes, nil
}
