package mask

import (
	"errors"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/clone"
	"github.com/gogpu/gg"
)

// ErrNoMask reports that there is nothing to rasterize: no strokes, no
// image, or a degenerate native size. It is a result, not a failure.
var ErrNoMask = errors.New("mask: no mask")

// DefaultThreshold is the binarization cut: a channel above it turns the
// pixel on.
const DefaultThreshold uint8 = 127

var (
	// Background is the "preserve" color in the default convention.
	Background = gg.Black
	// Paint is the "edit" color in the default convention.
	Paint = gg.White
)

// Input is everything the rasterizer reads.
type Input struct {
	Strokes  []Stroke
	Native   Size
	Scale    Scale
	Inverted bool
}

// Raster is the composited, not yet encoded, mask at native resolution.
type Raster struct {
	img      *image.RGBA
	inverted bool
}

// Bounds returns the raster bounds, always anchored at the origin.
func (r *Raster) Bounds() image.Rectangle {
	return r.img.Bounds()
}

// Size returns the raster size in pixels.
func (r *Raster) Size() Size {
	b := r.img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// Inverted reports the convention the raster was drawn with.
func (r *Raster) Inverted() bool {
	return r.inverted
}

// RGBA exposes the composited pixels. Callers must not modify them.
func (r *Raster) RGBA() *image.RGBA {
	return r.img
}

// Rasterizer replays a stroke log at native resolution.
type Rasterizer struct {
	Threshold uint8
}

// NewRasterizer returns a rasterizer using DefaultThreshold.
func NewRasterizer() *Rasterizer {
	return &Rasterizer{Threshold: DefaultThreshold}
}

// Rasterize draws every stroke in insertion order onto a background-filled
// bitmap of exactly in.Native pixels. Paint strokes use the paint color and
// erase strokes the background color, so later strokes win per pixel. With
// in.Inverted the two colors trade places; the swap is applied as an exact
// per-channel complement of the default drawing so that anti-aliased edge
// pixels binarize to the opposite value too.
func (r *Rasterizer) Rasterize(in Input) (raster *Raster, err error) {
	if len(in.Strokes) == 0 || in.Native.Empty() || !in.Scale.Valid() {
		return nil, ErrNoMask
	}
	defer func() {
		if rec := recover(); rec != nil {
			raster, err = nil, fmt.Errorf("mask: rasterize panic: %v", rec)
		}
	}()

	dc := gg.NewContext(in.Native.Width, in.Native.Height)
	defer dc.Close()

	dc.ClearWithColor(Background)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	for i, s := range in.Strokes {
		if len(s.Points) == 0 || s.Radius <= 0 {
			continue
		}
		c := Paint
		if s.Tool == ToolErase {
			c = Background
		}
		dc.SetRGBA(c.R, c.G, c.B, c.A)
		scale := s.NativeScale(in.Native, in.Scale)
		if !scale.Valid() {
			continue
		}
		if err := drawStroke(dc, s, scale, s.Radius*scale.Max()); err != nil {
			return nil, fmt.Errorf("mask: stroke %d: %w", i, err)
		}
	}

	img := clone.AsRGBA(dc.Image())
	if b := img.Bounds(); b.Dx() != in.Native.Width || b.Dy() != in.Native.Height {
		return nil, fmt.Errorf("mask: raster is %dx%d, want %dx%d", b.Dx(), b.Dy(), in.Native.Width, in.Native.Height)
	}
	if in.Inverted {
		complement(img)
	}
	return &Raster{img: img, inverted: in.Inverted}, nil
}

// drawStroke renders a single point as a filled disk of the given radius and
// longer strokes as a round polyline twice as wide. A polyline that never
// leaves its first point is drawn as a disk too, since a zero-length path has
// no direction to cap.
func drawStroke(dc *gg.Context, s Stroke, scale Scale, radius float64) error {
	if s.Dab() || stationary(s.Points) {
		p := scale.ToNative(s.Points[0])
		dc.DrawCircle(p.X, p.Y, radius)
		return dc.Fill()
	}
	dc.SetLineWidth(radius * 2)
	first := scale.ToNative(s.Points[0])
	dc.MoveTo(first.X, first.Y)
	for _, dp := range s.Points[1:] {
		p := scale.ToNative(dp)
		dc.LineTo(p.X, p.Y)
	}
	return dc.Stroke()
}

func stationary(points []DisplayPoint) bool {
	for _, p := range points[1:] {
		if p != points[0] {
			return false
		}
	}
	return true
}

func complement(img *image.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff - img.Pix[i]
		img.Pix[i+1] = 0xff - img.Pix[i+1]
		img.Pix[i+2] = 0xff - img.Pix[i+2]
		img.Pix[i+3] = 0xff
	}
}
