package editor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/anthonynsimon/bild/transform"
	"github.com/gogpu/gg"

	"maskstudio/internal/mask"
)

// ErrNoImage is returned by pointer operations before an image is loaded.
// The interaction layer treats it as "ignored", not as a user error.
var ErrNoImage = errors.New("editor: no image loaded")

// PreviewColors are the on-screen colors of the stroke overlay. They only
// preview the mask; the exported mask uses mask.Background and mask.Paint.
type PreviewColors struct {
	Paint   color.NRGBA
	Erase   color.NRGBA
	Opacity uint8
}

// DefaultPreviewColors paints in red and erases in blue at half opacity.
var DefaultPreviewColors = PreviewColors{
	Paint:   color.NRGBA{R: 0xff, G: 0x3b, B: 0x30, A: 0xff},
	Erase:   color.NRGBA{R: 0x1e, G: 0x90, B: 0xff, A: 0xff},
	Opacity: 0x80,
}

// Surface is the drawing surface of one editing session: it owns the source
// image, the dimension mapper and the pointer state, and renders the source
// plus a live overlay of the stroke model.
type Surface struct {
	source  image.Image
	mapper  *mask.Mapper
	model   *mask.Model
	history *mask.History
	drawing bool
	colors  PreviewColors
}

// NewSurface binds a surface to the model and history it mutates.
func NewSurface(mapper *mask.Mapper, model *mask.Model, history *mask.History, colors PreviewColors) *Surface {
	return &Surface{mapper: mapper, model: model, history: history, colors: colors}
}

// Loaded reports whether pointer input is accepted.
func (s *Surface) Loaded() bool {
	return s.source != nil && s.mapper.Ready()
}

// Drawing reports whether a stroke is in progress.
func (s *Surface) Drawing() bool {
	return s.drawing
}

// Source returns the loaded image, or nil.
func (s *Surface) Source() image.Image {
	return s.source
}

// Begin snapshots the model and starts a one-point stroke. A press while a
// stroke is active is ignored and reports false.
func (s *Surface) Begin(tool mask.Tool, radius float64, p mask.DisplayPoint) (bool, error) {
	if !s.Loaded() {
		return false, ErrNoImage
	}
	if s.drawing {
		return false, nil
	}
	if radius <= 0 {
		return false, fmt.Errorf("editor: brush radius must be positive, got %v", radius)
	}
	if err := s.history.Snapshot(s.model); err != nil {
		return false, err
	}
	stroke := mask.NewStroke(tool, radius, p)
	stroke.Display = s.mapper.Display()
	s.model.Append(stroke)
	s.drawing = true
	return true, nil
}

// Extend appends p to the active stroke. Without an active stroke it is a
// no-op and reports false.
func (s *Surface) Extend(p mask.DisplayPoint) bool {
	if !s.drawing {
		return false
	}
	return s.model.ExtendLast(p)
}

// End releases the active stroke.
func (s *Surface) End() bool {
	was := s.drawing
	s.drawing = false
	return was
}

// Render draws the source image at the current display size with the
// stroke overlay composited on top. When inverted, paint and erase swap their
// preview colors.
func (s *Surface) Render(inverted bool) (*image.RGBA, error) {
	if s.source == nil {
		return nil, ErrNoImage
	}
	display := s.mapper.Display()
	w, h := display.Pixels()
	base := transform.Resize(s.source, w, h, transform.Linear)

	if s.model.Len() == 0 {
		return base, nil
	}
	overlay, err := s.renderOverlay(w, h, display, inverted)
	if err != nil {
		return nil, err
	}
	opacity := image.NewUniform(color.Alpha{A: s.colors.Opacity})
	draw.DrawMask(base, base.Bounds(), overlay, image.Point{}, opacity, image.Point{}, draw.Over)
	return base, nil
}

func (s *Surface) renderOverlay(w, h int, display mask.DisplaySize, inverted bool) (image.Image, error) {
	dc := gg.NewContext(w, h)
	defer dc.Close()
	dc.Clear()
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	paint, erase := s.colors.Paint, s.colors.Erase
	if inverted {
		paint, erase = erase, paint
	}
	for _, stroke := range s.model.Strokes() {
		if len(stroke.Points) == 0 {
			continue
		}
		c := paint
		if stroke.Tool == mask.ToolErase {
			c = erase
		}
		dc.SetColor(c)
		sx, sy := 1.0, 1.0
		if stroke.Display.Width > 0 && stroke.Display.Height > 0 {
			sx, sy = display.Width/stroke.Display.Width, display.Height/stroke.Display.Height
		}
		radius := stroke.Radius * max(sx, sy)
		first := stroke.Points[0]
		if len(stroke.Points) == 1 {
			dc.DrawCircle(first.X*sx, first.Y*sy, radius)
			if err := dc.Fill(); err != nil {
				return nil, fmt.Errorf("editor: overlay dab: %w", err)
			}
			continue
		}
		dc.SetLineWidth(radius * 2)
		dc.MoveTo(first.X*sx, first.Y*sy)
		for _, p := range stroke.Points[1:] {
			dc.LineTo(p.X*sx, p.Y*sy)
		}
		if err := dc.Stroke(); err != nil {
			return nil, fmt.Errorf("editor: overlay stroke: %w", err)
		}
	}
	return dc.Image(), nil
}

// load installs a new source image and native size. The caller resets the
// model and history.
func (s *Surface) load(img image.Image, mapper *mask.Mapper) {
	s.source = img
	s.mapper = mapper
	s.drawing = false
}
