package mask

import (
	"errors"
	"math"
)

const (
	// DefaultMaxHeightFraction bounds the surface to this share of the
	// viewport height.
	DefaultMaxHeightFraction = 0.7
	// DefaultMaxHeightPx is the absolute cap on the surface height.
	DefaultMaxHeightPx = 768
	// FallbackDisplaySide is the square surface used before an image loads.
	FallbackDisplaySide = 512
)

var (
	// ErrNativeSizeSet is returned when a mapper is given a second native size.
	ErrNativeSizeSet = errors.New("mask: native size already set")
	// ErrInvalidSize is returned for non-positive dimensions.
	ErrInvalidSize = errors.New("mask: invalid size")
)

// MapperOptions bounds the surface height.
type MapperOptions struct {
	MaxHeightFraction float64
	MaxHeightPx       float64
}

// Mapper keeps the display size an aspect-preserving fit of the native image
// size inside the container and derives the rasterization scale from it.
type Mapper struct {
	native    Size
	display   DisplaySize
	fraction  float64
	maxHeight float64
}

// NewMapper returns a mapper holding the fallback square display size.
func NewMapper(opts MapperOptions) *Mapper {
	fraction := opts.MaxHeightFraction
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultMaxHeightFraction
	}
	maxHeight := opts.MaxHeightPx
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeightPx
	}
	return &Mapper{
		display:   DisplaySize{Width: FallbackDisplaySide, Height: FallbackDisplaySide},
		fraction:  fraction,
		maxHeight: maxHeight,
	}
}

// SetNative records the source image size. It may be called once.
func (m *Mapper) SetNative(size Size) error {
	if size.Empty() {
		return ErrInvalidSize
	}
	if !m.native.Empty() {
		return ErrNativeSizeSet
	}
	m.native = size
	return nil
}

// Ready reports whether the native size is known.
func (m *Mapper) Ready() bool {
	return !m.native.Empty()
}

// Native returns the source image size (zero until SetNative).
func (m *Mapper) Native() Size {
	return m.native
}

// Display returns the current display size.
func (m *Mapper) Display() DisplaySize {
	return m.display
}

// MaxHeight returns the height bound for the given viewport height.
func (m *Mapper) MaxHeight(viewportHeight float64) float64 {
	limit := m.maxHeight
	if viewportHeight > 0 {
		limit = math.Min(viewportHeight*m.fraction, m.maxHeight)
	}
	return limit
}

// Resize recomputes the display size for a container of the given width and
// a viewport of the given height. Without a native size the fallback square
// is kept.
func (m *Mapper) Resize(containerWidth, viewportHeight float64) DisplaySize {
	if !m.Ready() || containerWidth <= 0 {
		return m.display
	}
	m.display = Fit(m.native, containerWidth, m.MaxHeight(viewportHeight))
	return m.display
}

// Scale returns native/display per axis. ok is false until the native size
// is known.
func (m *Mapper) Scale() (Scale, bool) {
	if !m.Ready() || m.display.Width <= 0 || m.display.Height <= 0 {
		return Scale{}, false
	}
	s := Scale{
		X: float64(m.native.Width) / m.display.Width,
		Y: float64(m.native.Height) / m.display.Height,
	}
	return s, s.Valid()
}

// Fit computes an aspect-preserving display size for native within a
// container of width w, bounded by maxHeight.
func Fit(native Size, w, maxHeight float64) DisplaySize {
	if native.Empty() || w <= 0 {
		return DisplaySize{}
	}
	ratio := float64(native.Width) / float64(native.Height)
	dw, dh := w, w/ratio
	if maxHeight > 0 && dh > maxHeight {
		dh = maxHeight
		dw = maxHeight * ratio
	}
	if dw > w {
		dw = w
	}
	return DisplaySize{Width: dw, Height: dh}
}
