package mask

import "math"

// DisplayPoint is a pointer position in the coordinate frame of the on-screen
// surface. Strokes only ever store display points.
type DisplayPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NativePoint is a position in the pixel space of the source image.
type NativePoint struct {
	X float64
	Y float64
}

// Size is an integral pixel size of the source image.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// DisplaySize is the size of the rendering surface. It is kept fractional so
// the scale factors derived from it are exact.
type DisplaySize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pixels rounds the display size to whole pixels, never below 1×1.
func (d DisplaySize) Pixels() (int, int) {
	w := int(math.Round(d.Width))
	h := int(math.Round(d.Height))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Scale maps display space onto native space, independently per axis.
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToNative converts a display point to native space. It is the only place a
// coordinate crosses between the two spaces.
func (s Scale) ToNative(p DisplayPoint) NativePoint {
	return NativePoint{X: p.X * s.X, Y: p.Y * s.Y}
}

// Max returns the larger of the two axis factors; brush sizes scale by it.
func (s Scale) Max() float64 {
	return math.Max(s.X, s.Y)
}

// Valid reports whether both factors are finite and positive.
func (s Scale) Valid() bool {
	return s.X > 0 && s.Y > 0 && !math.IsInf(s.X, 0) && !math.IsInf(s.Y, 0)
}
