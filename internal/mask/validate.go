package mask

import (
	"fmt"
	"image"
)

// DimensionError reports a mask whose size differs from its source image.
type DimensionError struct {
	Mask   Size
	Source Size
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("mask: mask is %dx%d but image is %dx%d", e.Mask.Width, e.Mask.Height, e.Source.Width, e.Source.Height)
}

// SizeOf returns the pixel size of img.
func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// ValidateDimensions checks a mask supplied from outside the editor (for
// example pasted by URL) against the source image size.
func ValidateDimensions(maskSize, source Size) error {
	if maskSize != source {
		return &DimensionError{Mask: maskSize, Source: source}
	}
	return nil
}
