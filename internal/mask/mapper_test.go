package mask

import (
	"math"
	"testing"
)

func TestFit(t *testing.T) {
	tests := []struct {
		name      string
		native    Size
		width     float64
		maxHeight float64
		want      DisplaySize
	}{
		{
			name:      "width bound",
			native:    Size{Width: 800, Height: 600},
			width:     400,
			maxHeight: 1000,
			want:      DisplaySize{Width: 400, Height: 300},
		},
		{
			name:      "height bound",
			native:    Size{Width: 600, Height: 1200},
			width:     500,
			maxHeight: 400,
			want:      DisplaySize{Width: 200, Height: 400},
		},
		{
			name:      "no height bound",
			native:    Size{Width: 100, Height: 400},
			width:     200,
			maxHeight: 0,
			want:      DisplaySize{Width: 200, Height: 800},
		},
		{
			name:   "unknown native",
			native: Size{},
			width:  400,
			want:   DisplaySize{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(tt.native, tt.width, tt.maxHeight)
			if got != tt.want {
				t.Fatalf("Fit = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMapperFallbackBeforeNative(t *testing.T) {
	m := NewMapper(MapperOptions{})
	if m.Ready() {
		t.Fatalf("mapper ready without native size")
	}
	got := m.Resize(1000, 900)
	want := DisplaySize{Width: FallbackDisplaySide, Height: FallbackDisplaySide}
	if got != want {
		t.Fatalf("display = %+v, want fallback %+v", got, want)
	}
	if _, ok := m.Scale(); ok {
		t.Fatalf("scale available without native size")
	}
}

func TestMapperScale(t *testing.T) {
	m := NewMapper(MapperOptions{})
	if err := m.SetNative(Size{Width: 800, Height: 600}); err != nil {
		t.Fatalf("SetNative: %v", err)
	}
	m.Resize(400, 2000)
	s, ok := m.Scale()
	if !ok {
		t.Fatalf("scale not available")
	}
	if s.X != 2 || s.Y != 2 {
		t.Fatalf("scale = %+v, want 2x2", s)
	}
	if p := s.ToNative(DisplayPoint{X: 100, Y: 100}); p.X != 200 || p.Y != 200 {
		t.Fatalf("ToNative = %+v, want (200,200)", p)
	}
}

func TestMapperMaxHeight(t *testing.T) {
	m := NewMapper(MapperOptions{MaxHeightFraction: 0.5, MaxHeightPx: 300})
	if got := m.MaxHeight(400); got != 200 {
		t.Fatalf("MaxHeight(400) = %v, want 200", got)
	}
	if got := m.MaxHeight(2000); got != 300 {
		t.Fatalf("MaxHeight(2000) = %v, want cap 300", got)
	}
	if err := m.SetNative(Size{Width: 1000, Height: 1000}); err != nil {
		t.Fatalf("SetNative: %v", err)
	}
	d := m.Resize(900, 400)
	if d.Width != 200 || d.Height != 200 {
		t.Fatalf("display = %+v, want 200x200", d)
	}
	s, _ := m.Scale()
	if math.Abs(s.X-5) > 1e-9 || math.Abs(s.Y-5) > 1e-9 {
		t.Fatalf("scale = %+v, want 5x5", s)
	}
}

func TestMapperNativeIsImmutable(t *testing.T) {
	m := NewMapper(MapperOptions{})
	if err := m.SetNative(Size{Width: 0, Height: 10}); err != ErrInvalidSize {
		t.Fatalf("err = %v, want ErrInvalidSize", err)
	}
	if err := m.SetNative(Size{Width: 10, Height: 10}); err != nil {
		t.Fatalf("SetNative: %v", err)
	}
	if err := m.SetNative(Size{Width: 20, Height: 20}); err != ErrNativeSizeSet {
		t.Fatalf("err = %v, want ErrNativeSizeSet", err)
	}
	if m.Native() != (Size{Width: 10, Height: 10}) {
		t.Fatalf("native changed: %+v", m.Native())
	}
}
