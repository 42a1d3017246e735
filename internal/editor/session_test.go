package editor

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskstudio/internal/mask"
)

func newTestSession(t *testing.T, debounce time.Duration) *Session {
	t.Helper()
	s := NewSession("test", Options{Debounce: debounce})
	t.Cleanup(s.Close)
	return s
}

func loadImage(t *testing.T, s *Session, w, h int) {
	t.Helper()
	require.NoError(t, s.LoadImage(image.NewRGBA(image.Rect(0, 0, w, h))))
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestPointerIgnoredWithoutImage(t *testing.T) {
	s := newTestSession(t, time.Hour)

	ok, err := s.BeginStroke(mask.ToolPaint, 10, mask.DisplayPoint{X: 1, Y: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.ExtendStroke(mask.DisplayPoint{X: 2, Y: 2}))
	assert.Zero(t, s.State().Strokes)

	_, _, err = s.Mask(mask.EncodingBinary)
	assert.ErrorIs(t, err, mask.ErrNoMask)
}

func TestSecondPressIsIgnored(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 800, 600)
	s.Resize(400, 0)

	ok, err := s.BeginStroke(mask.ToolPaint, 10, mask.DisplayPoint{X: 10, Y: 10})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.BeginStroke(mask.ToolErase, 10, mask.DisplayPoint{X: 50, Y: 50})
	require.NoError(t, err)
	assert.False(t, ok)

	st := s.State()
	assert.Equal(t, 1, st.Strokes)
	assert.True(t, st.Drawing)
	assert.Equal(t, 1, s.history.Len())
}

func TestSessionMaskMatchesNativeSize(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 800, 600)
	display := s.Resize(400, 1000)
	assert.Equal(t, mask.DisplaySize{Width: 400, Height: 300}, display)

	_, err := s.BeginStroke(mask.ToolPaint, 10, mask.DisplayPoint{X: 100, Y: 100})
	require.NoError(t, err)
	s.EndStroke()

	data, ev, err := s.Mask(mask.EncodingBinary)
	require.NoError(t, err)
	assert.True(t, ev.HasMask)
	assert.Equal(t, 800, ev.Width)
	assert.Equal(t, 600, ev.Height)

	img := decodePNG(t, data)
	assert.Equal(t, image.Rect(0, 0, 800, 600), img.Bounds())
	r, _, _, _ := img.At(200, 200).RGBA()
	assert.Equal(t, uint32(0xffff), r, "disk center should be paint")
	r, _, _, _ = img.At(230, 200).RGBA()
	assert.Zero(t, r, "outside the disk should be background")
}

func TestUndoOnEmptyHistoryIsNoop(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 64, 64)

	before := s.State()
	ok, err := s.Undo()
	require.NoError(t, err)
	assert.False(t, ok)

	after := s.State()
	assert.Equal(t, before.Strokes, after.Strokes)
	assert.Equal(t, before.Version, after.Version)
	assert.False(t, after.MaskPending)
}

func TestUndoRestoresPreviousModel(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 100, 100)
	s.Resize(100, 0)

	_, err := s.BeginStroke(mask.ToolPaint, 5, mask.DisplayPoint{X: 10, Y: 10})
	require.NoError(t, err)
	s.EndStroke()
	_, err = s.BeginStroke(mask.ToolPaint, 5, mask.DisplayPoint{X: 50, Y: 50})
	require.NoError(t, err)
	s.ExtendStroke(mask.DisplayPoint{X: 60, Y: 60})

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)

	st := s.State()
	assert.Equal(t, 1, st.Strokes)
	assert.False(t, st.Drawing, "undo ends the active stroke")

	data, _, err := s.Mask(mask.EncodingBinary)
	require.NoError(t, err)
	img := decodePNG(t, data)
	r, _, _, _ := img.At(10, 10).RGBA()
	assert.NotZero(t, r)
	r, _, _, _ = img.At(55, 55).RGBA()
	assert.Zero(t, r)
}

func TestClearResetsInversionAndDropsMask(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 64, 64)
	s.Resize(64, 0)

	_, err := s.BeginStroke(mask.ToolPaint, 4, mask.DisplayPoint{X: 32, Y: 32})
	require.NoError(t, err)
	s.EndStroke()
	require.True(t, s.ToggleInvert())

	_, ev, err := s.Mask(mask.EncodingBinary)
	require.NoError(t, err)
	require.True(t, ev.Inverted)

	require.NoError(t, s.Clear())
	st := s.State()
	assert.False(t, st.Inverted)
	assert.False(t, st.HasMask)
	assert.Zero(t, st.Strokes)
	assert.True(t, st.CanUndo)

	_, _, err = s.Mask(mask.EncodingBinary)
	assert.ErrorIs(t, err, mask.ErrNoMask)

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, s.State().Strokes)
	assert.False(t, s.State().Inverted, "inversion is not restored by undo")
}

func TestImageSwitchBeforeDebounceYieldsNoMask(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 200, 100)
	s.Resize(200, 0)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, err := s.BeginStroke(mask.ToolPaint, 10, mask.DisplayPoint{X: 20, Y: 20})
	require.NoError(t, err)
	require.True(t, s.State().MaskPending)

	loadImage(t, s, 300, 300)
	st := s.State()
	assert.Zero(t, st.Strokes)
	assert.False(t, st.CanUndo)
	assert.False(t, st.MaskPending)

	select {
	case ev := <-events:
		assert.False(t, ev.HasMask)
	default:
		t.Fatalf("image switch did not publish a mask event")
	}

	_, _, err = s.Mask(mask.EncodingBinary)
	assert.ErrorIs(t, err, mask.ErrNoMask)
}

func TestStaleRasterizationIsDiscarded(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 64, 64)
	s.Resize(64, 0)

	_, err := s.BeginStroke(mask.ToolPaint, 4, mask.DisplayPoint{X: 10, Y: 10})
	require.NoError(t, err)
	gen := s.generation

	loadImage(t, s, 64, 64)
	s.rasterize(gen)
	assert.False(t, s.State().HasMask)
}

func TestDebouncedMaskIsPublished(t *testing.T) {
	s := newTestSession(t, 5*time.Millisecond)
	loadImage(t, s, 120, 80)
	s.Resize(120, 0)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, err := s.BeginStroke(mask.ToolPaint, 6, mask.DisplayPoint{X: 30, Y: 30})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		s.ExtendStroke(mask.DisplayPoint{X: float64(30 + i), Y: 30})
	}
	s.EndStroke()

	want := s.State().Version
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Version != want {
				continue
			}
			assert.True(t, ev.HasMask)
			assert.Equal(t, 120, ev.Width)
			assert.Equal(t, 80, ev.Height)
			return
		case <-timeout:
			t.Fatalf("no mask event for version %d", want)
		}
	}
}

func TestInversionFlipsEveryPixel(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 50, 50)
	s.Resize(50, 0)
	_, err := s.BeginStroke(mask.ToolPaint, 5, mask.DisplayPoint{X: 25, Y: 25})
	require.NoError(t, err)

	plain, _, err := s.Mask(mask.EncodingBinary)
	require.NoError(t, err)
	s.ToggleInvert()
	inverted, _, err := s.Mask(mask.EncodingBinary)
	require.NoError(t, err)

	a, b := decodePNG(t, plain), decodePNG(t, inverted)
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			ra, _, _, _ := a.At(x, y).RGBA()
			rb, _, _, _ := b.At(x, y).RGBA()
			require.NotEqual(t, ra, rb, "pixel (%d,%d) did not flip", x, y)
		}
	}
}

func TestPreviewRendersDisplaySize(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 800, 600)
	s.Resize(400, 0)
	_, err := s.BeginStroke(mask.ToolPaint, 10, mask.DisplayPoint{X: 100, Y: 100})
	require.NoError(t, err)

	data, err := s.Preview()
	require.NoError(t, err)
	img := decodePNG(t, data)
	assert.Equal(t, image.Rect(0, 0, 400, 300), img.Bounds())

	r, _, b, _ := img.At(100, 100).RGBA()
	assert.Greater(t, r, b, "paint overlay should tint red")
	r, g, b, _ := img.At(300, 250).RGBA()
	assert.Zero(t, r+g+b, "untouched area keeps the source")
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(Options{Debounce: time.Hour}, time.Minute)
	s := r.Create()
	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	assert.Zero(t, r.Sweep(time.Now()))
	assert.Equal(t, 1, r.Sweep(time.Now().Add(2*time.Minute)))

	_, err = r.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Delete(s.ID), ErrSessionNotFound)
}

func TestMaskRendersWhenTimerIsWaitingForLock(t *testing.T) {
	s := newTestSession(t, time.Millisecond)
	loadImage(t, s, 100, 100)
	s.Resize(100, 0)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Clear())
		ok, err := s.BeginStroke(mask.ToolPaint, 8, mask.DisplayPoint{X: 50, Y: 50})
		require.NoError(t, err)
		require.True(t, ok)

		// let the timer fire while the session is busy so its callback
		// queues behind the lock
		s.mu.Lock()
		time.Sleep(5 * time.Millisecond)
		s.mu.Unlock()

		data, ev, err := s.Mask(mask.EncodingBinary)
		require.NoError(t, err, "run %d", i)
		require.True(t, ev.HasMask)
		r, _, _, _ := decodePNG(t, data).At(50, 50).RGBA()
		require.Equal(t, uint32(0xffff), r)
	}
}

func TestMaskForTransparentEditRegion(t *testing.T) {
	s := newTestSession(t, time.Hour)
	loadImage(t, s, 100, 100)
	s.Resize(100, 0)
	_, err := s.BeginStroke(mask.ToolPaint, 10, mask.DisplayPoint{X: 50, Y: 50})
	require.NoError(t, err)

	data, _, err := s.MaskFor(mask.EncodingAlpha, mask.EditOff)
	require.NoError(t, err)
	img := decodePNG(t, data)
	_, _, _, painted := img.At(50, 50).RGBA()
	_, _, _, rest := img.At(2, 2).RGBA()
	assert.Zero(t, painted, "painted pixels are the ones to edit")
	assert.Equal(t, uint32(0xffff), rest)

	// the session convention itself is unchanged
	assert.False(t, s.State().Inverted)
	plain, _, err := s.Mask(mask.EncodingAlpha)
	require.NoError(t, err)
	_, _, _, painted = decodePNG(t, plain).At(50, 50).RGBA()
	assert.Equal(t, uint32(0xffff), painted)
}

type flakyRenderer struct {
	mu       sync.Mutex
	failures int
	panics   bool
	next     *mask.Rasterizer
}

func (f *flakyRenderer) Rasterize(in mask.Input) (*mask.Raster, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		if f.panics {
			panic("pixmap allocation failed")
		}
		return nil, errors.New("pixmap allocation failed")
	}
	return f.next.Rasterize(in)
}

func TestRasterizationFailureDegradesToNoMask(t *testing.T) {
	for name, panics := range map[string]bool{"error": false, "panic": true} {
		t.Run(name, func(t *testing.T) {
			var logs bytes.Buffer
			s := NewSession("flaky", Options{
				Debounce:   time.Hour,
				Rasterizer: &flakyRenderer{failures: 1, panics: panics, next: mask.NewRasterizer()},
				Logger:     zerolog.New(&logs),
			})
			t.Cleanup(s.Close)
			loadImage(t, s, 64, 64)
			s.Resize(64, 0)

			_, err := s.BeginStroke(mask.ToolPaint, 6, mask.DisplayPoint{X: 20, Y: 20})
			require.NoError(t, err)
			var ev MaskEvent
			require.NotPanics(t, func() {
				_, ev, err = s.Mask(mask.EncodingBinary)
			})
			assert.ErrorIs(t, err, mask.ErrNoMask)
			assert.False(t, ev.HasMask)
			assert.False(t, s.State().HasMask)
			assert.Contains(t, logs.String(), "mask rasterization failed")

			s.EndStroke()
			_, err = s.BeginStroke(mask.ToolPaint, 6, mask.DisplayPoint{X: 40, Y: 40})
			require.NoError(t, err)
			_, ev, err = s.Mask(mask.EncodingBinary)
			require.NoError(t, err)
			assert.True(t, ev.HasMask)
			assert.Equal(t, 2, s.State().Strokes)
		})
	}
}
