// Package editor drives headless mask editing sessions: pointer input, undo,
// inversion and the debounced rasterization of the stroke model.
package editor

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"maskstudio/internal/mask"
)

// Renderer turns a stroke log into a raster at native resolution.
// *mask.Rasterizer is the production implementation.
type Renderer interface {
	Rasterize(in mask.Input) (*mask.Raster, error)
}

// Options configures a Session.
type Options struct {
	Debounce     time.Duration
	Mapper       mask.MapperOptions
	HistoryLimit int
	Preview      PreviewColors
	Rasterizer   Renderer
	Threshold    uint8
	Logger       zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Rasterizer == nil {
		o.Rasterizer = mask.NewRasterizer()
	}
	if o.Threshold == 0 {
		o.Threshold = mask.DefaultThreshold
	}
	if o.Preview == (PreviewColors{}) {
		o.Preview = DefaultPreviewColors
	}
	return o
}

// MaskEvent is published after every debounced rasterization and whenever
// the mask is dropped (clear, image switch).
type MaskEvent struct {
	Version  uint64 `json:"version"`
	HasMask  bool   `json:"has_mask"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Inverted bool   `json:"inverted"`
}

// State is a point-in-time view of a session for clients.
type State struct {
	ID          string           `json:"id"`
	HasImage    bool             `json:"has_image"`
	Native      mask.Size        `json:"native"`
	Display     mask.DisplaySize `json:"display"`
	Strokes     int              `json:"strokes"`
	Points      int              `json:"points"`
	Drawing     bool             `json:"drawing"`
	CanUndo     bool             `json:"can_undo"`
	Inverted    bool             `json:"inverted"`
	HasMask     bool             `json:"has_mask"`
	MaskPending bool             `json:"mask_pending"`
	Version     uint64           `json:"version"`
}

// Session is one headless editing session. Every mutation, schedule and
// render is serialized through mu; the debounce timer is the only
// asynchronous boundary and its callbacks re-enter through mu as well.
type Session struct {
	ID string

	mu         sync.Mutex
	opts       Options
	log        zerolog.Logger
	mapper     *mask.Mapper
	model      *mask.Model
	history    *mask.History
	surface    *Surface
	inverted   bool
	debounce   *Debouncer
	generation uint64
	version    uint64
	latest     *mask.Raster
	maskVer    uint64
	container  [2]float64
	lastUsed   time.Time
	closed     bool

	subs    map[int]chan MaskEvent
	nextSub int
}

// NewSession returns an empty session with no image loaded.
func NewSession(id string, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		ID:       id,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "editor").Str("session_id", id).Logger(),
		mapper:   mask.NewMapper(opts.Mapper),
		model:    mask.NewModel(),
		history:  mask.NewHistory(opts.HistoryLimit),
		debounce: NewDebouncer(opts.Debounce),
		lastUsed: time.Now(),
		subs:     make(map[int]chan MaskEvent),
	}
	s.surface = NewSurface(s.mapper, s.model, s.history, opts.Preview)
	return s
}

// LoadImage installs img as the source image. Any previous stroke model and
// history are discarded, a pending rasterization is cancelled and "no mask"
// is published so a result for the previous image can never surface.
func (s *Session) LoadImage(img image.Image) error {
	if img == nil {
		return mask.ErrInvalidSize
	}
	size := mask.SizeOf(img)
	mapper := mask.NewMapper(s.opts.Mapper)
	if err := mapper.SetNative(size); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.debounce.Cancel()
	s.generation++
	s.mapper = mapper
	if s.container[0] > 0 {
		s.mapper.Resize(s.container[0], s.container[1])
	}
	s.model.Reset()
	s.history.Reset()
	s.surface.load(img, mapper)
	s.dropMaskLocked()
	s.log.Debug().Int("width", size.Width).Int("height", size.Height).Msg("image loaded")
	return nil
}

// Resize recomputes the display size for a new container width and
// viewport height. Existing strokes keep the display space they were drawn
// in.
func (s *Session) Resize(containerWidth, viewportHeight float64) mask.DisplaySize {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if containerWidth > 0 {
		s.container = [2]float64{containerWidth, viewportHeight}
	}
	return s.mapper.Resize(containerWidth, viewportHeight)
}

// BeginStroke starts a stroke at p. It reports false when the press is
// ignored: no image loaded or a stroke already active.
func (s *Session) BeginStroke(tool mask.Tool, radius float64, p mask.DisplayPoint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	ok, err := s.surface.Begin(tool, radius, p)
	if errors.Is(err, ErrNoImage) {
		return false, nil
	}
	if err != nil || !ok {
		return false, err
	}
	s.scheduleLocked()
	return true, nil
}

// ExtendStroke appends p to the active stroke.
func (s *Session) ExtendStroke(p mask.DisplayPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if !s.surface.Extend(p) {
		return false
	}
	s.scheduleLocked()
	return true
}

// EndStroke releases the active stroke.
func (s *Session) EndStroke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.surface.End()
}

// Undo restores the model captured before the most recent stroke or clear.
// An active stroke is ended first. It reports false when there is nothing
// to undo. The inversion flag is not part of history.
func (s *Session) Undo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.surface.End()
	prev, ok := s.history.Pop()
	if !ok {
		return false, nil
	}
	s.model.Restore(prev)
	s.scheduleLocked()
	return true, nil
}

// Clear snapshots the model, empties it, resets inversion and publishes
// "no mask" immediately.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.surface.End()
	if err := s.history.Snapshot(s.model); err != nil {
		return err
	}
	s.model.Reset()
	s.inverted = false
	s.debounce.Cancel()
	s.version++
	s.dropMaskLocked()
	return nil
}

// ToggleInvert flips the inversion flag and schedules a re-rasterization.
// It returns the new flag.
func (s *Session) ToggleInvert() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.inverted = !s.inverted
	s.scheduleLocked()
	return s.inverted
}

// SetInverted sets the inversion flag, scheduling a re-rasterization when it
// changes.
func (s *Session) SetInverted(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.inverted != v {
		s.inverted = v
		s.scheduleLocked()
	}
	return s.inverted
}

// Mask returns the latest mask encoded as PNG with painted pixels on. It
// returns mask.ErrNoMask when there is nothing to submit.
func (s *Session) Mask(enc mask.Encoding) ([]byte, MaskEvent, error) {
	return s.MaskFor(enc, mask.EditOn)
}

// MaskFor returns the mask encoded for a provider that rewrites region.
// When the model changed since the last rasterization the mask is rendered
// synchronously, so the result reflects every mutation made so far even if
// the debounce timer already fired and is waiting for the lock.
func (s *Session) MaskFor(enc mask.Encoding, region mask.EditRegion) ([]byte, MaskEvent, error) {
	s.mu.Lock()
	if s.maskVer != s.version && !s.closed {
		s.debounce.Cancel()
		s.renderLocked()
	}
	raster, ev := s.latest, s.eventLocked()
	threshold := s.opts.Threshold
	s.touchLocked()
	s.mu.Unlock()

	if raster == nil {
		return nil, ev, mask.ErrNoMask
	}
	data, err := mask.EncodePNG(raster.EncodeFor(enc, region, threshold))
	if err != nil {
		return nil, ev, err
	}
	return data, ev, nil
}

// Preview renders the source at display size with the stroke overlay.
func (s *Session) Preview() ([]byte, error) {
	s.mu.Lock()
	img, err := s.surface.Render(s.inverted)
	s.touchLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return mask.EncodePNG(img)
}

// Source returns the loaded source image, or nil.
func (s *Session) Source() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Source()
}

// Strokes returns a copy of the stroke log.
func (s *Session) Strokes() []mask.Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mask.NewModel(s.model.Strokes()...).Strokes()
}

// State returns a snapshot of the session for clients.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:          s.ID,
		HasImage:    s.surface.Loaded(),
		Native:      s.mapper.Native(),
		Display:     s.mapper.Display(),
		Strokes:     s.model.Len(),
		Points:      s.model.PointCount(),
		Drawing:     s.surface.Drawing(),
		CanUndo:     s.history.CanUndo(),
		Inverted:    s.inverted,
		HasMask:     s.latest != nil,
		MaskPending: s.debounce.Pending(),
		Version:     s.version,
	}
}

// Subscribe registers for mask events. The returned function unsubscribes.
// Slow subscribers miss intermediate events; the latest state is always
// available through Mask.
func (s *Session) Subscribe() (<-chan MaskEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan MaskEvent, 8)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// LastUsed reports when the session was last touched.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Close cancels pending work and closes every subscriber channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.debounce.Cancel()
	s.generation++
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Session) scheduleLocked() {
	s.version++
	gen := s.generation
	s.debounce.Schedule(func() { s.rasterize(gen) })
}

func (s *Session) rasterize(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.closed || s.maskVer == s.version {
		return
	}
	s.renderLocked()
}

// renderLocked rasterizes the current model. A failing or panicking
// renderer degrades to "no mask"; the session stays usable.
func (s *Session) renderLocked() {
	scale, _ := s.mapper.Scale()
	raster, err := safeRasterize(s.opts.Rasterizer, mask.Input{
		Strokes:  s.model.Strokes(),
		Native:   s.mapper.Native(),
		Scale:    scale,
		Inverted: s.inverted,
	})
	switch {
	case errors.Is(err, mask.ErrNoMask):
		s.latest = nil
	case err != nil:
		s.log.Error().Err(err).Int("strokes", s.model.Len()).Msg("mask rasterization failed")
		s.latest = nil
	default:
		s.latest = raster
	}
	s.maskVer = s.version
	s.publishLocked(s.eventLocked())
}

func safeRasterize(r Renderer, in mask.Input) (raster *mask.Raster, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			raster, err = nil, fmt.Errorf("editor: rasterize panic: %v", rec)
		}
	}()
	return r.Rasterize(in)
}

func (s *Session) dropMaskLocked() {
	s.latest = nil
	s.maskVer = s.version
	s.publishLocked(s.eventLocked())
}

func (s *Session) eventLocked() MaskEvent {
	ev := MaskEvent{Version: s.maskVer, Inverted: s.inverted}
	if s.latest != nil {
		size := s.latest.Size()
		ev.HasMask = true
		ev.Width, ev.Height = size.Width, size.Height
	}
	return ev
}

func (s *Session) publishLocked(ev MaskEvent) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Session) touchLocked() {
	s.lastUsed = time.Now()
}
