package usage

import (
	"context"
	"time"

	"maskstudio/internal/middleware"
	"maskstudio/internal/providers/image"
)

type sessionKey struct{}

// WithSession tags provider calls made with ctx with an editing session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Instrumented records a usage event for every call of the wrapped provider.
type Instrumented struct {
	next image.Provider
	rec  Recorder
	now  func() time.Time
}

// Instrument wraps p so each call is recorded through rec.
func Instrument(p image.Provider, rec Recorder) *Instrumented {
	if rec == nil {
		rec = Nop{}
	}
	return &Instrumented{next: p, rec: rec, now: time.Now}
}

func (i *Instrumented) Name() string {
	return i.next.Name()
}

// Generate fulfils the Generator interface.
func (i *Instrumented) Generate(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
	start := i.now()
	assets, err := i.next.Generate(ctx, req)
	i.record(ctx, string(image.OperationGenerate), req.Model, start, assets, err)
	return assets, err
}

// Edit fulfils the Editor interface.
func (i *Instrumented) Edit(ctx context.Context, req image.EditRequest) ([]image.Asset, error) {
	start := i.now()
	assets, err := i.next.Edit(ctx, req)
	props := map[string]any{"masked": req.Mask != nil}
	if req.Image.Width > 0 {
		props["width"], props["height"] = req.Image.Width, req.Image.Height
	}
	i.recordWith(ctx, string(image.OperationEdit), req.Model, start, assets, err, props)
	return assets, err
}

func (i *Instrumented) record(ctx context.Context, op, model string, start time.Time, assets []image.Asset, err error) {
	i.recordWith(ctx, op, model, start, assets, err, nil)
}

func (i *Instrumented) recordWith(ctx context.Context, op, model string, start time.Time, assets []image.Asset, err error, props map[string]any) {
	if err != nil {
		if props == nil {
			props = map[string]any{}
		}
		props["error"] = err.Error()
	}
	_ = i.rec.Record(ctx, Event{
		RequestID:  middleware.RequestIDFromContext(ctx),
		SessionID:  sessionFrom(ctx),
		Provider:   i.next.Name(),
		Model:      model,
		Operation:  op,
		Success:    err == nil,
		Latency:    i.now().Sub(start),
		Images:     len(assets),
		Properties: props,
	})
}

var _ image.Provider = (*Instrumented)(nil)
