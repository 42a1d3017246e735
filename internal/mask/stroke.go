package mask

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// Tool selects what a stroke does to the mask.
type Tool uint8

const (
	// ToolPaint marks a region as "to edit".
	ToolPaint Tool = iota
	// ToolErase paints with the background color over earlier paint.
	ToolErase
)

func (t Tool) String() string {
	switch t {
	case ToolErase:
		return "erase"
	default:
		return "paint"
	}
}

// ParseTool accepts "paint"/"brush" and "erase"/"eraser".
func ParseTool(s string) (Tool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "paint", "brush":
		return ToolPaint, nil
	case "erase", "eraser":
		return ToolErase, nil
	default:
		return ToolPaint, fmt.Errorf("mask: unknown tool %q", s)
	}
}

func (t Tool) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tool) UnmarshalText(b []byte) error {
	parsed, err := ParseTool(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Stroke is one continuous gesture from press to release. Points are in
// display space and only grow while the stroke is active.
//
// Display records the surface size the stroke was drawn on, when known, so
// a later container resize never reinterprets its points in a different
// display space.
type Stroke struct {
	ID      string         `json:"id"`
	Tool    Tool           `json:"tool"`
	Radius  float64        `json:"radius"`
	Points  []DisplayPoint `json:"points"`
	Display DisplaySize    `json:"display,omitzero"`
}

// NewStroke starts a stroke with a single point. The ID is a time-ordered
// UUID and only serves re-rendering.
func NewStroke(tool Tool, radius float64, p DisplayPoint) Stroke {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Stroke{ID: id.String(), Tool: tool, Radius: radius, Points: []DisplayPoint{p}}
}

// NativeScale returns the display-to-native scale for this stroke: derived
// from its recorded display size when present, otherwise fallback.
func (s Stroke) NativeScale(native Size, fallback Scale) Scale {
	if s.Display.Width <= 0 || s.Display.Height <= 0 || native.Empty() {
		return fallback
	}
	return Scale{
		X: float64(native.Width) / s.Display.Width,
		Y: float64(native.Height) / s.Display.Height,
	}
}

// Dab reports whether the stroke renders as a filled disk.
func (s Stroke) Dab() bool {
	return len(s.Points) == 1
}

// Model is the ordered, append-only stroke log of an editing session. Later
// strokes composite over earlier ones.
type Model struct {
	strokes []Stroke
}

// NewModel builds a model from existing strokes, copying them.
func NewModel(strokes ...Stroke) *Model {
	m := &Model{}
	for _, s := range strokes {
		m.strokes = append(m.strokes, Stroke{
			ID:      s.ID,
			Tool:    s.Tool,
			Radius:  s.Radius,
			Points:  append([]DisplayPoint(nil), s.Points...),
			Display: s.Display,
		})
	}
	return m
}

// Len returns the number of strokes.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.strokes)
}

// Strokes exposes the stroke log for read-only replay. Callers must not
// mutate the returned slice.
func (m *Model) Strokes() []Stroke {
	if m == nil {
		return nil
	}
	return m.strokes
}

// Append adds a new stroke at the end of the log.
func (m *Model) Append(s Stroke) {
	m.strokes = append(m.strokes, s)
}

// ExtendLast appends p to the most recent stroke in amortized O(1). It
// returns false when the model is empty.
func (m *Model) ExtendLast(p DisplayPoint) bool {
	if len(m.strokes) == 0 {
		return false
	}
	last := &m.strokes[len(m.strokes)-1]
	last.Points = append(last.Points, p)
	return true
}

// Reset empties the model.
func (m *Model) Reset() {
	m.strokes = nil
}

// Restore replaces the strokes of m with those of snapshot. The snapshot
// must not be used afterwards.
func (m *Model) Restore(snapshot *Model) {
	if snapshot == nil {
		m.strokes = nil
		return
	}
	m.strokes = snapshot.strokes
}

// Clone returns a deep copy sharing no point storage with m.
func (m *Model) Clone() (*Model, error) {
	out := &Model{}
	if m.Len() == 0 {
		return out, nil
	}
	if err := copier.CopyWithOption(&out.strokes, &m.strokes, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("mask: clone strokes: %w", err)
	}
	return out, nil
}

// PointCount sums the points across all strokes.
func (m *Model) PointCount() int {
	n := 0
	for _, s := range m.Strokes() {
		n += len(s.Points)
	}
	return n
}
