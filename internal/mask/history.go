package mask

// History is a linear undo stack of stroke model snapshots. The top is the
// state right before the most recent mutation. There is no redo.
type History struct {
	snapshots []*Model
	limit     int
}

// NewHistory returns a stack keeping at most limit snapshots; limit <= 0
// means unbounded.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Snapshot pushes a deep copy of m. It must be called before m changes.
func (h *History) Snapshot(m *Model) error {
	c, err := m.Clone()
	if err != nil {
		return err
	}
	h.snapshots = append(h.snapshots, c)
	if h.limit > 0 && len(h.snapshots) > h.limit {
		h.snapshots = append(h.snapshots[:0], h.snapshots[len(h.snapshots)-h.limit:]...)
	}
	return nil
}

// Pop removes and returns the most recent snapshot. ok is false when the
// stack is empty.
func (h *History) Pop() (m *Model, ok bool) {
	if len(h.snapshots) == 0 {
		return nil, false
	}
	last := len(h.snapshots) - 1
	m = h.snapshots[last]
	h.snapshots[last] = nil
	h.snapshots = h.snapshots[:last]
	return m, true
}

// CanUndo reports whether Pop would return a snapshot.
func (h *History) CanUndo() bool {
	return len(h.snapshots) > 0
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	return len(h.snapshots)
}

// Reset drops every snapshot.
func (h *History) Reset() {
	h.snapshots = nil
}
