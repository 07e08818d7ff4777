package editor

// StepMap records how one mutation moved positions: the OldSize positions starting at
// Start were replaced by NewSize positions.
type StepMap struct {
	Start   int
	OldSize int
	NewSize int
}

// Map moves pos across the step. assoc decides which side a position at an insertion point
// sticks to: negative keeps it before the inserted content, positive moves it after.
// deleted reports whether the position sat strictly inside replaced content.
func (m StepMap) Map(pos, assoc int) (mapped int, deleted bool) {
	end := m.Start + m.OldSize
	if pos < m.Start {
		return pos, false
	}
	if pos > end {
		return pos + m.NewSize - m.OldSize, false
	}
	side := assoc
	if m.OldSize > 0 {
		switch pos {
		case m.Start:
			side = -1
		case end:
			side = 1
		}
	}
	mapped = m.Start
	if side > 0 {
		mapped += m.NewSize
	}
	return mapped, pos > m.Start && pos < end
}

// TrackedRange is a range captured at a document version. It is mapped forward through
// every later step before use, so it keeps addressing the same content.
type TrackedRange struct {
	From    int
	To      int
	Version int
}

// Empty reports whether the range covers nothing.
func (r TrackedRange) Empty() bool {
	return r.From >= r.To
}
