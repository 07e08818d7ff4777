package editor

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/nodes"
)

// SelectionContext describes the custom node the toolbar is anchored to.
type SelectionContext struct {
	TargetNodePos  int
	TargetNodeKind nodes.Kind
	ScreenPosition ScreenPoint
}

// UpdateResult reports what an attribute command did.
type UpdateResult struct {
	// Applied is false when the target node no longer exists and the command was dropped.
	Applied bool
	// Pos is where the node was found.
	Pos int
	// Moved is true when the captured position was stale and the node had to be re-resolved.
	Moved bool
}

// ToolbarController anchors a single contextual toolbar to the custom node under the
// selection and applies attribute commands to that node. Commands target the node captured
// when the toolbar opened, even if edits moved it since.
type ToolbarController struct {
	s       *Session
	open    bool
	ctx     SelectionContext
	version int
	blockID string
}

// refreshLocked recomputes the target after a selection change. Opening on a new node
// replaces the previous toolbar.
func (t *ToolbarController) refreshLocked() {
	pos, block, ok := t.targetLocked()
	if !ok {
		t.closeLocked()
		return
	}
	if t.open && t.blockID == block.ID && t.ctx.TargetNodePos == pos && t.version == t.s.doc.Version() {
		return
	}
	t.open = true
	t.blockID = block.ID
	t.version = t.s.doc.Version()
	t.ctx = SelectionContext{
		TargetNodePos:  pos,
		TargetNodeKind: block.Kind(),
		ScreenPosition: t.coordsLocked(pos),
	}
}

// targetLocked walks the blocks overlapping the selection and returns the first custom node.
// A cursor targets a node only from inside its content.
func (t *ToolbarController) targetLocked() (int, Block, bool) {
	sel := t.s.sel
	start := 0
	for _, b := range t.s.doc.blocks {
		end := start + b.Size()
		overlaps := start < sel.To && end > sel.From
		if sel.Empty() {
			overlaps = start < sel.From && sel.From < end
		}
		if overlaps && b.Type == Custom {
			return start, b.clone(), true
		}
		start = end
	}
	return 0, Block{}, false
}

func (t *ToolbarController) coordsLocked(pos int) ScreenPoint {
	if t.s.positioner == nil {
		return ScreenPoint{}
	}
	point, ok := t.s.positioner.Coords(pos)
	if !ok {
		return ScreenPoint{}
	}
	return point
}

func (t *ToolbarController) closeLocked() {
	t.open = false
	t.blockID = ""
	t.ctx = SelectionContext{}
}

// Active returns the toolbar anchor when a toolbar is open.
func (t *ToolbarController) Active() (SelectionContext, bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.ctx, t.open
}

// Close hides the toolbar.
func (t *ToolbarController) Close() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.closeLocked()
}

// Attrs returns the current attributes of the target node.
func (t *ToolbarController) Attrs() (nodes.Attrs, bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.open {
		return nil, false
	}
	_, block, err := t.resolveLocked()
	if err != nil {
		return nil, false
	}
	return block.Attrs, true
}

// resolveLocked finds the captured node in the current document: first by mapping the
// captured position through later steps, then by identity. A StateConflict error means the
// node is gone.
func (t *ToolbarController) resolveLocked() (int, Block, error) {
	doc := t.s.doc
	pos, deleted := doc.MapSince(t.version, t.ctx.TargetNodePos, 1)
	if !deleted {
		if b, ok := doc.NodeAt(pos); ok && b.ID == t.blockID {
			return pos, b, nil
		}
	}
	if found, ok := doc.Find(t.blockID); ok {
		b, _ := doc.NodeAt(found)
		return found, b, nil
	}
	return 0, Block{}, errs.E(errs.StateConflict, "editor.toolbar",
		fmt.Sprintf("%s node captured at %d no longer exists", t.ctx.TargetNodeKind, t.ctx.TargetNodePos), nil)
}

// Update applies fn to the target node's attributes. When the node moved, the command
// follows it; when it was deleted, the command is dropped and the toolbar closes.
func (t *ToolbarController) Update(fn func(nodes.Attrs) (nodes.Attrs, error)) (UpdateResult, error) {
	s := t.s
	s.mu.Lock()
	if !t.open {
		s.mu.Unlock()
		return UpdateResult{}, nil
	}
	captured := t.ctx.TargetNodePos
	pos, block, err := t.resolveLocked()
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"kind": t.ctx.TargetNodeKind, "pos": captured}).Debug("toolbar command dropped")
		t.closeLocked()
		s.mu.Unlock()
		return UpdateResult{}, nil
	}

	next, err := fn(nodes.Clone(block.Attrs))
	if err != nil {
		s.mu.Unlock()
		return UpdateResult{}, err
	}
	if err := s.doc.SetAttrs(block.ID, next); err != nil {
		s.mu.Unlock()
		return UpdateResult{}, err
	}
	moved := pos != captured
	t.version = s.doc.Version()
	t.ctx.TargetNodePos = pos
	t.ctx.ScreenPosition = t.coordsLocked(pos)
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()

	return UpdateResult{Applied: true, Pos: pos, Moved: moved}, nil
}

// SetAttrs replaces the target node's attributes.
func (t *ToolbarController) SetAttrs(attrs nodes.Attrs) (UpdateResult, error) {
	return t.Update(func(nodes.Attrs) (nodes.Attrs, error) {
		return attrs, nil
	})
}
